// Package watch is a terminal viewer that shows button presses as the
// bridge delivers them.
package watch

import (
	"context"
	"time"

	"github.com/caprica/lircj/pkg/lirc"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Source is the part of *lirc.Bridge the viewer watches.
type Source interface {
	SocketPath() string
	State() lirc.State
	Done() <-chan struct{}
	Err() error
}

type eventMsg struct {
	event lirc.Event
	at    time.Time
}

type stoppedMsg struct {
	err error
}

// statusTickMsg refreshes the status bar from the source.
type statusTickMsg struct{}

const statusRefresh = time.Second

func statusTick() tea.Cmd {
	return tea.Tick(statusRefresh, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

// Model is the root Bubble Tea model.
type Model struct {
	source Source
	events <-chan lirc.Event
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	help   help.Model
	width  int
	height int

	history  History
	flash    Flash
	status   Status
	showHelp bool

	// glamour style for the help overlay.
	helpStyle string
	now       func() time.Time
}

// New creates the root model reading presses from events, typically the
// channel returned by Bridge.Subscribe.
func New(source Source, events <-chan lirc.Event) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		source: source,
		events: events,
		ctx:    ctx,
		cancel: cancel,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		flash:  NewFlash(),
		status: Status{
			Socket: source.SocketPath(),
			State:  source.State(),
		},
		helpStyle: "dark",
		now:       time.Now,
	}
}

// Init starts waiting for presses and for the bridge to stop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.waitForStop(), statusTick())
}

func (m Model) waitForEvent() tea.Cmd {
	ctx, events, now := m.ctx, m.events, m.now
	return func() tea.Msg {
		select {
		case e := <-events:
			return eventMsg{event: e, at: now()}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) waitForStop() tea.Cmd {
	ctx, source := m.ctx, m.source
	return func() tea.Msg {
		select {
		case <-source.Done():
			return stoppedMsg{err: source.Err()}
		case <-ctx.Done():
			return nil
		}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.status.Width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.history.Add(Press{Time: msg.at, Event: msg.event})
		m.status.Events++
		m.status.State = m.source.State()
		cmds := []tea.Cmd{m.waitForEvent()}
		if m.flash.Trigger(msg.event.Button) {
			cmds = append(cmds, frame())
		}
		return m, tea.Batch(cmds...)

	case stoppedMsg:
		m.status.State = lirc.StateStopped
		m.status.Err = msg.err
		return m, nil

	case statusTickMsg:
		m.status.State = m.source.State()
		if m.status.State != lirc.StateRunning {
			m.status.Err = m.source.Err()
		} else {
			m.status.Err = nil
		}
		return m, statusTick()

	case frameMsg:
		m.flash.Step()
		if m.flash.Active() {
			return m, frame()
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.showHelp {
		if key.Matches(msg, m.keys.Escape) || key.Matches(msg, m.keys.Help) {
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Clear):
		m.history.Clear()
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	}

	return m, nil
}

// View renders the full viewer.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	statusBar := m.status.View()
	footer := m.help.View(m.keys)
	flash := m.flash.View(m.width - 2)

	bodyHeight := m.height - lipgloss.Height(statusBar) - lipgloss.Height(footer) - 3
	var body string
	if m.showHelp {
		body = m.helpView()
	} else {
		body = m.history.View(m.width, bodyHeight)
	}

	return lipgloss.JoinVertical(lipgloss.Left, statusBar, flash, body, footer)
}

func (m Model) helpView() string {
	out, err := renderHelp(m.keys, m.status.Socket, m.width-4, m.helpStyle)
	if err != nil {
		return lipgloss.NewStyle().Foreground(ColorDanger).Render(err.Error())
	}
	return out
}
