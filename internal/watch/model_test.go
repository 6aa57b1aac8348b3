package watch

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/caprica/lircj/pkg/lirc"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeSource struct {
	state lirc.State
	done  chan struct{}
	err   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{state: lirc.StateRunning, done: make(chan struct{})}
}

func (f *fakeSource) SocketPath() string    { return "/run/lirc/lircd" }
func (f *fakeSource) State() lirc.State     { return f.state }
func (f *fakeSource) Done() <-chan struct{} { return f.done }
func (f *fakeSource) Err() error            { return f.err }

func newTestModel(t *testing.T) (Model, *fakeSource, chan lirc.Event) {
	t.Helper()
	src := newFakeSource()
	events := make(chan lirc.Event, 4)
	m := New(src, events)
	m.helpStyle = "notty"
	t.Cleanup(m.cancel)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model), src, events
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestInitialView(t *testing.T) {
	m := New(newFakeSource(), nil)
	defer m.cancel()
	if v := m.View(); v != "Initializing..." {
		t.Errorf("View() before size = %q", v)
	}

	m, _, _ = newTestModel(t)
	v := m.View()
	for _, want := range []string{"Connected", "/run/lirc/lircd", "0 events", "Waiting for button presses"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestWaitForEventDeliversPress(t *testing.T) {
	m, _, events := newTestModel(t)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	events <- lirc.Event{Button: "KEY_POWER", Remote: "tv", Repeat: 0}
	msg := m.waitForEvent()()

	em, ok := msg.(eventMsg)
	if !ok {
		t.Fatalf("waitForEvent returned %T, want eventMsg", msg)
	}
	if em.event.Button != "KEY_POWER" || !em.at.Equal(fixed) {
		t.Errorf("eventMsg = %+v", em)
	}
}

func TestWaitForEventStopsOnCancel(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.cancel()
	if msg := m.waitForEvent()(); msg != nil {
		t.Errorf("waitForEvent after cancel = %v, want nil", msg)
	}
}

func TestEventUpdatesHistory(t *testing.T) {
	m, _, _ := newTestModel(t)

	updated, cmd := m.Update(eventMsg{event: lirc.Event{Button: "KEY_UP", Remote: "tv", Repeat: 2}, at: time.Now()})
	m = updated.(Model)

	if cmd == nil {
		t.Fatal("event should schedule the next wait")
	}
	if len(m.history.Entries) != 1 || m.status.Events != 1 {
		t.Fatalf("history = %d entries, events = %d", len(m.history.Entries), m.status.Events)
	}
	if !m.flash.Active() {
		t.Error("flash should be active after a press")
	}

	v := m.View()
	for _, want := range []string{"KEY_UP", "tv", "x2", "1 events"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestStoppedShowsError(t *testing.T) {
	m, _, _ := newTestModel(t)

	updated, _ := m.Update(stoppedMsg{err: errors.New("lircd hung up")})
	m = updated.(Model)

	if m.status.State != lirc.StateStopped {
		t.Errorf("State = %v, want stopped", m.status.State)
	}
	if v := m.View(); !strings.Contains(v, "lircd hung up") {
		t.Errorf("view missing stop error:\n%s", v)
	}
}

func TestWaitForStop(t *testing.T) {
	m, src, _ := newTestModel(t)
	src.err = lirc.ErrEndOfStream
	close(src.done)

	msg, ok := m.waitForStop()().(stoppedMsg)
	if !ok || !errors.Is(msg.err, lirc.ErrEndOfStream) {
		t.Errorf("waitForStop = %#v", msg)
	}
}

func TestQuitKey(t *testing.T) {
	m, _, _ := newTestModel(t)

	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if m.ctx.Err() == nil {
		t.Error("quit should cancel the model context")
	}
}

func TestClearKey(t *testing.T) {
	m, _, _ := newTestModel(t)
	updated, _ := m.Update(eventMsg{event: lirc.Event{Button: "KEY_1", Remote: "tv"}, at: time.Now()})
	updated, _ = updated.Update(runes("c"))
	m = updated.(Model)

	if len(m.history.Entries) != 0 {
		t.Errorf("history has %d entries after clear", len(m.history.Entries))
	}
	if m.status.Events != 1 {
		t.Errorf("event count = %d, clear should keep it", m.status.Events)
	}
}

func TestHelpOverlay(t *testing.T) {
	m, _, _ := newTestModel(t)

	updated, _ := m.Update(runes("?"))
	m = updated.(Model)
	if !m.showHelp {
		t.Fatal("? should open help")
	}
	v := m.View()
	if !strings.Contains(v, "lirc-watch") || !strings.Contains(v, "clear history") {
		t.Errorf("help view:\n%s", v)
	}

	// Keys other than esc, ? and q are ignored while help is open.
	updated, _ = m.Update(runes("c"))
	m = updated.(Model)
	if !m.showHelp {
		t.Fatal("c should not close help")
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	if m.showHelp {
		t.Error("esc should close help")
	}
}

func TestFrameLoop(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.flash.Trigger("KEY_OK")

	var cmd tea.Cmd
	for i := 0; i < 10*fps; i++ {
		var updated tea.Model
		updated, cmd = m.Update(frameMsg{})
		m = updated.(Model)
		if cmd == nil {
			break
		}
	}
	if cmd != nil || m.flash.Active() {
		t.Error("flash should settle and stop requesting frames")
	}
}

func TestStatusTickFollowsSource(t *testing.T) {
	m, src, _ := newTestModel(t)

	src.state = lirc.StateStopped
	src.err = errors.New("dial refused")
	updated, cmd := m.Update(statusTickMsg{})
	m = updated.(Model)

	if cmd == nil {
		t.Error("status tick should reschedule itself")
	}
	if m.status.State != lirc.StateStopped || m.status.Err == nil {
		t.Fatalf("status = %+v", m.status)
	}

	src.state = lirc.StateRunning
	updated, _ = m.Update(statusTickMsg{})
	m = updated.(Model)
	if m.status.State != lirc.StateRunning || m.status.Err != nil {
		t.Errorf("status after reconnect = %+v", m.status)
	}
}
