package watch

import (
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
)

const (
	fps = 60

	// Below this the bar is considered settled.
	settleEpsilon = 0.01
)

// frameMsg advances the flash animation by one frame.
type frameMsg struct{}

func frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg {
		return frameMsg{}
	})
}

// Flash is a bar that jumps to full width on every press and springs back
// to empty.
type Flash struct {
	spring   harmonica.Spring
	pos      float64
	velocity float64
	label    string
}

func NewFlash() Flash {
	return Flash{
		spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.7),
	}
}

// Trigger kicks the bar to full width. It reports whether the animation
// was idle, in which case the caller must start the frame loop.
func (f *Flash) Trigger(label string) bool {
	idle := !f.Active()
	f.pos = 1
	f.velocity = 0
	f.label = label
	return idle
}

// Step advances the spring by one frame.
func (f *Flash) Step() {
	f.pos, f.velocity = f.spring.Update(f.pos, f.velocity, 0)
	if !f.Active() {
		f.pos = 0
		f.velocity = 0
	}
}

// Active reports whether the bar is still moving.
func (f Flash) Active() bool {
	return math.Abs(f.pos) > settleEpsilon || math.Abs(f.velocity) > settleEpsilon
}

// View renders exactly width cells, so the layout does not shift between
// frames. While the bar moves, the label of the last press sits at the
// right edge and the bar scales within the space left of it.
func (f Flash) View(width int) string {
	if width < 10 {
		width = 10
	}
	label := ""
	if f.Active() && f.label != "" {
		label = " " + truncate(f.label, width/2)
	}
	barWidth := width - lipgloss.Width(label)

	n := int(math.Round(math.Max(0, math.Min(1, f.pos)) * float64(barWidth)))
	line := lipgloss.NewStyle().Foreground(ColorFlash).Render(strings.Repeat("█", n)) +
		strings.Repeat(" ", barWidth-n)
	if label != "" {
		line += StyleHeader.Render(label)
	}
	return line
}
