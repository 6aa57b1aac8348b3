package watch

import (
	"fmt"

	"github.com/caprica/lircj/pkg/lirc"
	"github.com/charmbracelet/lipgloss"
)

// Status holds the status bar state.
type Status struct {
	Socket string
	State  lirc.State
	Err    error
	Events int
	Width  int
}

// View renders the status bar.
func (s Status) View() string {
	width := s.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case s.State == lirc.StateRunning:
		connStr = lipgloss.NewStyle().Foreground(ColorHealthy).Render("● Connected")
	case s.Err != nil:
		connStr = lipgloss.NewStyle().Foreground(ColorDanger).Render("○ Disconnected: " + s.Err.Error())
	default:
		connStr = lipgloss.NewStyle().Foreground(ColorWarning).Render("○ Stopped")
	}

	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")
	content := connStr + sep + StyleDimmed.Render(s.Socket) + sep + fmt.Sprintf("%d events", s.Events)

	return lipgloss.NewStyle().
		Width(width-2).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder).
		Render(content)
}
