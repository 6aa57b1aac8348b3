package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/caprica/lircj/pkg/lirc"
	"github.com/charmbracelet/lipgloss"
)

const maxEntries = 200

// Press is one received button event.
type Press struct {
	Time  time.Time
	Event lirc.Event
}

// History holds the most recent presses, oldest first.
type History struct {
	Entries []Press
}

// Add appends a press and caps the buffer.
func (h *History) Add(p Press) {
	h.Entries = append(h.Entries, p)
	if len(h.Entries) > maxEntries {
		h.Entries = h.Entries[len(h.Entries)-maxEntries:]
	}
}

func (h *History) Clear() {
	h.Entries = nil
}

// View renders the newest presses that fit in height lines, newest last.
func (h History) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visible := height - 3
	if visible < 1 {
		visible = 1
	}

	title := StyleHeader.Render(" BUTTON PRESSES ")
	if len(h.Entries) == 0 {
		body := StyleDimmed.Render("  Waiting for button presses...")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
	}

	start := len(h.Entries) - visible
	if start < 0 {
		start = 0
	}

	lines := make([]string, 0, len(h.Entries)-start)
	for _, p := range h.Entries[start:] {
		lines = append(lines, renderPress(p, innerW))
	}

	return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")))
}

func renderPress(p Press, width int) string {
	ts := StyleDimmed.Render(p.Time.Format("15:04:05.000"))
	remote := lipgloss.NewStyle().Foreground(RemoteColor(p.Event.Remote)).Width(12).Render(truncate(p.Event.Remote, 12))

	button := truncate(p.Event.Button, width-40)
	line := fmt.Sprintf("%s  %s  %s", ts, remote, StyleHeader.Render(button))
	if p.Event.Repeat > 0 {
		line += "  " + StyleRepeat.Render(fmt.Sprintf("x%d", p.Event.Repeat))
	}
	return line
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
