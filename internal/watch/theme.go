package watch

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorFlash   = lipgloss.Color("#f59e0b")
)

// Remote colors, assigned by hashing the remote name.
var remotePalette = []lipgloss.Color{
	lipgloss.Color("#a855f7"),
	lipgloss.Color("#3b82f6"),
	lipgloss.Color("#06b6d4"),
	lipgloss.Color("#22c55e"),
	lipgloss.Color("#4285f4"),
	lipgloss.Color("#10b981"),
	lipgloss.Color("#e879f9"),
}

// RemoteColor returns a stable color for a remote control name.
func RemoteColor(remote string) lipgloss.Color {
	if remote == "" {
		return ColorDimmed
	}
	h := fnv.New32a()
	h.Write([]byte(remote))
	return remotePalette[h.Sum32()%uint32(len(remotePalette))]
}

// Reusable styles.
var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleRepeat = lipgloss.NewStyle().
			Foreground(ColorWarning)
)

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)
}
