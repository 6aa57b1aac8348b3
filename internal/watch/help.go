package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// renderHelp renders the help overlay as markdown with the given glamour
// style ("dark", "light", "notty", ...).
func renderHelp(keys KeyMap, socket string, width int, style string) (string, error) {
	if width < 20 {
		width = 20
	}

	var b strings.Builder
	b.WriteString("# lirc-watch\n\n")
	fmt.Fprintf(&b, "Shows button presses decoded from the lircd socket at `%s`.\n\n", socket)
	b.WriteString("| Key | Action |\n|-----|--------|\n")
	for _, group := range keys.FullHelp() {
		for _, k := range group {
			h := k.Help()
			fmt.Fprintf(&b, "| `%s` | %s |\n", h.Key, h.Desc)
		}
	}
	b.WriteString("\nA repeat count above zero means the button is being held down.\n")

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating help renderer: %w", err)
	}
	return r.Render(b.String())
}
