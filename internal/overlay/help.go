package overlay

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/WindowPeek/internal/config"
)

// HelpText lists the overlay gestures and chords for the given key map.
func HelpText(k config.KeyConfig) string {
	var b strings.Builder
	b.WriteString("Drag the control square in the top-left corner of the overlay:\n")
	rows := [][2]string{
		{"drag", "move the overlay"},
		{"Ctrl + drag", "resize"},
		{"Alt + drag", "trim the source (right/down trims the left/top edge)"},
		{upper(k.Opacity) + " + drag", "opacity (drag up for more opaque)"},
		{upper(k.Reset) + " + click", "reset crop to the whole window"},
		{upper(k.Reselect) + " + click", "mirror another window"},
		{upper(k.Help) + " + click", "show this help"},
		{upper(k.Close) + " + click", "close the overlay"},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-14s %s\n", r[0], r[1])
	}
	return b.String()
}

// HeaderHint is the short key reminder drawn next to the source label.
func HeaderHint(k config.KeyConfig) string {
	return fmt.Sprintf("%s: help", upper(k.Help))
}

func upper(s string) string {
	return strings.ToUpper(s)
}
