// Package ui implements the terminal surface of the pairsync CLI:
// adaptive styling, the interactive matching prompts, and the rendered
// check report and run summary.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Ayu palette, adaptive between light and dark terminals.
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	// HeaderStyle renders section headers.
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

	// BoxStyle frames the run summary.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
)

// IsTerminal reports whether stdout is an interactive terminal. Piped
// output gets plain text instead of ANSI styling.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the usable output width, capped at 100 columns for
// readability, with an 80 column fallback for non-terminals.
func Width() int {
	const maxReadable = 100
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	if w > maxReadable {
		return maxReadable
	}
	return w
}
