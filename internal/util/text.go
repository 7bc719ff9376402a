// Package util holds small text helpers for terminal output.
package util

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

const ellipsis = "…"

// Clip shortens s to at most width visible columns, keeping any styling
// escape sequences intact. A width of zero or less leaves s unchanged.
func Clip(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	if width <= lipgloss.Width(ellipsis) {
		return ellipsis
	}
	return ansi.Truncate(s, width, ellipsis)
}

// TerminalWidth reports the column count of w when it is a terminal, or 0.
func TerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
