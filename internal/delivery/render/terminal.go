// Package render draws the overlay outside the process: a boxed view on a
// terminal and a WebSocket feed for a browser or desktop shell.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/dictum/internal/delivery"
)

// Theme is the terminal colour scheme.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is a bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// TerminalOption configures a [Terminal].
type TerminalOption func(*Terminal)

// WithTheme sets the colours.
func WithTheme(t Theme) TerminalOption {
	return func(r *Terminal) { r.theme = t }
}

// WithColumns sets the box width in terminal cells. Default: 60.
func WithColumns(n int) TerminalOption {
	return func(r *Terminal) {
		if n > 4 {
			r.columns = n
		}
	}
}

// Terminal prints the overlay as a rounded box whenever its text or
// visibility changes. Status-only changes print one dim line.
type Terminal struct {
	w       io.Writer
	theme   Theme
	columns int

	box    lipgloss.Style
	status lipgloss.Style

	lastText    string
	lastVisible bool
	lastStatus  string
}

var _ delivery.Renderer = (*Terminal)(nil)

// NewTerminal creates a terminal renderer writing to w.
func NewTerminal(w io.Writer, opts ...TerminalOption) *Terminal {
	r := &Terminal{w: w, theme: DefaultTheme, columns: 60}
	for _, o := range opts {
		o(r)
	}
	r.box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(r.theme.Primary).
		Padding(0, 1).
		Width(r.columns - 2)
	r.status = lipgloss.NewStyle().Foreground(r.theme.Dim)
	return r
}

// Render implements [delivery.Renderer].
func (r *Terminal) Render(fr delivery.Frame) {
	ov := fr.Overlay
	changed := ov.Text != r.lastText || ov.Visible != r.lastVisible
	r.lastText, r.lastVisible = ov.Text, ov.Visible

	switch {
	case changed && ov.Visible:
		fmt.Fprintln(r.w, r.View(fr))
	case changed:
		fmt.Fprintln(r.w, r.status.Render("(overlay hidden)"))
	case fr.Status != r.lastStatus && fr.Status != "":
		fmt.Fprintln(r.w, r.status.Render(fr.Status))
	}
	r.lastStatus = fr.Status
}

// View returns the rendered box for fr without writing it.
func (r *Terminal) View(fr delivery.Frame) string {
	text := strings.TrimRight(fr.Overlay.Text, "\n ")
	if text == "" {
		text = " "
	}
	out := r.box.Render(text)
	if fr.Status != "" {
		out += "\n" + r.status.Render(fr.Status)
	}
	return out
}
