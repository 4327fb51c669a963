package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Palette holds the colors used by the console output.
type Palette struct {
	Title  *color.Color
	Border *color.Color
	Label  *color.Color
	Value  *color.Color
	Good   *color.Color
	Warn   *color.Color
	Bad    *color.Color
	Dim    *color.Color
	Accent *color.Color
}

// NewPalette returns the default palette. With enabled false every color
// prints plain text, whatever the terminal supports.
func NewPalette(enabled bool) *Palette {
	p := &Palette{
		Title:  color.New(color.Bold),
		Border: color.New(color.FgCyan),
		Label:  color.New(color.FgWhite),
		Value:  color.New(color.FgCyan),
		Good:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Bad:    color.New(color.FgRed, color.Bold),
		Dim:    color.New(color.Faint),
		Accent: color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.Title, p.Border, p.Label, p.Value, p.Good, p.Warn, p.Bad, p.Dim, p.Accent} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Rate picks a color for an error rate: green under 1%, yellow under 5%,
// red otherwise.
func (p *Palette) Rate(r float64) *color.Color {
	switch {
	case r > 0.05:
		return p.Bad
	case r > 0.01:
		return p.Warn
	default:
		return p.Good
	}
}

// PassIcon returns a check mark or a cross.
func (p *Palette) PassIcon(passed bool) string {
	if passed {
		return p.Good.Sprint("✓")
	}
	return p.Bad.Sprint("✗")
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SupportsColor reports whether colored output should be used on w.
// NO_COLOR disables colors and FORCE_COLOR enables them.
func SupportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !IsTerminal(w) {
		return false
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
