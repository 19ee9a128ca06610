package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// theme centralizes terminal styling. With color disabled every style is
// empty and renders text unchanged.
type theme struct {
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Failed lipgloss.Style
	Key    lipgloss.Style
	Dim    lipgloss.Style
	Title  lipgloss.Style
}

func newTheme(color bool) theme {
	if !color {
		return theme{}
	}
	return theme{
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Failed: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000")),
		Key:    lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#874BFD")).
			Padding(0, 1),
	}
}

// plainTheme is used before settings are loaded.
var plainTheme = newTheme(false)

func (t theme) failure(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, t.Failed.Render("Error:")+" "+fmt.Sprintf(format, args...))
}

// field prints an aligned "key: value" line.
func (t theme) field(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "%s %v\n", t.Key.Render(fmt.Sprintf("%-14s", key+":")), value)
}
