// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux styles terminal output for the rulesagent CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette, deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Prompt  lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Answer  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Prompt:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Answer: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// AnswerWidth is the word-wrap width of rendered answers.
const AnswerWidth = 100

// Icons.
const (
	IconBall    = "⚽"
	IconWarning = "⚠"
	IconError   = "✗"
	IconArrow   = "→"
)

// Printer writes CLI output, styled on a terminal and plain otherwise.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a Printer for w. Styling is enabled when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: IsTerminal(w)}
}

// NewPlainPrinter returns a Printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Banner prints the REPL header.
func (p *Printer) Banner(url string) {
	if !p.styled {
		fmt.Fprintf(p.w, "Connected to %s\n", url)
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(IconBall+" Football rules assistant"))
	fmt.Fprintln(p.w, Styles.Muted.Render("Connected to "+url+". Ctrl-D to quit."))
}

// PromptString is the REPL input prompt.
func (p *Printer) PromptString() string {
	if !p.styled {
		return "> "
	}
	return Styles.Prompt.Render(IconArrow) + " "
}

// Prompt writes the input prompt without a newline.
func (p *Printer) Prompt() {
	fmt.Fprint(p.w, p.PromptString())
}

// Answer prints a reply from the agent. Fixed notices such as a missing
// context are shown as warnings when notice is true.
func (p *Printer) Answer(text string, notice bool) {
	text = strings.TrimRight(text, "\n")
	switch {
	case !p.styled:
		fmt.Fprintln(p.w, text)
	case notice:
		fmt.Fprintln(p.w, Styles.Warning.Render(IconWarning+" "+text))
	default:
		fmt.Fprintln(p.w, renderMarkdown(text))
	}
}

// renderMarkdown renders an answer with glamour, falling back to the
// bordered answer box if rendering fails.
func renderMarkdown(text string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(AnswerWidth),
	)
	if err != nil {
		return Styles.Answer.Render(text)
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return Styles.Answer.Render(text)
	}
	return strings.Trim(rendered, "\n")
}

// Error prints an error line.
func (p *Printer) Error(err error) {
	if !p.styled {
		fmt.Fprintf(p.w, "error: %v\n", err)
		return
	}
	fmt.Fprintln(p.w, Styles.Error.Render(IconError+" "+err.Error()))
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
