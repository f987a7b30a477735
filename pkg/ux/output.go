// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the changegraph CLI.
//
// A Printer styles output with lipgloss when it writes to a terminal and
// falls back to plain, tab-separated text otherwise, so piped output stays
// machine-readable.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette: deep ocean teals and arctic waters.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconAdd     Icon = "+"
	IconRemove  Icon = "-"
	IconChange  Icon = "~"
	IconArrow   Icon = "→"
)

func (i Icon) style() lipgloss.Style {
	switch i {
	case IconSuccess, IconAdd:
		return Styles.Success
	case IconWarning, IconChange:
		return Styles.Warning
	case IconError, IconRemove:
		return Styles.Error
	default:
		return Styles.Muted
	}
}

// Printer writes styled or plain output.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer for f that styles output only when f is a
// terminal.
func NewPrinter(f *os.File) *Printer {
	fd := f.Fd()
	return &Printer{w: f, color: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}
}

// NewPlainPrinter returns a Printer that never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Styled reports whether output is styled.
func (p *Printer) Styled() bool { return p.color }

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Title prints a heading. Plain output omits it.
func (p *Printer) Title(text string) {
	if !p.color {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if !p.color {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.render(IconSuccess.style(), string(IconSuccess)), Styles.Success.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if !p.color {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.render(IconError.style(), string(IconError)), Styles.Error.Render(text))
}

// Field prints one "key value" line.
func (p *Printer) Field(key, value string) {
	if !p.color {
		fmt.Fprintf(p.w, "%s\t%s\n", key, value)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render(fmt.Sprintf("%-16s", key)), value)
}

// Item prints one line prefixed by icon, with optional muted detail.
func (p *Printer) Item(icon Icon, text, detail string) {
	if !p.color {
		if detail == "" {
			fmt.Fprintf(p.w, "%s\t%s\n", icon, text)
		} else {
			fmt.Fprintf(p.w, "%s\t%s\t%s\n", icon, text, detail)
		}
		return
	}
	line := p.render(icon.style(), string(icon)) + " " + text
	if detail != "" {
		line += " " + Styles.Muted.Render("("+detail+")")
	}
	fmt.Fprintln(p.w, line)
}

// Box prints content in a rounded box under title. Plain output prints the
// title followed by the content.
func (p *Printer) Box(title, content string) {
	if !p.color {
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// Counts prints a summary line of labelled counts.
func (p *Printer) Counts(labels []string, counts []int) {
	parts := make([]string, 0, len(labels))
	for i, label := range labels {
		if !p.color {
			parts = append(parts, fmt.Sprintf("%s=%d", label, counts[i]))
			continue
		}
		parts = append(parts, Styles.Bold.Render(fmt.Sprintf("%d", counts[i]))+" "+Styles.Muted.Render(label))
	}
	sep := "  "
	if !p.color {
		sep = " "
	}
	fmt.Fprintln(p.w, strings.Join(parts, sep))
}
