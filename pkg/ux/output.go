// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders terminal output for the lineage CLI.
//
// A Printer styles output with lipgloss when it writes to a terminal and
// falls back to plain text otherwise, so piped output and CI logs carry no
// escape sequences.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Brand palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorOrange  = lipgloss.Color("#E67E22")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the shared text styles.
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
	IconBullet  Icon = "•"
	IconArrow   Icon = "→"
)

// RiskStyle colours a risk or approval label. Unknown labels are bold.
func RiskStyle(label string) lipgloss.Style {
	switch strings.ToUpper(label) {
	case "LOW", "APPROVED":
		return lipgloss.NewStyle().Bold(true).Foreground(ColorSuccess)
	case "MEDIUM", "APPROVED_WITH_CONDITIONS":
		return lipgloss.NewStyle().Bold(true).Foreground(ColorWarning)
	case "HIGH", "CHANGES_REQUESTED":
		return lipgloss.NewStyle().Bold(true).Foreground(ColorOrange)
	case "CRITICAL", "BLOCKED":
		return lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	default:
		return Styles.Bold
	}
}

// Printer writes styled lines.
type Printer struct {
	out   io.Writer
	plain bool
}

// NewPrinter returns a Printer for w. Styling is enabled only when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{out: w, plain: !IsTerminal(w)}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Plain reports whether styling is disabled.
func (p *Printer) Plain() bool { return p.plain }

// Line prints text unstyled.
func (p *Printer) Line(text string) {
	fmt.Fprintln(p.out, text)
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if p.plain {
		return s
	}
	return style.Render(s)
}

// Style renders s with style unless the printer is plain.
func (p *Printer) Style(style lipgloss.Style, s string) string {
	return p.render(style, s)
}

// Title prints a heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.out, p.render(Styles.Title, text))
}

// Section prints a blank line and a subheading.
func (p *Printer) Section(text string) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.render(Styles.Subtitle, text))
}

// KV prints an aligned key/value line.
func (p *Printer) KV(key, value string) {
	fmt.Fprintf(p.out, "  %-22s %s\n", p.render(Styles.Muted, key+":"), value)
}

// Bullet prints an indented list item.
func (p *Printer) Bullet(text string) {
	fmt.Fprintf(p.out, "  %s %s\n", IconBullet, text)
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(Styles.Success, string(IconSuccess)), text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(Styles.Warning, string(IconWarning)), text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(Styles.Error, string(IconError)), text)
}

// Box prints content inside a rounded border, or unframed when plain.
func (p *Printer) Box(content string) {
	if p.plain {
		fmt.Fprintln(p.out, content)
		return
	}
	fmt.Fprintln(p.out, Styles.Box.Render(content))
}
