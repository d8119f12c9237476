// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output with lipgloss styles that degrade to plain
// text for pipes and scripts.
package ux

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Colors
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// styles is one writer's set of lipgloss styles.
type styles struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(ColorSlate),
		Success: r.NewStyle().Foreground(ColorSuccess),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Error:   r.NewStyle().Foreground(ColorError),
	}
}

// Printer writes styled lines to out and machine-mode warnings to errOut.
//
// # Thread Safety
//
// Not safe for concurrent use; one command owns one Printer.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	level  PersonalityLevel
	styles styles
}

// NewPrinter creates a Printer. An empty level is detected from out.
func NewPrinter(out, errOut io.Writer, level PersonalityLevel) *Printer {
	if level == "" {
		level = DetectPersonality(out)
	}
	if errOut == nil {
		errOut = out
	}
	return &Printer{
		out:    out,
		errOut: errOut,
		level:  level,
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel { return p.level }

// Out returns the primary writer, for tables.
func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.styles.Success.Render(string(i))
	case IconWarning:
		return p.styles.Warning.Render(string(i))
	case IconError:
		return p.styles.Error.Render(string(i))
	default:
		return p.styles.Muted.Render(string(i))
	}
}

// Title prints a styled title. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	if p.level == PersonalityMachine {
		return
	}
	fmt.Fprintln(p.out, p.styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.out, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.out, "%s %s\n", p.icon(IconSuccess), text)
	default:
		fmt.Fprintf(p.out, "%s %s\n", p.icon(IconSuccess), p.styles.Success.Render(text))
	}
}

// Warning prints a warning. Machine mode writes it to errOut.
func (p *Printer) Warning(text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.errOut, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.out, "%s %s\n", p.icon(IconWarning), text)
	default:
		fmt.Fprintf(p.out, "%s %s\n", p.icon(IconWarning), p.styles.Warning.Render(text))
	}
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.level == PersonalityMachine {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.styles.Muted.Render("│"), text)
}

// Bullet prints an indented list item.
func (p *Printer) Bullet(text string) {
	if p.level == PersonalityMachine {
		fmt.Fprintf(p.out, "  %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "  %s %s\n", p.icon(IconBullet), text)
}

// Bold renders text in bold, or returns it unchanged in machine mode.
func (p *Printer) Bold(text string) string {
	if p.level == PersonalityMachine {
		return text
	}
	return p.styles.Bold.Render(text)
}
