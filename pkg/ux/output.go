// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the drydock CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Drydock palette: harbor teals with standard semantic colors.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#2C4A54")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconSkipped Icon = "-"
	IconArrow   Icon = "→"
	IconAnchor  Icon = "⚓"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending, IconSkipped:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// machineTag is the plain prefix used for an icon in machine mode.
func (i Icon) machineTag() string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "FAIL"
	case IconSkipped:
		return "SKIP"
	default:
		return "INFO"
	}
}

// Printer writes personality-aware output to a writer.
//
// # Description
//
// Every command prints through a Printer so that tests can capture output
// and machine mode produces stable, uncolored lines. The level is read once
// at construction.
type Printer struct {
	w     io.Writer
	level PersonalityLevel
}

// NewPrinter binds a printer to w using the current personality.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, level: GetPersonality().Level}
}

// NewPrinterWithLevel binds a printer to w at a fixed level.
func NewPrinterWithLevel(w io.Writer, level PersonalityLevel) *Printer {
	return &Printer{w: w, level: level}
}

// Machine reports whether the printer emits plain text.
func (p *Printer) Machine() bool { return p.level == PersonalityMachine }

// Title prints a styled title
func (p *Printer) Title(text string) {
	switch p.level {
	case PersonalityMachine:
		return
	case PersonalityFull:
		fmt.Fprintf(p.w, "%s %s\n", IconAnchor, Styles.Title.Render(text))
	default:
		fmt.Fprintln(p.w, Styles.Title.Render(text))
	}
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) { p.Status(IconSuccess, text, "") }

// Warning prints a warning message
func (p *Printer) Warning(text string) { p.Status(IconWarning, text, "") }

// Error prints an error message
func (p *Printer) Error(text string) { p.Status(IconError, text, "") }

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.Machine() {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Machine mode drops it.
func (p *Printer) Muted(text string) {
	if p.Machine() {
		return
	}
	fmt.Fprintln(p.w, Styles.Muted.Render(text))
}

// Status prints one status line with an optional detail suffix.
func (p *Printer) Status(icon Icon, text, detail string) {
	switch p.level {
	case PersonalityMachine:
		if detail != "" {
			fmt.Fprintf(p.w, "%s\t%s\t%s\n", icon.machineTag(), text, detail)
		} else {
			fmt.Fprintf(p.w, "%s\t%s\n", icon.machineTag(), text)
		}
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", icon.Render(), joinDetail(text, detail))
	default:
		if detail != "" {
			fmt.Fprintf(p.w, "%s %s %s\n", icon.Render(), text, Styles.Muted.Render("("+detail+")"))
		} else {
			fmt.Fprintf(p.w, "%s %s\n", icon.Render(), text)
		}
	}
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	p.box(Styles.Box, Styles.Title, title, content)
}

// WarningBox prints text in a warning-styled box
func (p *Printer) WarningBox(title, content string) {
	p.box(Styles.WarningBox, Styles.Warning.Bold(true), title, content)
}

// ErrorBox prints text in an error-styled box
func (p *Printer) ErrorBox(title, content string) {
	p.box(Styles.ErrorBox, Styles.Error.Bold(true), title, content)
}

func (p *Printer) box(style, titleStyle lipgloss.Style, title, content string) {
	if p.level == PersonalityMachine || p.level == PersonalityMinimal {
		fmt.Fprintf(p.w, "%s: %s\n", title, strings.ReplaceAll(content, "\n", "; "))
		return
	}
	fmt.Fprintln(p.w, style.Width(60).Render(titleStyle.Render(title)+"\n"+content))
}

// Count is one labeled number in a summary line.
type Count struct {
	Label string
	N     int
	Icon  Icon
}

// Summary prints a summary line with counts
func (p *Printer) Summary(counts ...Count) {
	if p.Machine() {
		parts := make([]string, len(counts))
		for i, c := range counts {
			parts[i] = fmt.Sprintf("%s=%d", c.Label, c.N)
		}
		fmt.Fprintf(p.w, "SUMMARY: %s\n", strings.Join(parts, " "))
		return
	}
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = countStyle(c.Icon).Render(fmt.Sprintf("%d", c.N)) + " " + Styles.Muted.Render(c.Label)
	}
	fmt.Fprintf(p.w, "\n%s\n", strings.Join(parts, "  "))
}

func countStyle(i Icon) lipgloss.Style {
	switch i {
	case IconSuccess:
		return Styles.Success
	case IconWarning:
		return Styles.Warning
	case IconError:
		return Styles.Error
	default:
		return Styles.Bold
	}
}

func joinDetail(text, detail string) string {
	if detail == "" {
		return text
	}
	return text + " (" + detail + ")"
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	if GetPersonality().Level == PersonalityMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	empty := width - filled

	bar := Styles.Success.Render(strings.Repeat("█", max(filled, 0))) +
		Styles.Muted.Render(strings.Repeat("░", max(empty, 0)))

	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
