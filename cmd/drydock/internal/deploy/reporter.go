// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"fmt"
	"io"
	"strings"
)

// Reporter receives user-facing progress. The CLI renders it through
// pkg/ux; TextReporter is the plain form.
type Reporter interface {
	Preflight(results []CheckResult)
	Plan(step string)
	Tier(result TierResult)
	Summary(run *Run, rollbackCommand string)
}

// TextReporter writes unstyled lines.
type TextReporter struct {
	w io.Writer
}

// NewTextReporter creates a reporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) Preflight(results []CheckResult) {
	for _, c := range results {
		if c.OK {
			fmt.Fprintf(r.w, "preflight ok: %s\n", c.Name)
		} else {
			fmt.Fprintf(r.w, "preflight FAILED: %s: %s\n", c.Name, c.Message)
		}
	}
}

func (r *TextReporter) Plan(step string) {
	fmt.Fprintf(r.w, "plan: %s\n", step)
}

func (r *TextReporter) Tier(t TierResult) {
	fmt.Fprintf(r.w, "tier %d: %s\n", t.Tier, t.Outcome)
	for _, s := range t.Services {
		fmt.Fprintf(r.w, "  %s\n", ServiceLine(s))
	}
}

func (r *TextReporter) Summary(run *Run, rollbackCommand string) {
	for _, line := range SummaryLines(run, rollbackCommand) {
		fmt.Fprintln(r.w, line)
	}
}

// ServiceLine formats one service result.
func ServiceLine(s ServiceResult) string {
	state := string(s.Health)
	if state == "" {
		state = "started"
	}
	label := ""
	if s.Failed() {
		if s.Critical {
			label = " failed-critical"
		} else {
			label = " failed"
		}
	}
	line := fmt.Sprintf("%s: %s%s", s.Name, state, label)
	if s.Attempts > 0 {
		line += fmt.Sprintf(" (%d attempts)", s.Attempts)
	}
	return line
}

// SummaryLines renders the final summary: per-tier outcome, overall result,
// backup location and the rollback hint.
func SummaryLines(run *Run, rollbackCommand string) []string {
	lines := []string{fmt.Sprintf("run %s: %s", run.ID, run.Status)}
	for _, t := range run.Tiers {
		switch {
		case len(t.Planned) > 0:
			lines = append(lines, fmt.Sprintf("  tier %d: %s (%s)", t.Tier, t.Outcome, strings.Join(t.Planned, ", ")))
		default:
			var parts []string
			for _, s := range t.Services {
				parts = append(parts, ServiceLine(s))
			}
			lines = append(lines, fmt.Sprintf("  tier %d: %s [%s]", t.Tier, t.Outcome, strings.Join(parts, "; ")))
		}
	}
	for _, w := range run.Warnings {
		lines = append(lines, "  warning: "+w)
	}
	if run.Error != "" {
		lines = append(lines, fmt.Sprintf("  error (%s): %s", run.ErrorClass, run.Error))
	}
	if run.BackupDir != "" {
		lines = append(lines, "  backup: "+run.BackupDir)
	}
	if rollbackCommand != "" {
		lines = append(lines, "  rollback: "+rollbackCommand)
	}
	return lines
}

var _ Reporter = (*TextReporter)(nil)
