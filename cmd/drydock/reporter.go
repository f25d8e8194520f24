// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/pkg/ux"
)

// printerReporter renders executor progress through a ux.Printer.
type printerReporter struct {
	p *ux.Printer
}

var _ deploy.Reporter = (*printerReporter)(nil)

func newPrinterReporter(p *ux.Printer) *printerReporter {
	return &printerReporter{p: p}
}

func (r *printerReporter) Preflight(results []deploy.CheckResult) {
	for _, c := range results {
		if c.OK {
			r.p.Status(ux.IconSuccess, "preflight: "+c.Name, "")
		} else {
			r.p.Status(ux.IconError, "preflight: "+c.Name, c.Message)
		}
	}
}

func (r *printerReporter) Plan(step string) {
	r.p.Status(ux.IconArrow, step, "")
}

func (r *printerReporter) Tier(t deploy.TierResult) {
	detail := t.Duration.Round(100 * time.Millisecond).String()
	if len(t.Planned) > 0 {
		detail = strings.Join(t.Planned, ", ")
	}
	r.p.Status(tierIcon(t.Outcome), fmt.Sprintf("tier %d %s", t.Tier, t.Outcome), detail)
	for _, s := range t.Services {
		icon := ux.IconSuccess
		if s.Failed() {
			icon = ux.IconWarning
			if s.Critical {
				icon = ux.IconError
			}
		}
		r.p.Status(icon, "  "+deploy.ServiceLine(s), "")
	}
}

// Summary prints the run summary in a box whose style follows the status.
func (r *printerReporter) Summary(run *deploy.Run, rollbackCommand string) {
	lines := summaryLines(run, rollbackCommand)
	r.box(run.Status, lines[0], strings.Join(lines[1:], "\n"))
}

// summaryLines always carries the rollback command. Personalities that show
// tips add a line explaining what it restores.
func summaryLines(run *deploy.Run, rollbackCommand string) []string {
	lines := deploy.SummaryLines(run, rollbackCommand)
	if rollbackCommand != "" && ux.GetPersonality().ShowTips {
		lines = append(lines, "  tip: the rollback command restores the images and database captured before this run")
	}
	return lines
}

func (r *printerReporter) box(status deploy.Status, title, content string) {
	switch status {
	case deploy.StatusFailed:
		r.p.ErrorBox(title, content)
	case deploy.StatusDegraded:
		r.p.WarningBox(title, content)
	default:
		r.p.Box(title, content)
	}
}

func tierIcon(o deploy.TierOutcome) ux.Icon {
	switch o {
	case deploy.TierOK:
		return ux.IconSuccess
	case deploy.TierDegraded:
		return ux.IconWarning
	case deploy.TierFailed:
		return ux.IconError
	case deploy.TierSkipped:
		return ux.IconSkipped
	default:
		return ux.IconPending
	}
}
