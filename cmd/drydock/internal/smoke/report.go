// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package smoke

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/drydock/pkg/ux"
)

// OutputMode selects how a report is rendered.
type OutputMode string

const (
	OutputHuman OutputMode = "human"
	OutputJSON  OutputMode = "json"
	OutputQuiet OutputMode = "quiet"
)

// Write renders report to w in the given mode.
func Write(w io.Writer, report *Report, mode OutputMode) error {
	switch mode {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case OutputQuiet:
		_, err := fmt.Fprintln(w, QuietLine(report))
		return err
	default:
		writeHuman(ux.NewPrinter(w), report)
		return nil
	}
}

// QuietLine is the single-line form of a report.
func QuietLine(r *Report) string {
	state := "PASS"
	switch r.ExitCode {
	case ExitFail:
		state = "FAIL"
	case ExitCritical:
		state = "CRITICAL"
	}
	return fmt.Sprintf("%s passed=%d warned=%d failed=%d skipped_categories=%d",
		state, r.Count(StatusPass), r.Count(StatusWarn), r.Count(StatusFail), len(r.Skipped))
}

func writeHuman(p *ux.Printer, r *Report) {
	p.Title("Smoke test")
	var current string
	for _, res := range r.Results {
		if string(res.Category) != current {
			current = string(res.Category)
			p.Muted("")
			p.Info(current)
		}
		p.Status(statusIcon(res.Status), res.Name, resultDetail(res))
		if res.Fix != nil {
			if res.Fix.Restarted {
				p.Status(ux.IconArrow, "restarted "+res.Fix.Service, "")
			} else {
				p.Status(ux.IconError, "restart of "+res.Fix.Service+" failed", res.Fix.Error)
			}
		}
	}
	for _, cat := range r.Skipped {
		p.Status(ux.IconSkipped, string(cat), "skipped")
	}
	if r.Aborted {
		p.ErrorBox("Smoke test aborted", r.AbortReason)
	}
	p.Summary(
		ux.Count{Label: "passed", N: r.Count(StatusPass), Icon: ux.IconSuccess},
		ux.Count{Label: "warned", N: r.Count(StatusWarn), Icon: ux.IconWarning},
		ux.Count{Label: "failed", N: r.Count(StatusFail), Icon: ux.IconError},
	)
	p.Muted(fmt.Sprintf("finished in %s, exit code %d", r.Duration.Round(time.Millisecond), r.ExitCode))
}

func statusIcon(s Status) ux.Icon {
	switch s {
	case StatusPass:
		return ux.IconSuccess
	case StatusWarn:
		return ux.IconWarning
	default:
		return ux.IconError
	}
}

func resultDetail(res CheckResult) string {
	latency := res.Latency.Round(time.Millisecond).String()
	if res.Message == "" {
		return latency
	}
	return latency + ", " + res.Message
}
