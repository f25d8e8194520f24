// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/drydock/pkg/ux"
)

// WriteJSON encodes the report.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteHuman prints the report grouped by result order.
func WriteHuman(p *ux.Printer, r *Report) {
	title := "Probe status"
	if r.Environment != "" {
		title += " (" + r.Environment + ")"
	}
	p.Title(title)

	for _, res := range r.Results {
		detail := string(res.Category)
		if res.Message != "" {
			detail += ", " + res.Message
		}
		if res.Remediation != "" {
			detail += ", " + res.Remediation
		}
		p.Status(icon(res.Status), res.Name, detail)
		for i, step := range res.Runbook {
			p.Muted(fmt.Sprintf("    %d. %s", i+1, step))
		}
	}
	s := r.Summary
	p.Summary(
		ux.Count{Label: "total", N: s.Total},
		ux.Count{Label: "passed", N: s.Passed, Icon: ux.IconSuccess},
		ux.Count{Label: "failed", N: s.Failed, Icon: ux.IconError},
		ux.Count{Label: "skipped", N: s.Skipped, Icon: ux.IconWarning},
	)
	p.Muted("finished in " + s.Duration.Round(time.Millisecond).String())
}

func icon(s Status) ux.Icon {
	switch s {
	case StatusHealthy:
		return ux.IconSuccess
	case StatusRemediated:
		return ux.IconArrow
	case StatusSkipped:
		return ux.IconSkipped
	default:
		return ux.IconError
	}
}
