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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/health"
	"github.com/AleutianAI/drydock/pkg/ux"
)

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rt, err := a.Runtime()
	if err != nil {
		return err
	}
	results := a.Prober(rt).CheckAll(ctx)
	for _, res := range results {
		a.metrics.RecordServiceHealth(res.Service, res.OK(), res.Attempts)
	}
	return exitWith(printHealth(a.printer, results), nil)
}

// printHealth prints one line per service and returns the exit code: 1
// when any critical service is not healthy, 0 otherwise. A non-critical
// failure is a warning.
func printHealth(p *ux.Printer, results []health.Result) int {
	p.Title("Service health")
	code := 0
	var ok, warned, failed int
	for _, res := range results {
		icon := ux.IconSuccess
		switch {
		case res.OK():
			ok++
		case res.Critical:
			icon = ux.IconError
			failed++
			code = 1
		default:
			icon = ux.IconWarning
			warned++
		}
		detail := string(res.Status)
		if res.Message != "" {
			detail = fmt.Sprintf("%s, %s", res.Status, res.Message)
		}
		p.Status(icon, res.Service, detail)
	}
	p.Summary(
		ux.Count{Label: "healthy", N: ok, Icon: ux.IconSuccess},
		ux.Count{Label: "degraded", N: warned, Icon: ux.IconWarning},
		ux.Count{Label: "failed", N: failed, Icon: ux.IconError},
	)
	return code
}
