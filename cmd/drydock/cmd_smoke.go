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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/smoke"
	"github.com/AleutianAI/drydock/pkg/ux"
)

func smokeOutputMode(jsonOut, quiet bool) smoke.OutputMode {
	switch {
	case jsonOut:
		return smoke.OutputJSON
	case quiet:
		return smoke.OutputQuiet
	default:
		return smoke.OutputHuman
	}
}

func runSmoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.SmokeRunner(smokeAutoFix)
	if err != nil {
		return err
	}

	mode := smokeOutputMode(smokeJSON, smokeQuiet)
	var report *smoke.Report
	run := func() error {
		report = runner.Run(ctx)
		return nil
	}
	if mode == smoke.OutputHuman {
		_ = ux.WithSpinner(a.printer, "Running smoke checks", run)
	} else {
		_ = run()
	}

	if err := smoke.Write(cmd.OutOrStdout(), report, mode); err != nil {
		return err
	}
	return exitWith(report.ExitCode, nil)
}
