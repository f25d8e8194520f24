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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/runstore"
	"github.com/AleutianAI/drydock/pkg/ux"
	"github.com/AleutianAI/drydock/pkg/validation"
)

func runRunsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.Archive()
	if err != nil {
		return err
	}
	runs, err := store.List(runsLimit)
	if err != nil {
		return err
	}
	if outputJSON {
		if runs == nil {
			runs = []*deploy.Run{}
		}
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	printRuns(a.printer, runs, time.Now())
	return nil
}

func printRuns(p *ux.Printer, runs []*deploy.Run, now time.Time) {
	p.Title("Runs")
	if len(runs) == 0 {
		p.Muted("no runs recorded")
		return
	}
	for _, r := range runs {
		detail := humanize.RelTime(r.StartedAt, now, "ago", "from now")
		if d := r.Duration(); d > 0 {
			detail += ", took " + d.Round(time.Second).String()
		}
		if r.RollbackOf != "" {
			detail += ", rollback of " + r.RollbackOf
		}
		if r.ErrorClass != deploy.ClassNone {
			detail += ", " + string(r.ErrorClass)
		}
		p.Status(runIcon(r.Status), shortRunID(r.ID)+" "+string(r.Status), detail)
	}
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ref := strings.ToLower(args[0])
	if err := validation.ValidateRunRef(ref); err != nil {
		return deploy.NewStageError(deploy.ClassConfigurationError, "arguments", err)
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.Archive()
	if err != nil {
		return err
	}
	run, err := store.Get(ref)
	if errors.Is(err, runstore.ErrNotFound) {
		return deploy.NewStageError(deploy.ClassConfigurationError, "runs", fmt.Errorf("no run matches %q", ref))
	}
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), run)
	}

	var rollback string
	if run.SnapshotID != "" {
		rollback = "drydock up --rollback=" + run.ID
	}
	lines := summaryLines(run, rollback)
	lines = append(lines, "started: "+run.StartedAt.Local().Format(time.RFC3339))
	if run.TraceID != "" {
		lines = append(lines, "trace: "+run.TraceID)
	}
	newPrinterReporter(a.printer).box(run.Status, lines[0], strings.Join(lines[1:], "\n"))
	return nil
}

func runIcon(s deploy.Status) ux.Icon {
	switch s {
	case deploy.StatusSucceeded, deploy.StatusRolledBack:
		return ux.IconSuccess
	case deploy.StatusDegraded:
		return ux.IconWarning
	case deploy.StatusFailed:
		return ux.IconError
	default:
		return ux.IconPending
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
