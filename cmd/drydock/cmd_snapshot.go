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

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/snapshot"
	"github.com/AleutianAI/drydock/pkg/ux"
	"github.com/AleutianAI/drydock/pkg/validation"
)

func runSnapshotList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	snaps, err := a.Snapshots(nil).List()
	if err != nil {
		return err
	}
	if outputJSON {
		if snaps == nil {
			snaps = []snapshot.Snapshot{}
		}
		return writeJSON(cmd.OutOrStdout(), snaps)
	}
	printSnapshots(a.printer, snaps)
	return nil
}

func printSnapshots(p *ux.Printer, snaps []snapshot.Snapshot) {
	p.Title("Snapshots")
	if len(snaps) == 0 {
		p.Muted("no snapshots")
		return
	}
	for _, s := range snaps {
		icon := ux.IconSuccess
		detail := s.CreatedAt.Local().Format("2006-01-02 15:04:05")
		switch {
		case s.HasDump():
			detail += fmt.Sprintf(", dump %s", humanize.Bytes(uint64(s.DumpBytes)))
		case s.DumpError != "":
			icon = ux.IconWarning
			detail += ", dump failed: " + s.DumpError
		default:
			detail += ", no dump"
		}
		if s.RunID != "" {
			detail += ", run " + s.RunID
		}
		p.Status(icon, s.ID, detail)
	}
	p.Summary(ux.Count{Label: "snapshots", N: len(snaps)})
}

func runSnapshotPrune(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	days := pruneDays
	if days <= 0 {
		days = a.cfg.Backup.RetainDays
	}
	removed, err := a.Snapshots(nil).PruneOlderThan(days)
	if removed > 0 {
		a.metrics.RecordPruned(removed)
	}
	if err != nil {
		return deploy.NewStageError(deploy.ClassBackupFailure, "prune", err)
	}
	a.printer.Status(ux.IconSuccess, fmt.Sprintf("pruned %d snapshot(s)", removed),
		fmt.Sprintf("older than %d days", days))
	return nil
}

func runSnapshotUpload(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := validation.ValidateName("snapshot", args[0]); err != nil {
			return deploy.NewStageError(deploy.ClassConfigurationError, "arguments", err)
		}
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	mgr := a.Snapshots(nil)
	var snap *snapshot.Snapshot
	if len(args) == 1 {
		snap, err = mgr.Get(args[0])
	} else {
		snap, err = mgr.Latest()
	}
	if err != nil {
		return deploy.NewStageError(deploy.ClassBackupFailure, "snapshot", err)
	}

	up, err := a.Uploader(ctx)
	if err != nil {
		return deploy.NewStageError(deploy.ClassConfigurationError, "upload", err)
	}
	defer up.Close()

	var loc string
	err = ux.WithSpinner(a.printer, "Uploading snapshot "+snap.ID, func() error {
		var uerr error
		loc, uerr = up.Upload(ctx, snap)
		return uerr
	})
	if err != nil {
		return deploy.NewStageError(deploy.ClassBackupFailure, "upload", err)
	}
	a.printer.Status(ux.IconSuccess, "uploaded "+snap.ID, loc)
	return nil
}
