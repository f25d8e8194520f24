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
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/pkg/ux"
	"github.com/AleutianAI/drydock/pkg/validation"
)

// rollbackLatest is the value of a bare --rollback.
const rollbackLatest = "latest"

// upRequest is the parsed form of the up command line.
type upRequest struct {
	services []string
	flags    deploy.Flags

	// rollback is set for --rollback; rollbackID is empty for the latest
	// snapshot.
	rollback   bool
	rollbackID string
}

func parseUpArgs(args []string, rollback string, flags deploy.Flags) (upRequest, error) {
	req := upRequest{services: args, flags: flags}
	if err := validation.ValidateNames("service", args); err != nil {
		return req, deploy.NewStageError(deploy.ClassConfigurationError, "arguments", err)
	}
	if rollback == "" {
		return req, nil
	}
	if len(args) > 0 {
		return req, deploy.NewStageError(deploy.ClassConfigurationError, "arguments",
			errors.New("--rollback restores the whole fleet and takes no service names"))
	}
	req.rollback = true
	if rollback != rollbackLatest {
		if err := validation.ValidateRunRef(rollback); err != nil {
			return req, deploy.NewStageError(deploy.ClassConfigurationError, "arguments", err)
		}
		req.rollbackID = rollback
	}
	return req, nil
}

func runUp(cmd *cobra.Command, args []string) error {
	req, err := parseUpArgs(args, upRollback, deploy.Flags{
		DryRun:        upDryRun,
		Force:         upForce,
		SkipBackup:    upSkipBackup,
		SkipPreflight: upSkipPreflight,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	exec, err := a.Executor(newPrinterReporter(a.printer))
	if err != nil {
		return err
	}

	var run *deploy.Run
	if req.rollback {
		run, err = exec.Rollback(ctx, req.rollbackID)
	} else {
		run, err = exec.Run(ctx, deploy.Request{Services: req.services, Flags: req.flags})
	}
	if run == nil {
		return err
	}
	writeRunID(cmd.OutOrStdout(), run)

	if err == nil && run.Status == deploy.StatusSucceeded && a.cfg.Backup.GCS.AutoUpload {
		a.autoUpload(ctx, run)
	}
	// The summary already carries the error.
	return exitWith(run.ExitCode(), nil)
}

// writeRunID prints the line remote callers parse to learn the run id.
func writeRunID(w io.Writer, run *deploy.Run) {
	fmt.Fprintf(w, "run: %s\n", run.ID)
}

// autoUpload copies the run's snapshot off host. Failures are warnings; the
// deployment itself already succeeded.
func (a *app) autoUpload(ctx context.Context, run *deploy.Run) {
	if run.SnapshotID == "" {
		return
	}
	snap, err := a.Snapshots(a.runtime).Get(run.SnapshotID)
	if err != nil {
		a.logger.Warn("snapshot not found for upload", "snapshot", run.SnapshotID, "error", err)
		return
	}
	up, err := a.Uploader(ctx)
	if err != nil {
		a.logger.Warn("off-host upload unavailable", "error", err)
		return
	}
	defer up.Close()
	loc, err := up.Upload(ctx, snap)
	if err != nil {
		a.printer.Warning("snapshot upload failed: " + err.Error())
		return
	}
	a.printer.Status(ux.IconSuccess, "snapshot uploaded", loc)
}
