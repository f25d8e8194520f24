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
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/compose"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/registry"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/snapshot"
)

// pinsBackupName is the copy of released image pins kept in a forward run's
// snapshot directory.
const pinsBackupName = "image-pins.yml"

// Rollback restores the snapshot recorded for runID and restarts the fleet
// in tier order.
//
// # Description
//
// An empty runID selects the newest snapshot. A run id prefix is resolved
// through the archive. The configuration file is copied back, image pins
// are written to the compose override file, and once the infrastructure tier
// runs the database dump (if any) is streamed into the restore command.
//
// # Outputs
//
//   - *Run: The rollback run record; nil when no snapshot qualifies or the
//     lease is held.
//   - error: ErrNoSnapshot when the run has nothing to roll back to,
//     otherwise the fatal error of the restore.
func (e *Executor) Rollback(ctx context.Context, runID string) (run *Run, err error) {
	defer func() {
		recoverPanic(recover(), &err)
		if run != nil && err != nil && run.Status == StatusRunning {
			e.finish(run, err)
		}
	}()

	snap, target, err := e.resolveSnapshot(runID)
	if err != nil {
		return nil, err
	}

	if e.lease != nil {
		if err := e.lease.Acquire(); err != nil {
			return nil, leaseError(err)
		}
		defer e.lease.Release()
	}

	run = e.newRun(Request{})
	run.RollbackOf = target
	run.SnapshotID = snap.ID
	run.BackupDir = snap.Dir

	ctx, finishSpan := e.tracer.StartSpan(ctx, "deploy.rollback", map[string]string{
		"run.id":      run.ID,
		"rollback.of": target,
		"snapshot.id": snap.ID,
	})
	run.TraceID = e.tracer.TraceID(ctx)
	defer func() { finishSpan(err) }()

	e.logger.Info("rollback started", "run_id", run.ID, "rollback_of", target, "snapshot", snap.ID)
	err = e.restore(ctx, run, snap)
	e.finish(run, err)
	return run, err
}

func (e *Executor) resolveSnapshot(runID string) (*snapshot.Snapshot, string, error) {
	if e.snapshots == nil {
		return nil, runID, ErrNoSnapshot
	}
	if runID == "" {
		snap, err := e.snapshots.Latest()
		if errors.Is(err, snapshot.ErrNotFound) {
			return nil, "", ErrNoSnapshot
		}
		if err != nil {
			return nil, "", err
		}
		return snap, snap.RunID, nil
	}

	if e.archive != nil {
		if prev, err := e.archive.Get(runID); err == nil {
			if prev.SnapshotID == "" {
				return nil, prev.ID, fmt.Errorf("%w %s", ErrNoSnapshot, prev.ID)
			}
			runID = prev.ID
		}
	}
	snap, err := e.snapshots.ForRun(runID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, runID, fmt.Errorf("%w %s", ErrNoSnapshot, runID)
	}
	if err != nil {
		return nil, runID, err
	}
	return snap, runID, nil
}

func (e *Executor) restore(ctx context.Context, run *Run, snap *snapshot.Snapshot) error {
	if err := e.snapshots.RestoreConfig(snap); err != nil {
		return NewStageError(ClassBackupFailure, "restore configuration", err)
	}

	if e.config.OverrideFile != "" {
		pins := snapshot.ImagePins(snap)
		if err := compose.WriteImageOverride(e.config.OverrideFile, pins); err != nil {
			return NewStageError(ClassBackupFailure, "pin images", err)
		}
		e.logger.Info("image pins written", "file", e.config.OverrideFile, "services", len(pins))
	}

	restoreDB := func(ctx context.Context, run *Run) error {
		if snap.HasDump() {
			if err := e.snapshots.RestoreDatabase(ctx, snap); err != nil {
				return NewStageError(ClassDatabaseBootstrapFailure, "database restore", err)
			}
			e.logger.Info("database restored", "snapshot", snap.ID)
		} else {
			run.warn("snapshot has no database dump; database left as is")
		}
		return e.verifyDatabases(ctx, run)
	}

	return e.deployTiers(ctx, run, registry.GroupByTier(e.registry.All()), restoreDB)
}
