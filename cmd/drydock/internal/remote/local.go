// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/smoke"
)

// Executor is the part of *deploy.Executor the local deployer drives.
type Executor interface {
	Run(ctx context.Context, req deploy.Request) (*deploy.Run, error)
	Rollback(ctx context.Context, runID string) (*deploy.Run, error)
}

// SmokeRunner runs a smoke pass.
type SmokeRunner interface {
	Run(ctx context.Context) *smoke.Report
}

// LocalOptions are the local deployer's environment options.
type LocalOptions struct {
	SkipBackup bool `mapstructure:"skip_backup"`
}

// LocalDeployer runs the executor and smoke runner in process.
type LocalDeployer struct {
	env     config.EnvironmentConfig
	opts    LocalOptions
	exec    Executor
	smoke   SmokeRunner
	logger  *slog.Logger
	lastRun *deploy.Run
}

// NewLocalDeployer decodes the options for env.
func NewLocalDeployer(env config.EnvironmentConfig, exec Executor, sr SmokeRunner, logger *slog.Logger) (*LocalDeployer, error) {
	var opts LocalOptions
	if err := decodeOptions(env, &opts); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalDeployer{env: env, opts: opts, exec: exec, smoke: sr, logger: logger}, nil
}

// Connect has nothing to dial.
func (d *LocalDeployer) Connect(ctx context.Context) error {
	if d.exec == nil {
		return errors.New("local deployer has no executor")
	}
	return nil
}

func (d *LocalDeployer) Deploy(ctx context.Context, req DeployRequest) error {
	run, err := d.exec.Run(ctx, deploy.Request{
		Services: req.Services,
		Flags: deploy.Flags{
			DryRun:     req.DryRun,
			Force:      req.Force,
			SkipBackup: d.opts.SkipBackup,
		},
	})
	d.lastRun = run
	if err != nil {
		return err
	}
	if run.Status == deploy.StatusFailed {
		return deploy.NewStageError(deploy.ClassCriticalHealthFailure, "deploy", fmt.Errorf("run %s failed", run.ID))
	}
	return nil
}

func (d *LocalDeployer) Verify(ctx context.Context) error {
	if d.smoke == nil {
		return nil
	}
	return smokeError(d.smoke.Run(ctx))
}

// Rollback restores the snapshot taken by the last Deploy.
func (d *LocalDeployer) Rollback(ctx context.Context) error {
	if d.lastRun == nil || d.lastRun.Status == deploy.StatusDryRun {
		return nil
	}
	if d.lastRun.SnapshotID == "" {
		return fmt.Errorf("%w: %s", deploy.ErrNoSnapshot, d.lastRun.ID)
	}
	run, err := d.exec.Rollback(ctx, d.lastRun.ID)
	if err != nil {
		return err
	}
	d.logger.Info("local rollback finished", "run_id", run.ID, "status", run.Status)
	return nil
}

func (d *LocalDeployer) SupportsRollback() bool { return true }

func (d *LocalDeployer) Close() error { return nil }
