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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/smoke"
)

// CloudOptions are the cloud deployer's environment options.
type CloudOptions struct {
	// Binary overrides the environment's remote_binary.
	Binary string `mapstructure:"binary"`

	// WorkDir is entered before every command.
	WorkDir string `mapstructure:"work_dir"`

	Sudo bool `mapstructure:"sudo"`
}

// CommanderDialer opens a command channel.
type CommanderDialer func(ctx context.Context, cfg SSHConfig) (Commander, error)

// CloudDeployer drives drydock on a remote host over SSH.
type CloudDeployer struct {
	env     config.EnvironmentConfig
	opts    CloudOptions
	sshCfg  SSHConfig
	dial    CommanderDialer
	logger  *slog.Logger
	ch      Commander
	dryRun  bool
	lastRun string
}

// NewCloudDeployer decodes the options for env.
func NewCloudDeployer(env config.EnvironmentConfig, rc config.RemoteConfig, dial CommanderDialer, logger *slog.Logger) (*CloudDeployer, error) {
	opts := CloudOptions{Binary: env.RemoteBinary}
	if err := decodeOptions(env, &opts); err != nil {
		return nil, err
	}
	if opts.Binary == "" {
		opts.Binary = config.DefaultRemoteBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudDeployer{
		env:    env,
		opts:   opts,
		sshCfg: SSHConfigFor(env, rc),
		dial:   dial,
		logger: logger,
	}, nil
}

func (d *CloudDeployer) Connect(ctx context.Context) error {
	ch, err := d.dial(ctx, d.sshCfg)
	if err != nil {
		if deploy.Classify(err) == deploy.ClassNone {
			err = deploy.NewStageError(deploy.ClassConnectivityFailure, "connect "+d.sshCfg.Address(), err)
		}
		return err
	}
	d.ch = ch
	if _, err := d.ch.Run(ctx, d.command("--version"), nil); err != nil {
		return deploy.NewStageError(deploy.ClassConnectivityFailure, "probe remote binary", err)
	}
	return nil
}

// Deploy runs "up" remotely. The remote run prints machine output; the
// exit code decides success.
func (d *CloudDeployer) Deploy(ctx context.Context, req DeployRequest) error {
	args := []string{"up", "--personality", "machine"}
	if req.Force {
		args = append(args, "--force")
	}
	if req.DryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, req.Services...)
	d.dryRun = req.DryRun

	out, err := d.ch.Run(ctx, d.command(args...), nil)
	d.lastRun = parseRunID(out)
	if err != nil {
		return remoteFailure(deploy.ClassCriticalHealthFailure, "remote up", err)
	}
	d.logger.Info("remote deployment finished", "environment", d.env.Name, "run_id", d.lastRun)
	return nil
}

// Verify runs the remote smoke test and decodes its JSON report.
func (d *CloudDeployer) Verify(ctx context.Context) error {
	out, err := d.ch.Run(ctx, d.command("smoke", "--json"), nil)
	var report smoke.Report
	if jerr := json.Unmarshal([]byte(out), &report); jerr != nil {
		if err != nil {
			return remoteFailure(deploy.ClassApplicationHealthFailure, "remote smoke", err)
		}
		return fmt.Errorf("decode remote smoke report: %w", jerr)
	}
	return smokeError(&report)
}

// Rollback restores the snapshot of the last remote run, or the latest
// one when the run id could not be read.
func (d *CloudDeployer) Rollback(ctx context.Context) error {
	if d.dryRun {
		return nil
	}
	flag := "--rollback"
	if d.lastRun != "" {
		flag += "=" + d.lastRun
	}
	_, err := d.ch.Run(ctx, d.command("up", "--personality", "machine", flag), nil)
	if err != nil {
		return remoteFailure(deploy.ClassCriticalHealthFailure, "remote rollback", err)
	}
	return nil
}

func (d *CloudDeployer) SupportsRollback() bool { return true }

func (d *CloudDeployer) Close() error {
	if d.ch == nil {
		return nil
	}
	return d.ch.Close()
}

// command renders the remote command line.
func (d *CloudDeployer) command(args ...string) string {
	argv := []string{d.opts.Binary}
	if d.env.RemoteConfigPath != "" {
		argv = append(argv, "--config", d.env.RemoteConfigPath)
	}
	argv = append(argv, args...)
	cmd := shellJoin(argv)
	if d.opts.Sudo {
		cmd = "sudo -n " + cmd
	}
	if d.opts.WorkDir != "" {
		cmd = "cd " + shellQuote(d.opts.WorkDir) + " && " + cmd
	}
	return cmd
}

// parseRunID finds the "run: <id>" line of machine output.
func parseRunID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "run:" {
			return fields[1]
		}
	}
	return ""
}

// remoteFailure classifies a failed remote command. Transport failures
// (no exit status) are connectivity problems.
func remoteFailure(class deploy.ErrorClass, stage string, err error) error {
	var ce *process.CommandError
	if errors.As(err, &ce) && ce.ExitCode < 0 {
		class = deploy.ClassConnectivityFailure
	}
	if c := deploy.Classify(err); c != deploy.ClassNone {
		return err
	}
	return deploy.NewStageError(class, stage, err)
}

// smokeError converts a failing smoke report into an error.
func smokeError(r *smoke.Report) error {
	if r.ExitCode == smoke.ExitPass {
		return nil
	}
	class := deploy.ClassApplicationHealthFailure
	if r.ExitCode == smoke.ExitCritical {
		class = deploy.ClassCriticalHealthFailure
	}
	return deploy.NewStageError(class, "verify", errors.New(smoke.QuietLine(r)))
}
