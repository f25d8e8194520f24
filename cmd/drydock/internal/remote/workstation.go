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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/resilience"
)

// RuntimeCloser is a container runtime holding a connection. Recreate
// replaces a service's container so it runs the most recently pulled image.
type RuntimeCloser interface {
	container.Runtime
	Recreate(ctx context.Context, service string) error
	Close() error
}

// RuntimeDialer connects to a Docker daemon at host.
type RuntimeDialer func(host string) (RuntimeCloser, error)

// WorkstationOptions are the workstation deployer's environment options.
type WorkstationOptions struct {
	// Services recreated when a request names none.
	Services []string `mapstructure:"services"`

	// Settle is waited after recreating containers before Verify inspects them.
	Settle time.Duration `mapstructure:"settle"`
}

// WorkstationDeployer pulls images and recreates containers through the Docker
// Engine API of a remote daemon. It keeps no snapshots, so it cannot roll
// back.
type WorkstationDeployer struct {
	env      config.EnvironmentConfig
	opts     WorkstationOptions
	dial     RuntimeDialer
	logger   *slog.Logger
	rt       RuntimeCloser
	deployed []string
	wait     func(ctx context.Context, d time.Duration) error
}

// NewWorkstationDeployer decodes the options for env. defaults is used
// when neither the request nor the options name services.
func NewWorkstationDeployer(env config.EnvironmentConfig, defaults []string, dial RuntimeDialer, logger *slog.Logger) (*WorkstationDeployer, error) {
	opts := WorkstationOptions{Services: defaults}
	if err := decodeOptions(env, &opts); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkstationDeployer{env: env, opts: opts, dial: dial, logger: logger, wait: resilience.Sleep}, nil
}

func (d *WorkstationDeployer) Connect(ctx context.Context) error {
	stage := "connect " + d.env.DockerHost
	rt, err := d.dial(d.env.DockerHost)
	if err != nil {
		return deploy.NewStageError(deploy.ClassConnectivityFailure, stage, err)
	}
	if err := rt.Ping(ctx); err != nil {
		rt.Close()
		return deploy.NewStageError(deploy.ClassConnectivityFailure, stage, err)
	}
	d.rt = rt
	return nil
}

func (d *WorkstationDeployer) Deploy(ctx context.Context, req DeployRequest) error {
	services := req.Services
	if len(services) == 0 {
		services = d.opts.Services
	}
	if len(services) == 0 {
		return deploy.NewStageError(deploy.ClassConfigurationError, "deploy",
			fmt.Errorf("environment %s names no services", d.env.Name))
	}
	if req.DryRun {
		d.logger.Info("dry run: would pull and recreate", "environment", d.env.Name, "services", services)
		return nil
	}

	if err := d.rt.Pull(ctx, services); err != nil {
		if !req.Force {
			return deploy.NewStageError(deploy.ClassPreflightFailure, "pull", err)
		}
		d.logger.Warn("pull failed, continuing with cached images", "error", err)
	}
	for _, svc := range services {
		if err := d.rt.Recreate(ctx, svc); err != nil {
			return deploy.NewStageError(deploy.ClassCriticalHealthFailure, "recreate "+svc, err)
		}
	}
	d.deployed = services
	if d.opts.Settle > 0 {
		return d.wait(ctx, d.opts.Settle)
	}
	return nil
}

// Verify requires every recreated container to be running and not
// reporting unhealthy.
func (d *WorkstationDeployer) Verify(ctx context.Context) error {
	for _, svc := range d.deployed {
		st, err := d.rt.State(ctx, svc)
		if err != nil {
			return deploy.NewStageError(deploy.ClassApplicationHealthFailure, "verify "+svc, err)
		}
		if !st.Running || st.Health == container.HealthUnhealthy {
			return deploy.NewStageError(deploy.ClassApplicationHealthFailure, "verify "+svc,
				fmt.Errorf("container %s is %s %s", st.Container, st.Status, st.Health))
		}
	}
	return nil
}

func (d *WorkstationDeployer) Rollback(ctx context.Context) error { return ErrRollbackUnsupported }

func (d *WorkstationDeployer) SupportsRollback() bool { return false }

func (d *WorkstationDeployer) Close() error {
	if d.rt == nil {
		return nil
	}
	return d.rt.Close()
}
