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
	"net/http"
	"slices"
	"sync"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/probe"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/remote"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/smoke"
	"github.com/AleutianAI/drydock/pkg/validation"
)

// statusEnvironment resolves the environment probes are selected for: the
// flag when given, otherwise detection.
func (a *app) statusEnvironment(ctx context.Context, flagValue string) (string, error) {
	if flagValue != "" {
		if err := validation.ValidateName("environment", flagValue); err != nil {
			return "", deploy.NewStageError(deploy.ClassConfigurationError, "arguments", err)
		}
		if _, err := remote.Lookup(a.cfg.Environments, flagValue); err != nil {
			return "", deploy.NewStageError(deploy.ClassConfigurationError, "environment", err)
		}
		return flagValue, nil
	}
	det, err := remote.NewDetector(a.cfg.Environments).Detect(ctx)
	if err != nil {
		return "", deploy.NewStageError(deploy.ClassConfigurationError, "environment", err)
	}
	a.logger.Debug("environment detected", "environment", det.Environment.Name, "source", det.Source)
	return det.Environment.Name, nil
}

// needsRuntime reports whether a pass touches the container runtime.
func needsRuntime(probes []config.ProbeConfig, remediate bool) bool {
	if remediate {
		return true
	}
	return slices.ContainsFunc(probes, func(p config.ProbeConfig) bool {
		return p.Kind == config.CheckContainer
	})
}

// statusPass holds the probe registry a watch may swap on reload.
type statusPass struct {
	mu       sync.Mutex
	registry *probe.Registry
}

func (s *statusPass) get() *probe.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry
}

func (s *statusPass) set(r *probe.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = r
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	env, err := a.statusEnvironment(ctx, statusEnvironment)
	if err != nil {
		return err
	}
	reg, err := probe.NewRegistry(a.cfg.Probes)
	if err != nil {
		return deploy.NewStageError(deploy.ClassConfigurationError, "probes", err)
	}
	state := &statusPass{registry: reg}
	filter := probe.Filter{Environment: env, Category: config.ProbeCategory(statusCategory.String())}

	var rt container.Runtime
	if run, _ := reg.Select(filter); needsRuntime(run, statusRemediate) {
		if rt, err = a.Runtime(); err != nil {
			return err
		}
	}
	client := &http.Client{Timeout: a.cfg.Smoke.Timeout}
	runner := probe.NewRunner(probe.Config{
		Timeout:     a.cfg.Smoke.Timeout,
		SettleDelay: a.cfg.Remote.SettleDelay,
	}, smoke.DefaultCheckers(client), rt, a.metrics, a.logger)

	pass := func(ctx context.Context) (*probe.Report, error) {
		run, skipped := state.get().Select(filter)
		report := runner.Run(ctx, env, run, skipped, probe.Options{
			Parallel:  statusParallel,
			Remediate: statusRemediate,
		})
		if statusJSON {
			return report, probe.WriteJSON(cmd.OutOrStdout(), report)
		}
		probe.WriteHuman(a.printer, report)
		return report, nil
	}

	if !statusWatch {
		report, err := pass(ctx)
		if err != nil {
			return err
		}
		if !report.Healthy() {
			return exitWith(1, nil)
		}
		return nil
	}

	return probe.Watch(ctx, probe.WatchOptions{
		Interval:   a.cfg.Remote.WatchInterval,
		ConfigPath: a.configPath,
		Logger:     a.logger,
		Pass: func(ctx context.Context) error {
			_, err := pass(ctx)
			return err
		},
		Reload: func() error {
			cfg, err := config.LoadFrom(a.configPath)
			if err != nil {
				return err
			}
			next, err := probe.NewRegistry(cfg.Probes)
			if err != nil {
				return err
			}
			state.set(next)
			return nil
		},
	})
}
