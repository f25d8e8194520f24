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
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/diagnostics"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/resilience"
)

// DeployOptions are the deploy command's inputs.
type DeployOptions struct {
	Environment    string
	Request        DeployRequest
	SkipVerify     bool
	RollbackOnFail bool
	Overrides      ConnectionOverrides
}

// Outcome describes one remote deployment.
type Outcome struct {
	Environment string
	Kind        config.EnvironmentKind
	Completed   []string
	FailedStep  string
	RolledBack  bool
	RollbackErr error
	Duration    time.Duration
}

// Orchestrator runs connect, deploy and verify against one environment.
type Orchestrator struct {
	envs     []config.EnvironmentConfig
	factory  *Factory
	prompter Prompter
	tracer   diagnostics.Tracer
	logger   *slog.Logger
	timeout  time.Duration
}

// NewOrchestrator wires the deploy command. stepTimeout bounds each step.
func NewOrchestrator(envs []config.EnvironmentConfig, factory *Factory, prompter Prompter, tracer diagnostics.Tracer, logger *slog.Logger, stepTimeout time.Duration) *Orchestrator {
	if tracer == nil {
		tracer = diagnostics.NoOpTracer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if stepTimeout <= 0 {
		stepTimeout = resilience.DefaultSagaConfig().StepTimeout
	}
	return &Orchestrator{
		envs:     envs,
		factory:  factory,
		prompter: prompter,
		tracer:   tracer,
		logger:   logger,
		timeout:  stepTimeout,
	}
}

// Deploy rolls out to the named environment.
//
// # Description
//
// The steps run as a saga. With RollbackOnFail a failing deploy or verify
// step compensates by rolling back, provided the deployer supports it.
// Without it, an interactive session is offered the rollback instead.
// Dry runs never roll back and skip verification.
//
// # Outputs
//
//   - *Outcome: Always non-nil once the environment resolved.
//   - error: The failing step's error, carrying its ErrorClass.
func (o *Orchestrator) Deploy(ctx context.Context, opts DeployOptions) (out *Outcome, err error) {
	env, err := Lookup(o.envs, opts.Environment)
	if err != nil {
		return nil, err
	}
	if !env.Enabled {
		return nil, deploy.NewStageError(deploy.ClassConfigurationError, "",
			fmt.Errorf("environment %s is disabled", env.Name))
	}
	opts.Overrides.Apply(&env)
	if err := CompleteConnection(&env, o.prompter); err != nil {
		return nil, err
	}

	d, err := o.factory.New(env)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	ctx, finish := o.tracer.StartSpan(ctx, "remote.deploy", map[string]string{
		"environment": env.Name,
		"kind":        string(env.Kind),
	})
	defer func() { finish(err) }()

	out = &Outcome{Environment: env.Name, Kind: env.Kind}
	canUndo := d.SupportsRollback() && !opts.Request.DryRun
	undo := func(ctx context.Context) error {
		out.RolledBack = true
		return d.Rollback(ctx)
	}

	saga := resilience.NewSaga(resilience.SagaConfig{
		StepTimeout:      o.timeout,
		CompensateOnFail: opts.RollbackOnFail && canUndo,
		Logger:           o.logger,
	})
	saga.AddStep(resilience.SagaStep{Name: "connect", Execute: d.Connect})
	deployStep := resilience.SagaStep{
		Name:    "deploy",
		Execute: func(ctx context.Context) error { return d.Deploy(ctx, opts.Request) },
	}
	if canUndo {
		deployStep.Compensate = undo
		deployStep.CompensateOwnFailure = true
	}
	saga.AddStep(deployStep)
	if !opts.SkipVerify && !opts.Request.DryRun {
		saga.AddStep(resilience.SagaStep{Name: "verify", Execute: d.Verify})
	}

	result, err := saga.Execute(ctx)
	out.Completed = result.CompletedSteps
	out.FailedStep = result.FailedStep
	out.Duration = result.Duration
	for _, ce := range result.CompensationErrors {
		out.RollbackErr = errors.Join(out.RollbackErr, ce.Err)
	}
	if err == nil {
		return out, nil
	}
	err = stepError(result.FailedStep, err)

	if !opts.RollbackOnFail && canUndo && result.FailedStep != "connect" && o.prompter != nil && o.prompter.Interactive() {
		ok, perr := o.prompter.ConfirmRollback(env.Name, err)
		if perr != nil {
			o.logger.Warn("rollback prompt failed", "error", perr)
		} else if ok {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
			out.RollbackErr = undo(rctx)
			cancel()
		}
	}
	return out, err
}

// stepError keeps the class of err, defaulting by step.
func stepError(step string, err error) error {
	if deploy.Classify(err) != deploy.ClassNone {
		return err
	}
	class := deploy.ClassCriticalHealthFailure
	switch step {
	case "connect":
		class = deploy.ClassConnectivityFailure
	case "verify":
		class = deploy.ClassApplicationHealthFailure
	}
	return deploy.NewStageError(class, step, err)
}
