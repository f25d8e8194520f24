// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/diagnostics"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/resilience"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/smoke"
)

// Status is the final state of one probe.
type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusRemediated Status = "remediated"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Passed reports whether the status counts toward the passed total.
func (s Status) Passed() bool {
	return s == StatusHealthy || s == StatusRemediated
}

// Result is the outcome of one probe.
type Result struct {
	Name     string               `json:"name"`
	Category config.ProbeCategory `json:"category"`
	Status   Status               `json:"status"`
	Latency  time.Duration        `json:"latency_ns"`
	Message  string               `json:"message,omitempty"`

	// CanRemediate is true when a failure would be answered with a restart.
	CanRemediate bool `json:"can_remediate"`

	// Details holds the measured latency and, for container probes, the
	// container state seen by the runtime.
	Details map[string]any `json:"details,omitempty"`

	// Remediation is set when a restart was attempted.
	Remediation string `json:"remediation,omitempty"`

	// Runbook lists manual recovery steps for probes left failed.
	Runbook []string `json:"runbook,omitempty"`

	// Err carries the RemediationFailure for failed remediations.
	Err error `json:"-"`
}

// Summary counts a report.
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is one probe pass.
type Report struct {
	Environment string    `json:"environment,omitempty"`
	Results     []Result  `json:"results"`
	Summary     Summary   `json:"summary"`
	StartedAt   time.Time `json:"started_at"`
}

// Healthy reports whether nothing failed.
func (r *Report) Healthy() bool { return r.Summary.Failed == 0 }

// RemediationErrors joins every remediation failure in the report.
func (r *Report) RemediationErrors() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Options control one pass.
type Options struct {
	Parallel  bool
	Remediate bool
}

// Config tunes the runner.
type Config struct {
	Timeout     time.Duration
	SettleDelay time.Duration

	// Parallelism bounds concurrent probes in parallel mode. Zero means
	// unbounded.
	Parallelism int
}

// Runner executes probes.
type Runner struct {
	config   Config
	checkers smoke.Checkers
	runtime  container.Runtime
	metrics  diagnostics.Metrics
	logger   *slog.Logger
	wait     func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewRunner builds a runner. The container kind is served by rt.
func NewRunner(cfg Config, checkers smoke.Checkers, rt container.Runtime, metrics diagnostics.Metrics, logger *slog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultSmokeTimeout
	}
	if metrics == nil {
		metrics = diagnostics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		config:   cfg,
		checkers: maps.Clone(checkers),
		runtime:  rt,
		metrics:  metrics,
		logger:   logger,
		wait:     resilience.Sleep,
		now:      time.Now,
	}
	if r.checkers == nil {
		r.checkers = smoke.Checkers{}
	}
	if rt != nil {
		r.checkers[config.CheckContainer] = containerChecker{rt: rt}
	}
	return r
}

// Run executes the selected probes and reports skipped ones.
func (r *Runner) Run(ctx context.Context, env string, probes, skipped []config.ProbeConfig, opts Options) *Report {
	start := r.now()
	report := &Report{Environment: env, StartedAt: start}

	results := make([]Result, len(probes))
	if opts.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		if r.config.Parallelism > 0 {
			g.SetLimit(r.config.Parallelism)
		}
		for i, p := range probes {
			g.Go(func() error {
				results[i] = r.runOne(gctx, p, opts.Remediate)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, p := range probes {
			results[i] = r.runOne(ctx, p, opts.Remediate)
		}
	}

	for _, p := range skipped {
		results = append(results, Result{
			Name:     p.Name,
			Category: p.Category,
			Status:   StatusSkipped,
			Message:  "not enabled for environment " + env,
		})
	}
	report.Results = results
	report.Summary = summarize(results, r.now().Sub(start))

	r.logger.Info("probe pass finished",
		"environment", env,
		"total", report.Summary.Total,
		"passed", report.Summary.Passed,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped)
	return report
}

func (r *Runner) runOne(ctx context.Context, p config.ProbeConfig, remediate bool) Result {
	res := Result{Name: p.Name, Category: p.Category, CanRemediate: r.canRemediate(p)}

	latency, details, err := r.check(ctx, p)
	res.Latency = latency
	res.Details = details
	if err == nil {
		res.Status = StatusHealthy
		r.metrics.RecordProbe(string(p.Category), true)
		return res
	}
	res.Status = StatusFailed
	res.Message = err.Error()

	switch {
	case !remediate:
	case !res.CanRemediate:
		res.Remediation = "not remediable"
	default:
		r.remediate(ctx, p, &res)
	}

	if res.Status == StatusFailed {
		res.Runbook = runbook(p)
	}
	r.metrics.RecordProbe(string(p.Category), res.Status.Passed())
	return res
}

// remediate restarts the owning service, waits the settle delay and checks
// again. The re-check decides the final status.
func (r *Runner) remediate(ctx context.Context, p config.ProbeConfig, res *Result) {
	r.logger.Info("remediating probe", "probe", p.Name, "service", p.Service)

	if err := r.runtime.Restart(ctx, p.Service); err != nil {
		res.Remediation = "restart failed"
		res.Err = deploy.NewStageError(deploy.ClassRemediationFailure, "remediate "+p.Name,
			fmt.Errorf("restart %s: %w", p.Service, err))
		r.logger.Warn("remediation failed", "probe", p.Name, "service", p.Service, "error", err)
		return
	}
	if r.config.SettleDelay > 0 {
		if err := r.wait(ctx, r.config.SettleDelay); err != nil {
			res.Remediation = "interrupted"
			res.Err = deploy.NewStageError(deploy.ClassRemediationFailure, "remediate "+p.Name, err)
			return
		}
	}

	latency, details, err := r.check(ctx, p)
	res.Latency = latency
	res.Details = details
	if err != nil {
		res.Remediation = "restarted, still failing"
		res.Message = err.Error()
		res.Err = deploy.NewStageError(deploy.ClassRemediationFailure, "remediate "+p.Name,
			fmt.Errorf("re-check after restart of %s: %w", p.Service, err))
		return
	}
	res.Status = StatusRemediated
	res.Remediation = "restarted " + p.Service
	res.Message = ""
}

func (r *Runner) canRemediate(p config.ProbeConfig) bool {
	return p.Service != "" && r.runtime != nil
}

func (r *Runner) check(ctx context.Context, p config.ProbeConfig) (time.Duration, map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	details := map[string]any{}
	start := r.now()
	var err error
	if p.Kind == config.CheckContainer && r.runtime != nil {
		var st container.State
		st, err = containerChecker{rt: r.runtime}.inspect(ctx, targetOf(p))
		if st.Container != "" {
			details["container"] = st.Container
			details["state"] = st.Status
			if st.HasHealthCheck() {
				details["health"] = st.Health
			}
		}
	} else {
		err = r.checkers.Check(ctx, smoke.Target{
			Kind:         p.Kind,
			Address:      targetOf(p),
			ExpectStatus: p.ExpectStatus,
		})
	}
	latency := r.now().Sub(start)
	details["latency_ms"] = latency.Milliseconds()
	return latency, details, err
}

// targetOf is the address a probe checks. Container probes default to their
// owning service.
func targetOf(p config.ProbeConfig) string {
	if p.Target == "" && p.Kind == config.CheckContainer {
		return p.Service
	}
	return p.Target
}

// runbook returns the configured steps, or generic ones.
func runbook(p config.ProbeConfig) []string {
	if len(p.Runbook) > 0 {
		return p.Runbook
	}
	steps := []string{}
	if p.Service != "" {
		steps = append(steps,
			fmt.Sprintf("inspect the logs of %s", p.Service),
			fmt.Sprintf("restart %s and watch it reach running", p.Service))
	}
	steps = append(steps,
		fmt.Sprintf("verify %s is reachable from this host", targetOf(p)),
		fmt.Sprintf("re-run: drydock status --category %s", p.Category))
	return steps
}

func summarize(results []Result, d time.Duration) Summary {
	s := Summary{Total: len(results), Duration: d}
	for _, res := range results {
		switch {
		case res.Status == StatusSkipped:
			s.Skipped++
		case res.Status.Passed():
			s.Passed++
		default:
			s.Failed++
		}
	}
	return s
}

// containerChecker treats the target as a service name and requires a
// running container that is not reporting unhealthy.
type containerChecker struct {
	rt container.Runtime
}

func (c containerChecker) Check(ctx context.Context, t smoke.Target) error {
	_, err := c.inspect(ctx, t.Address)
	return err
}

func (c containerChecker) inspect(ctx context.Context, service string) (container.State, error) {
	st, err := c.rt.State(ctx, service)
	if err != nil {
		return st, err
	}
	if !st.Running {
		return st, fmt.Errorf("container %s is %s", st.Container, st.Status)
	}
	if st.Health == container.HealthUnhealthy {
		return st, fmt.Errorf("container %s reports unhealthy", st.Container)
	}
	return st, nil
}
