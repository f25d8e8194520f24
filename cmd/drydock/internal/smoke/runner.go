// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package smoke re-validates a deployed fleet independently of the executor.

Checks run category by category in a fixed order. Within a category they
run on a bounded worker pool. The infrastructure gate is evaluated after
each category, before the next one starts: when more than one of the
designated database, proxy and cache checks has failed, the run stops with
exit code 2 and the remaining categories are reported as skipped.
*/
package smoke

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/diagnostics"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/resilience"
)

// Exit codes of a smoke run.
const (
	ExitPass     = 0
	ExitFail     = 1
	ExitCritical = 2
)

// Status classifies one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusWarn Status = "warn"
)

// FixResult reports an auto-fix restart. The check itself is not re-run.
type FixResult struct {
	Service   string `json:"service"`
	Restarted bool   `json:"restarted"`
	Error     string `json:"error,omitempty"`
}

// CheckResult is one executed check.
type CheckResult struct {
	Name     string               `json:"name"`
	Category config.SmokeCategory `json:"category"`
	Kind     config.CheckKind     `json:"kind"`
	Status   Status               `json:"status"`
	Latency  time.Duration        `json:"latency_ns"`
	Message  string               `json:"message,omitempty"`
	Optional bool                 `json:"optional,omitempty"`
	Service  string               `json:"service,omitempty"`
	Fix      *FixResult           `json:"fix,omitempty"`
}

// Report is the result set shared by every output mode.
type Report struct {
	Results     []CheckResult          `json:"results"`
	Skipped     []config.SmokeCategory `json:"skipped_categories,omitempty"`
	Aborted     bool                   `json:"aborted"`
	AbortReason string                 `json:"abort_reason,omitempty"`
	Duration    time.Duration          `json:"duration_ns"`
	ExitCode    int                    `json:"exit_code"`
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Config tunes the runner.
type Config struct {
	Timeout     time.Duration
	WarnLatency time.Duration
	SettleDelay time.Duration
	Workers     int

	// Database, Proxy and Cache name the escalation checks.
	Database string
	Proxy    string
	Cache    string

	AutoFix bool
}

// ConfigFrom builds a runner config from the smoke section.
func ConfigFrom(c config.SmokeConfig, autoFix bool) Config {
	return Config{
		Timeout:     c.Timeout,
		WarnLatency: c.WarnLatency,
		SettleDelay: c.SettleDelay,
		Workers:     c.Workers,
		Database:    c.Database,
		Proxy:       c.Proxy,
		Cache:       c.Cache,
		AutoFix:     autoFix,
	}
}

// Runner executes smoke checks.
type Runner struct {
	config   Config
	checks   []config.SmokeCheckConfig
	checkers Checkers
	runtime  container.Runtime
	metrics  diagnostics.Metrics
	logger   *slog.Logger
	wait     func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewRunner creates a runner. runtime is only used for auto-fix and may be
// nil when AutoFix is off.
func NewRunner(cfg Config, checks []config.SmokeCheckConfig, checkers Checkers, rt container.Runtime, metrics diagnostics.Metrics, logger *slog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultSmokeTimeout
	}
	if cfg.WarnLatency <= 0 {
		cfg.WarnLatency = config.DefaultWarnLatency
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultSmokeWorkers
	}
	if metrics == nil {
		metrics = diagnostics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		config:   cfg,
		checks:   checks,
		checkers: checkers,
		runtime:  rt,
		metrics:  metrics,
		logger:   logger,
		wait:     resilience.Sleep,
		now:      time.Now,
	}
}

// Run executes every category in order and returns the report.
func (r *Runner) Run(ctx context.Context) *Report {
	start := r.now()
	report := &Report{}

	for i, cat := range config.SmokeCategories {
		checks := r.inCategory(cat)
		if len(checks) == 0 {
			continue
		}
		if ctx.Err() != nil {
			report.Skipped = append(report.Skipped, r.remaining(i)...)
			break
		}

		results := r.runCategory(ctx, checks)
		report.Results = append(report.Results, results...)

		if failed := r.criticalFailures(report.Results); len(failed) > 1 {
			report.Aborted = true
			report.AbortReason = "critical infrastructure down: " + strings.Join(failed, ", ")
			report.Skipped = append(report.Skipped, r.remaining(i+1)...)
			r.logger.Error("smoke test aborted", "failed", failed)
			break
		}

		if r.config.AutoFix {
			r.autoFix(ctx, report.Results[len(report.Results)-len(results):])
		}
	}

	report.Duration = r.now().Sub(start)
	report.ExitCode = exitCode(report)
	r.metrics.RecordSmokeExit(report.ExitCode)
	r.logger.Info("smoke test finished",
		"exit_code", report.ExitCode,
		"passed", report.Count(StatusPass),
		"warned", report.Count(StatusWarn),
		"failed", report.Count(StatusFail),
		"duration", report.Duration)
	return report
}

func (r *Runner) inCategory(cat config.SmokeCategory) []config.SmokeCheckConfig {
	var out []config.SmokeCheckConfig
	for _, c := range r.checks {
		if c.Category == cat {
			out = append(out, c)
		}
	}
	return out
}

// remaining lists the categories from index i on that have checks.
func (r *Runner) remaining(i int) []config.SmokeCategory {
	var out []config.SmokeCategory
	for _, cat := range config.SmokeCategories[i:] {
		if len(r.inCategory(cat)) > 0 {
			out = append(out, cat)
		}
	}
	return out
}

func (r *Runner) runCategory(ctx context.Context, checks []config.SmokeCheckConfig) []CheckResult {
	results := make([]CheckResult, len(checks))
	var mu sync.Mutex

	wp := workerpool.New(r.config.Workers)
	for i, c := range checks {
		wp.Submit(func() {
			res := r.runCheck(ctx, c)
			mu.Lock()
			results[i] = res
			mu.Unlock()
		})
	}
	wp.StopWait()
	return results
}

func (r *Runner) runCheck(ctx context.Context, c config.SmokeCheckConfig) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := r.now()
	err := r.checkers.Check(ctx, Target{
		Kind:         c.Kind,
		Address:      c.Target,
		ExpectStatus: c.ExpectStatus,
		ExpectBody:   c.ExpectBody,
	})
	latency := r.now().Sub(start)

	res := CheckResult{
		Name:     c.Name,
		Category: c.Category,
		Kind:     c.Kind,
		Latency:  latency,
		Optional: c.Optional,
		Service:  c.Service,
	}
	switch {
	case err != nil && c.Optional && !r.escalates(c.Name):
		res.Status = StatusWarn
		res.Message = err.Error()
	case err != nil:
		res.Status = StatusFail
		res.Message = err.Error()
	case latency > r.config.WarnLatency:
		res.Status = StatusWarn
		res.Message = "slow response: " + latency.Round(time.Millisecond).String()
	default:
		res.Status = StatusPass
	}
	r.metrics.RecordSmokeCheck(string(c.Category), string(res.Status), latency)
	r.logger.Debug("smoke check", "check", c.Name, "status", res.Status, "latency", latency)
	return res
}

// escalates reports whether name is one of the designated database, proxy
// or cache checks. Those always fail hard, even when marked optional.
func (r *Runner) escalates(name string) bool {
	return name != "" && (name == r.config.Database || name == r.config.Proxy || name == r.config.Cache)
}

// criticalFailures returns the failed escalation checks.
func (r *Runner) criticalFailures(results []CheckResult) []string {
	var failed []string
	for _, res := range results {
		if r.escalates(res.Name) && res.Status == StatusFail {
			failed = append(failed, res.Name)
		}
	}
	return failed
}

// autoFix restarts the owner of every failed check once per service and
// waits the settle delay after the restarts.
func (r *Runner) autoFix(ctx context.Context, results []CheckResult) {
	if r.runtime == nil {
		return
	}
	fixed := map[string]*FixResult{}
	for i := range results {
		res := &results[i]
		if res.Status != StatusFail || res.Service == "" {
			continue
		}
		if fr, ok := fixed[res.Service]; ok {
			res.Fix = fr
			continue
		}
		fr := &FixResult{Service: res.Service}
		if err := r.runtime.Restart(ctx, res.Service); err != nil {
			fr.Error = err.Error()
			r.logger.Warn("auto-fix restart failed", "service", res.Service, "error", err)
		} else {
			fr.Restarted = true
			r.logger.Info("auto-fix restarted service", "service", res.Service, "check", res.Name)
		}
		fixed[res.Service] = fr
		res.Fix = fr
	}
	if len(fixed) > 0 && r.config.SettleDelay > 0 {
		if err := r.wait(ctx, r.config.SettleDelay); err != nil {
			r.logger.Warn("auto-fix settle wait interrupted", "error", err)
		}
	}
}

func exitCode(r *Report) int {
	if r.Aborted {
		return ExitCritical
	}
	if r.Count(StatusFail) > 0 || len(r.Skipped) > 0 {
		return ExitFail
	}
	return ExitPass
}
