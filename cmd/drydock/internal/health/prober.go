// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health verifies that started services are actually ready.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/registry"
)

// Timer is a cancellable one-shot timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type stdTimer struct{ t *time.Timer }

func (s stdTimer) C() <-chan time.Time { return s.t.C }
func (s stdTimer) Stop() bool          { return s.t.Stop() }

func newStdTimer(d time.Duration) Timer { return stdTimer{t: time.NewTimer(d)} }

// Prober runs the readiness state machine against the container runtime.
//
// # Description
//
// Each Verify call walks pending -> checking -> waiting -> checking ... ->
// done. The waiting phase blocks on a timer and on ctx, so cancelling ctx
// ends the wait immediately instead of sleeping out the interval.
//
// # Thread Safety
//
// Safe for concurrent use; Verify keeps all state on its own stack.
type Prober struct {
	registry *registry.Registry
	runtime  container.Runtime
	http     HTTPClient
	config   Config
	logger   *slog.Logger
	newTimer func(time.Duration) Timer
}

// NewProber creates a prober. A nil httpClient gets a client bounded by
// cfg.HTTPTimeout.
func NewProber(reg *registry.Registry, rt container.Runtime, httpClient HTTPClient, cfg Config, logger *slog.Logger) *Prober {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		registry: reg,
		runtime:  rt,
		http:     httpClient,
		config:   cfg,
		logger:   logger,
		newTimer: newStdTimer,
	}
}

// Verify polls one service until it is ready, fails, or attempts run out.
//
// # Inputs
//
//   - ctx: Cancels the wait between attempts.
//   - name: Registry name of the service.
//   - maxAttempts: Upper bound on checks; <= 0 uses the configured default.
//   - interval: Delay between checks; <= 0 uses the configured default.
//
// # Outputs
//
//   - Result: Final classification. Fatal is set for a critical service
//     that did not pass.
//   - error: Only for unknown services.
func (p *Prober) Verify(ctx context.Context, name string, maxAttempts int, interval time.Duration) (Result, error) {
	svc, err := p.registry.Service(name)
	if err != nil {
		return Result{}, err
	}
	if maxAttempts <= 0 {
		maxAttempts = p.config.MaxAttempts
	}
	if interval <= 0 {
		interval = p.config.Interval
	}

	res := Result{Service: svc.Name, Critical: svc.Critical}
	var start time.Time
	state := phasePending

	for state != phaseDone {
		switch state {
		case phasePending:
			start = time.Now()
			state = phaseChecking

		case phaseChecking:
			res.Attempts++
			obs, msg := p.observe(ctx, svc)
			res.Message = msg
			p.logger.Debug("health attempt", "service", svc.Name, "attempt", res.Attempts, "max", maxAttempts, "message", msg)

			switch obs {
			case obsHealthy:
				res.Status = StatusHealthy
				state = phaseDone
			case obsRunningNoCheck:
				res.Status = StatusRunningNoCheck
				state = phaseDone
			case obsNotRunning:
				res.Status = StatusNotRunning
				state = phaseDone
			case obsRetry:
				res.Status = StatusUnhealthy
				if res.Attempts >= maxAttempts {
					res.Message = fmt.Sprintf("still unhealthy after %d attempts: %s", res.Attempts, msg)
					state = phaseDone
				} else {
					state = phaseWaiting
				}
			}

		case phaseWaiting:
			timer := p.newTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Message = fmt.Sprintf("cancelled while waiting: %v", ctx.Err())
				state = phaseDone
			case <-timer.C():
				state = phaseChecking
			}
		}
	}

	res.Elapsed = time.Since(start)
	res.Fatal = res.Critical && !res.OK()
	p.logResult(res)
	return res, nil
}

// Check performs a single observation with no retries.
func (p *Prober) Check(ctx context.Context, name string) (Result, error) {
	return p.Verify(ctx, name, 1, p.config.Interval)
}

// CheckAll runs Check for every registered service in tier order.
func (p *Prober) CheckAll(ctx context.Context) []Result {
	names := p.registry.Names()
	results := make([]Result, 0, len(names))
	for _, name := range names {
		res, err := p.Check(ctx, name)
		if err != nil {
			res = Result{Service: name, Status: StatusNotRunning, Message: err.Error()}
		}
		results = append(results, res)
	}
	return results
}

// WaitRunning polls until the service container reports running or timeout
// elapses.
func (p *Prober) WaitRunning(ctx context.Context, name string, timeout time.Duration) error {
	svc, err := p.registry.Service(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		st, err := p.runtime.State(ctx, svc.Name)
		if err == nil && st.Running {
			return nil
		}
		timer := p.newTimer(p.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if err != nil {
				return fmt.Errorf("%s did not start within %s: %w", svc.Name, timeout, err)
			}
			return fmt.Errorf("%s did not start within %s (status %q)", svc.Name, timeout, st.Status)
		case <-timer.C():
		}
	}
}

// observe classifies the current state of svc.
func (p *Prober) observe(ctx context.Context, svc registry.Service) (observation, string) {
	st, err := p.runtime.State(ctx, svc.Name)
	if errors.Is(err, container.ErrNotFound) {
		return obsNotRunning, "no container"
	}
	if err != nil {
		return obsRetry, fmt.Sprintf("runtime query failed: %v", err)
	}
	if !st.Running {
		if st.Status == "restarting" {
			return obsRetry, "container restarting"
		}
		return obsNotRunning, fmt.Sprintf("container %s", orUnknown(st.Status))
	}

	switch st.Health {
	case container.HealthHealthy:
		return obsHealthy, "runtime reports healthy"
	case container.HealthUnhealthy, container.HealthStarting:
		return obsRetry, "runtime reports " + st.Health
	}

	if svc.Health == config.HealthHTTP && svc.HealthURL != "" {
		return p.probeHTTP(ctx, svc)
	}
	return obsRunningNoCheck, "running, no health check configured"
}

func (p *Prober) probeHTTP(ctx context.Context, svc registry.Service) (observation, string) {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, svc.HealthURL, nil)
	if err != nil {
		return obsRetry, fmt.Sprintf("bad health URL: %v", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return obsRetry, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if StatusMatches(resp.StatusCode, svc.ExpectStatus) {
		return obsHealthy, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return obsRetry, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// StatusMatches compares an HTTP status to an expectation; 0 accepts 2xx.
func StatusMatches(got, want int) bool {
	if want == 0 {
		return got >= 200 && got < 300
	}
	return got == want
}

func (p *Prober) logResult(res Result) {
	attrs := []any{"service", res.Service, "status", res.Status, "attempts", res.Attempts, "elapsed", res.Elapsed.Round(time.Millisecond)}
	switch {
	case res.OK():
		p.logger.Info("service ready", attrs...)
	case res.Fatal:
		p.logger.Error("critical service failed health check", append(attrs, "message", res.Message)...)
	default:
		p.logger.Warn("service failed health check", append(attrs, "message", res.Message)...)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "not running"
	}
	return s
}
