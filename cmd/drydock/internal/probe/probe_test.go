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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/diagnostics"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/smoke"
	"github.com/AleutianAI/drydock/pkg/ux"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// sequence answers each address from a queue of errors; the last entry
// repeats.
type sequence struct {
	mu    sync.Mutex
	plan  map[string][]error
	calls map[string]int
}

func (s *sequence) Check(_ context.Context, t smoke.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	n := s.calls[t.Address]
	s.calls[t.Address]++
	plan := s.plan[t.Address]
	if len(plan) == 0 {
		return nil
	}
	if n >= len(plan) {
		n = len(plan) - 1
	}
	return plan[n]
}

func probes() []config.ProbeConfig {
	return []config.ProbeConfig{
		{Name: "api", Category: config.ProbeService, Kind: config.CheckHTTP, Target: "api", Service: "app"},
		{Name: "postgres", Category: config.ProbeInfrastructure, Kind: config.CheckHTTP, Target: "postgres", Service: "db"},
		{Name: "llm", Category: config.ProbeAI, Kind: config.CheckHTTP, Target: "llm", Environments: []string{"cloud"}},
		{Name: "edge", Category: config.ProbeService, Kind: config.CheckHTTP, Target: "edge"},
	}
}

func newRunner(seq *sequence, rt container.Runtime) (*Runner, *diagnostics.NoOpMetrics) {
	m := diagnostics.NewNoOpMetrics()
	r := NewRunner(Config{SettleDelay: time.Second}, smoke.Checkers{config.CheckHTTP: seq}, rt, m, discard())
	r.wait = func(context.Context, time.Duration) error { return nil }
	return r, m
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(probes())
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	_, err = NewRegistry(append(probes(), config.ProbeConfig{Name: "api", Category: config.ProbeService}))
	assert.ErrorContains(t, err, `duplicate probe "api"`)

	_, err = NewRegistry([]config.ProbeConfig{{Name: "x", Category: "network"}})
	assert.ErrorContains(t, err, "unknown probe category")
}

func TestRegistry_Select(t *testing.T) {
	reg, err := NewRegistry(probes())
	require.NoError(t, err)

	run, skipped := reg.Select(Filter{Environment: "local"})
	assert.Len(t, run, 3)
	require.Len(t, skipped, 1)
	assert.Equal(t, "llm", skipped[0].Name)

	run, skipped = reg.Select(Filter{Environment: "cloud", Category: config.ProbeAI})
	require.Len(t, run, 1)
	assert.Equal(t, "llm", run[0].Name)
	assert.Empty(t, skipped)
}

func TestRun_SummaryCounts(t *testing.T) {
	seq := &sequence{plan: map[string][]error{"edge": {errors.New("503")}}}
	r, m := newRunner(seq, nil)
	reg, _ := NewRegistry(probes())
	run, skipped := reg.Select(Filter{Environment: "local"})

	for _, parallel := range []bool{false, true} {
		report := r.Run(context.Background(), "local", run, skipped, Options{Parallel: parallel})
		assert.Equal(t, Summary{Total: 4, Passed: 2, Failed: 1, Skipped: 1, Duration: report.Summary.Duration}, report.Summary)
		assert.False(t, report.Healthy())
		assert.Equal(t, []string{"api", "postgres", "edge", "llm"}, names(report))
	}
	assert.Equal(t, int64(6), m.Probes())
}

func TestRun_RemediationRecovers(t *testing.T) {
	seq := &sequence{plan: map[string][]error{"api": {errors.New("502"), nil}}}
	var restarted []string
	rt := &container.MockRuntime{RestartFunc: func(_ context.Context, svc string) error {
		restarted = append(restarted, svc)
		return nil
	}}
	r, _ := newRunner(seq, rt)
	var waited time.Duration
	r.wait = func(_ context.Context, d time.Duration) error { waited = d; return nil }

	report := r.Run(context.Background(), "local", probes()[:1], nil, Options{Remediate: true})

	res := report.Results[0]
	assert.Equal(t, StatusRemediated, res.Status)
	assert.Equal(t, "restarted app", res.Remediation)
	assert.Empty(t, res.Runbook)
	assert.Equal(t, []string{"app"}, restarted)
	assert.Equal(t, time.Second, waited)
	assert.True(t, report.Healthy())
	assert.NoError(t, report.RemediationErrors())
}

func TestRun_RestartFailureStaysFailed(t *testing.T) {
	seq := &sequence{plan: map[string][]error{"api": {errors.New("502")}}}
	rt := &container.MockRuntime{RestartFunc: func(context.Context, string) error {
		return errors.New("daemon unavailable")
	}}
	r, _ := newRunner(seq, rt)

	report := r.Run(context.Background(), "local", probes()[:1], nil, Options{Remediate: true})

	res := report.Results[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "restart failed", res.Remediation)
	assert.NotEmpty(t, res.Runbook)
	assert.Equal(t, deploy.ClassRemediationFailure, deploy.Classify(res.Err))
	assert.False(t, deploy.Classify(report.RemediationErrors()).Fatal())
	assert.Equal(t, 1, seq.calls["api"], "no re-check after a failed restart")
}

func TestRun_RecheckDecides(t *testing.T) {
	seq := &sequence{plan: map[string][]error{"api": {errors.New("502"), errors.New("still 502")}}}
	r, _ := newRunner(seq, &container.MockRuntime{})

	report := r.Run(context.Background(), "local", probes()[:1], nil, Options{Remediate: true})

	res := report.Results[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "still 502", res.Message)
	assert.Equal(t, 2, seq.calls["api"])
	assert.Equal(t, deploy.ClassRemediationFailure, deploy.Classify(res.Err))
}

func TestRun_IrremediableGetsRunbook(t *testing.T) {
	seq := &sequence{plan: map[string][]error{"edge": {errors.New("refused")}}}
	r, _ := newRunner(seq, &container.MockRuntime{})

	report := r.Run(context.Background(), "local", probes()[3:], nil, Options{Remediate: true})

	res := report.Results[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "not remediable", res.Remediation)
	assert.Equal(t, []string{
		"verify edge is reachable from this host",
		"re-run: drydock status --category service",
	}, res.Runbook)
}

func TestRun_ConfiguredRunbookWins(t *testing.T) {
	seq := &sequence{plan: map[string][]error{"api": {errors.New("502")}}}
	r, _ := newRunner(seq, nil)
	p := probes()[0]
	p.Runbook = []string{"page the on-call", "fail over to the standby"}

	report := r.Run(context.Background(), "local", []config.ProbeConfig{p}, nil, Options{})

	assert.Equal(t, p.Runbook, report.Results[0].Runbook)
	assert.Empty(t, report.Results[0].Remediation)
}

func TestContainerChecker(t *testing.T) {
	rt := &container.MockRuntime{StateFunc: func(_ context.Context, svc string) (container.State, error) {
		switch svc {
		case "db":
			return container.State{Service: svc, Container: "fleet-db", Running: true, Health: container.HealthHealthy}, nil
		case "cache":
			return container.State{Service: svc, Container: "fleet-cache", Running: true, Health: container.HealthUnhealthy}, nil
		case "worker":
			return container.State{Service: svc, Container: "fleet-worker", Status: "exited"}, nil
		}
		return container.State{}, container.ErrNotFound
	}}
	r := NewRunner(Config{}, nil, rt, nil, discard())
	ps := []config.ProbeConfig{
		{Name: "db", Category: config.ProbeInfrastructure, Kind: config.CheckContainer, Target: "db"},
		{Name: "cache", Category: config.ProbeInfrastructure, Kind: config.CheckContainer, Target: "cache"},
		{Name: "worker", Category: config.ProbeService, Kind: config.CheckContainer, Target: "worker"},
		{Name: "ghost", Category: config.ProbeService, Kind: config.CheckContainer, Target: "ghost"},
	}

	report := r.Run(context.Background(), "", ps, nil, Options{})

	assert.Equal(t, StatusHealthy, report.Results[0].Status)
	assert.Contains(t, report.Results[1].Message, "reports unhealthy")
	assert.Contains(t, report.Results[2].Message, "fleet-worker is exited")
	assert.Contains(t, report.Results[3].Message, "container not found")
}

// runningFleet reports every service as a running, healthy container and
// records the services asked about and restarted.
func runningFleet(asked, restarted *[]string) *container.MockRuntime {
	var mu sync.Mutex
	return &container.MockRuntime{
		StateFunc: func(_ context.Context, svc string) (container.State, error) {
			mu.Lock()
			defer mu.Unlock()
			*asked = append(*asked, svc)
			if svc == "" {
				return container.State{}, container.ErrNotFound
			}
			return container.State{Service: svc, Container: "fleet-" + svc, Running: true,
				Status: "running", Health: container.HealthHealthy}, nil
		},
		RestartFunc: func(_ context.Context, svc string) error {
			mu.Lock()
			defer mu.Unlock()
			*restarted = append(*restarted, svc)
			return nil
		},
	}
}

func TestContainerProbe_FallsBackToService(t *testing.T) {
	var asked, restarted []string
	r := NewRunner(Config{}, nil, runningFleet(&asked, &restarted), nil, discard())
	p := config.ProbeConfig{Name: "postgres", Category: config.ProbeInfrastructure,
		Kind: config.CheckContainer, Service: "postgres"}

	report := r.Run(context.Background(), "local", []config.ProbeConfig{p}, nil, Options{Remediate: true})

	res := report.Results[0]
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, []string{"postgres"}, asked)
	assert.Empty(t, restarted)
	assert.True(t, res.CanRemediate)
	assert.Equal(t, "fleet-postgres", res.Details["container"])
	assert.Equal(t, "running", res.Details["state"])
	assert.Equal(t, container.HealthHealthy, res.Details["health"])
}

func TestDefaultProbes_HealthyFleetPasses(t *testing.T) {
	cfg := config.DefaultConfig()
	reg, err := NewRegistry(cfg.Probes)
	require.NoError(t, err)
	run, skipped := reg.Select(Filter{Environment: "local"})
	require.NotEmpty(t, run)

	var asked, restarted []string
	ok := &sequence{}
	checkers := smoke.Checkers{config.CheckHTTP: ok, config.CheckTCP: ok, config.CheckRedis: ok, config.CheckPostgres: ok}
	r := NewRunner(Config{}, checkers, runningFleet(&asked, &restarted), nil, discard())
	r.wait = func(context.Context, time.Duration) error { return nil }

	report := r.Run(context.Background(), "local", run, skipped, Options{Remediate: true, Parallel: true})

	for _, res := range report.Results {
		if res.Status == StatusSkipped {
			continue
		}
		assert.Equal(t, StatusHealthy, res.Status, "%s: %s", res.Name, res.Message)
	}
	assert.True(t, report.Healthy())
	assert.Empty(t, restarted)
	assert.NotContains(t, asked, "")
}

func TestWriteJSON_RemediationAndDetails(t *testing.T) {
	var asked, restarted []string
	r := NewRunner(Config{}, nil, runningFleet(&asked, &restarted), nil, discard())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	ps := []config.ProbeConfig{
		{Name: "bot", Category: config.ProbeService, Kind: config.CheckContainer, Service: "bot"},
	}
	report := r.Run(context.Background(), "local", ps, nil, Options{})

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, report))
	out := buf.String()
	assert.Contains(t, out, `"can_remediate": true`)
	assert.Contains(t, out, `"container": "fleet-bot"`)
	assert.Contains(t, out, `"latency_ms": 0`)
}

func TestRun_NoRuntimeCannotRemediate(t *testing.T) {
	seq := &sequence{plan: map[string][]error{"api": {errors.New("502")}}}
	r, _ := newRunner(seq, nil)

	report := r.Run(context.Background(), "local", probes()[:1], nil, Options{Remediate: true})

	res := report.Results[0]
	assert.False(t, res.CanRemediate)
	assert.Equal(t, "not remediable", res.Remediation)
	assert.Contains(t, res.Details, "latency_ms")
}

func TestNewRunner_DoesNotMutateCheckers(t *testing.T) {
	shared := smoke.Checkers{}
	NewRunner(Config{}, shared, &container.MockRuntime{}, nil, discard())
	assert.Empty(t, shared)
}

func TestWatchLoop_ReloadsBeforeNextPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan struct{}, 1)
	var passes, reloads atomic.Int32
	opts := WatchOptions{
		Interval: time.Millisecond,
		Logger:   discard(),
		Reload: func() error {
			reloads.Add(1)
			return nil
		},
		Pass: func(context.Context) error {
			n := passes.Add(1)
			if n == 1 {
				changes <- struct{}{}
			}
			if n == 3 {
				cancel()
			}
			return nil
		},
	}

	err := watchLoop(ctx, opts, rate.NewLimiter(rate.Every(time.Millisecond), 1), changes)
	require.NoError(t, err)
	assert.Equal(t, int32(3), passes.Load())
	assert.Equal(t, int32(1), reloads.Load())
}

func TestWatchLoop_PassErrorStops(t *testing.T) {
	boom := errors.New("boom")
	err := watchLoop(context.Background(), WatchOptions{
		Interval: time.Millisecond,
		Logger:   discard(),
		Pass:     func(context.Context) error { return boom },
	}, rate.NewLimiter(rate.Inf, 1), nil)
	assert.ErrorIs(t, err, boom)
}

func TestWatch_RejectsZeroInterval(t *testing.T) {
	assert.Error(t, Watch(context.Background(), WatchOptions{}))
}

func TestWatchFile_SignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drydock.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, stop, err := watchFile(ctx, path, discard())
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no change signal")
	}
}

func TestWriteHuman(t *testing.T) {
	report := &Report{
		Environment: "cloud",
		Results: []Result{
			{Name: "api", Category: config.ProbeService, Status: StatusFailed, Message: "502", Runbook: []string{"inspect the logs of app"}},
		},
		Summary: Summary{Total: 1, Failed: 1},
	}
	var buf bytes.Buffer
	WriteHuman(ux.NewPrinterWithLevel(&buf, ux.PersonalityMachine), report)
	assert.Contains(t, buf.String(), "FAIL\tapi\tservice, 502")
	assert.Contains(t, buf.String(), "SUMMARY: total=1 passed=0 failed=1 skipped=0")

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, report))
	assert.Contains(t, buf.String(), `"environment": "cloud"`)
}

func names(r *Report) []string {
	out := make([]string, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Name
	}
	return out
}
