// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/registry"
)

// instantTimer fires immediately and counts how often it was armed.
type instantTimer struct{ ch chan time.Time }

func (i instantTimer) C() <-chan time.Time { return i.ch }
func (i instantTimer) Stop() bool          { return true }

func newInstantTimers(count *int32) func(time.Duration) Timer {
	return func(time.Duration) Timer {
		atomic.AddInt32(count, 1)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return instantTimer{ch: ch}
	}
}

func testRegistry(t *testing.T, healthURL string) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Service{
		{Name: "db", Tier: 0, Critical: true, Health: config.HealthProcess},
		{Name: "api", Tier: 1, Health: config.HealthHTTP, HealthURL: healthURL},
		{Name: "site", Tier: 2, Health: config.HealthNone},
	})
	require.NoError(t, err)
	return reg
}

func newTestProber(t *testing.T, rt container.Runtime, healthURL string, waits *int32) *Prober {
	p := NewProber(testRegistry(t, healthURL), rt, nil, Config{}, nil)
	p.newTimer = newInstantTimers(waits)
	return p
}

func TestVerify_HealthyOnSixthAttempt(t *testing.T) {
	var calls int32
	rt := &container.MockRuntime{
		StateFunc: func(ctx context.Context, service string) (container.State, error) {
			n := atomic.AddInt32(&calls, 1)
			health := container.HealthUnhealthy
			if n == 6 {
				health = container.HealthHealthy
			}
			return container.State{Service: service, Running: true, Health: health}, nil
		},
	}
	var waits int32
	p := newTestProber(t, rt, "", &waits)

	res, err := p.Verify(context.Background(), "db", 6, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, 6, res.Attempts)
	assert.False(t, res.Fatal)
	assert.Equal(t, int32(5), waits)
}

func TestVerify_ExhaustionCriticalIsFatal(t *testing.T) {
	rt := &container.MockRuntime{
		StateFunc: func(ctx context.Context, service string) (container.State, error) {
			return container.State{Running: true, Health: container.HealthStarting}, nil
		},
	}
	var waits int32
	p := newTestProber(t, rt, "", &waits)

	res, err := p.Verify(context.Background(), "db", 6, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, 6, res.Attempts)
	assert.True(t, res.Fatal)
	assert.Contains(t, res.Message, "after 6 attempts")
}

func TestVerify_ExhaustionNonCriticalIsWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var waits int32
	p := newTestProber(t, &container.MockRuntime{}, srv.URL, &waits)

	res, err := p.Verify(context.Background(), "api", 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.False(t, res.Fatal)
	assert.Equal(t, 3, res.Attempts)
}

func TestVerify_NotRunningFailsImmediately(t *testing.T) {
	tests := []struct {
		name  string
		state container.State
		err   error
	}{
		{name: "exited", state: container.State{Running: false, Status: "exited"}},
		{name: "missing", err: container.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &container.MockRuntime{
				StateFunc: func(ctx context.Context, service string) (container.State, error) {
					return tt.state, tt.err
				},
			}
			var waits int32
			p := newTestProber(t, rt, "", &waits)

			res, err := p.Verify(context.Background(), "db", 6, time.Second)
			require.NoError(t, err)
			assert.Equal(t, StatusNotRunning, res.Status)
			assert.Equal(t, 1, res.Attempts)
			assert.True(t, res.Fatal)
			assert.Zero(t, waits)
		})
	}
}

func TestVerify_RunningWithoutCheck(t *testing.T) {
	var waits int32
	p := newTestProber(t, &container.MockRuntime{}, "", &waits)

	for _, name := range []string{"db", "site"} {
		res, err := p.Verify(context.Background(), name, 6, time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusRunningNoCheck, res.Status, name)
		assert.True(t, res.OK())
	}
}

func TestVerify_HTTPHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var waits int32
	p := newTestProber(t, &container.MockRuntime{}, srv.URL, &waits)

	res, err := p.Verify(context.Background(), "api", 6, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "HTTP 200", res.Message)
}

func TestVerify_RuntimeHealthOverridesHTTP(t *testing.T) {
	rt := &container.MockRuntime{
		StateFunc: func(ctx context.Context, service string) (container.State, error) {
			return container.State{Running: true, Health: container.HealthHealthy}, nil
		},
	}
	var waits int32
	// Unroutable URL; the runtime answer must win before any request.
	p := newTestProber(t, rt, "http://127.0.0.1:1/health", &waits)

	res, err := p.Verify(context.Background(), "api", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, res.Status)
}

func TestVerify_CancelDuringWait(t *testing.T) {
	rt := &container.MockRuntime{
		StateFunc: func(ctx context.Context, service string) (container.State, error) {
			return container.State{Running: true, Health: container.HealthUnhealthy}, nil
		},
	}
	p := NewProber(testRegistry(t, ""), rt, nil, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := p.Verify(ctx, "db", 6, time.Hour)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, res.Fatal)
	assert.Contains(t, res.Message, "cancelled")
}

func TestVerify_UnknownService(t *testing.T) {
	var waits int32
	p := newTestProber(t, &container.MockRuntime{}, "", &waits)

	_, err := p.Verify(context.Background(), "ghost", 1, time.Second)
	assert.True(t, errors.Is(err, registry.ErrUnknownService))
}

func TestWaitRunning(t *testing.T) {
	var calls int32
	rt := &container.MockRuntime{
		StateFunc: func(ctx context.Context, service string) (container.State, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return container.State{Status: "created"}, nil
			}
			return container.State{Running: true}, nil
		},
	}
	var waits int32
	p := newTestProber(t, rt, "", &waits)

	require.NoError(t, p.WaitRunning(context.Background(), "db", time.Minute))
	assert.Equal(t, int32(3), calls)
}

func TestWaitRunning_Timeout(t *testing.T) {
	rt := &container.MockRuntime{
		StateFunc: func(ctx context.Context, service string) (container.State, error) {
			return container.State{Status: "exited"}, nil
		},
	}
	p := NewProber(testRegistry(t, ""), rt, nil, Config{PollInterval: time.Millisecond}, nil)

	err := p.WaitRunning(context.Background(), "db", 20*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not start")
}

func TestStatusMatches(t *testing.T) {
	assert.True(t, StatusMatches(204, 0))
	assert.False(t, StatusMatches(302, 0))
	assert.True(t, StatusMatches(302, 302))
	assert.False(t, StatusMatches(200, 401))
}

func TestCheckAll(t *testing.T) {
	rt := &container.MockRuntime{
		StateFunc: func(ctx context.Context, service string) (container.State, error) {
			if service == "site" {
				return container.State{}, container.ErrNotFound
			}
			return container.State{Running: true, Health: container.HealthHealthy}, nil
		},
	}
	var waits int32
	p := newTestProber(t, rt, "", &waits)

	results := p.CheckAll(context.Background())
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.Equal(t, StatusNotRunning, results[2].Status)
	assert.Zero(t, waits)
}
