// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dbverify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
)

type fakeCatalog struct {
	databases map[string]bool
	listErrs  int
	lists     int
	created   []string
	createErr error
}

func (f *fakeCatalog) ListDatabases(ctx context.Context) ([]string, error) {
	f.lists++
	if f.listErrs > 0 {
		f.listErrs--
		return nil, errors.New("connection refused")
	}
	var out []string
	for name := range f.databases {
		out = append(out, name)
	}
	return out, nil
}

func (f *fakeCatalog) CreateDatabase(ctx context.Context, name string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, name)
	f.databases[name] = true
	return nil
}

func newVerifier(cfg Config, cat Catalog, rt container.Runtime) (*Verifier, *int) {
	waits := 0
	v := NewVerifier(cfg, cat, rt, nil)
	v.wait = func(ctx context.Context, d time.Duration) error {
		waits++
		return ctx.Err()
	}
	return v, &waits
}

func TestVerify_AllPresentIsSilent(t *testing.T) {
	cat := &fakeCatalog{databases: map[string]bool{"postgres": true, "fleet": true, "bots": true}}
	v, waits := newVerifier(Config{Required: []string{"fleet", "bots"}, SettleDelay: time.Second}, cat, &container.MockRuntime{})

	report, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Missing)
	assert.Zero(t, report.InitRounds)
	assert.Equal(t, 1, *waits)
	assert.Empty(t, cat.created)
}

func TestVerify_CreatesMissingOnce(t *testing.T) {
	cat := &fakeCatalog{databases: map[string]bool{"postgres": true, "fleet": true}}
	v, waits := newVerifier(Config{Required: []string{"fleet", "bots", "dashboard"}}, cat, &container.MockRuntime{})

	report, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bots", "dashboard"}, cat.created)
	assert.Equal(t, []string{"bots", "dashboard"}, report.Initialized)
	assert.Equal(t, 1, report.InitRounds)
	assert.Equal(t, 2, *waits)
}

func TestVerify_InitCommandRunsInContainer(t *testing.T) {
	cat := &fakeCatalog{databases: map[string]bool{"postgres": true}}
	var execs [][]string
	rt := &container.MockRuntime{
		ExecFunc: func(ctx context.Context, service string, cmd []string, stdin io.Reader, stdout io.Writer) error {
			assert.Equal(t, "postgres", service)
			execs = append(execs, cmd)
			cat.databases["fleet"] = true
			return nil
		},
	}
	v, _ := newVerifier(Config{Service: "postgres", Required: []string{"fleet"}, InitCommand: []string{"/docker-entrypoint-initdb.d/init.sh"}}, cat, rt)

	_, err := v.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Empty(t, cat.created)
}

func TestVerify_StillMissingIsFatal(t *testing.T) {
	cat := &fakeCatalog{databases: map[string]bool{"postgres": true}, createErr: errors.New("permission denied")}
	v, _ := newVerifier(Config{Required: []string{"fleet"}}, cat, &container.MockRuntime{})

	report, err := v.Verify(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDatabaseMissing))
	assert.Contains(t, err.Error(), "fleet")
	assert.Equal(t, 1, report.InitRounds)
	assert.Equal(t, []string{"fleet"}, report.Missing)
}

func TestVerify_InitAttemptsKnob(t *testing.T) {
	cat := &fakeCatalog{databases: map[string]bool{}, createErr: errors.New("nope")}
	v, _ := newVerifier(Config{Required: []string{"fleet"}, InitAttempts: 3}, cat, &container.MockRuntime{})

	report, err := v.Verify(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, report.InitRounds)
}

func TestVerify_RetriesListing(t *testing.T) {
	cat := &fakeCatalog{databases: map[string]bool{"fleet": true}, listErrs: 2}
	v, _ := newVerifier(Config{Required: []string{"fleet"}}, cat, &container.MockRuntime{})

	_, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cat.lists)

	cat = &fakeCatalog{databases: map[string]bool{}, listErrs: 5}
	v, _ = newVerifier(Config{Required: []string{"fleet"}}, cat, &container.MockRuntime{})
	_, err = v.Verify(context.Background())
	assert.ErrorContains(t, err, "unreachable")
}

func TestVerify_Cancelled(t *testing.T) {
	cat := &fakeCatalog{databases: map[string]bool{}}
	v := NewVerifier(Config{Required: []string{"fleet"}, SettleDelay: time.Hour}, cat, &container.MockRuntime{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Verify(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, cat.lists)
}

func TestVerify_NothingRequired(t *testing.T) {
	v, waits := newVerifier(Config{}, &fakeCatalog{}, &container.MockRuntime{})
	_, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, *waits)
}
