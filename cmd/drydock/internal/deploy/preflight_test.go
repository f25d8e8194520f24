// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
)

func newTestPreflight(t *testing.T) (*Preflight, PreflightConfig) {
	t.Helper()
	root := t.TempDir()
	cfgPath := filepath.Join(root, "drydock.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("project: {}\n"), 0644))
	secretsPath := filepath.Join(root, ".env")
	require.NoError(t, os.WriteFile(secretsPath, []byte("DISCORD_TOKEN=abc\nPOSTGRES_PASSWORD=def\n"), 0600))

	cfg := PreflightConfig{
		ConfigFile:         cfgPath,
		BackupDir:          filepath.Join(root, "backups", "nested"),
		MinFreeDiskMB:      100,
		SecretsFile:        secretsPath,
		RequiredSecretKeys: []string{"DISCORD_TOKEN", "POSTGRES_PASSWORD"},
	}
	p := NewPreflight(cfg, &container.MockRuntime{}, nil)
	p.diskFree = func(string) (uint64, error) { return 500 * 1024 * 1024, nil }
	return p, cfg
}

func TestPreflight_AllPass(t *testing.T) {
	p, _ := newTestPreflight(t)
	results, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.OK, r.Name)
	}
}

func TestPreflight_DoesNotCreateBackupDir(t *testing.T) {
	p, cfg := newTestPreflight(t)
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NoDirExists(t, cfg.BackupDir)
}

func TestPreflight_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Preflight)
		check  string
	}{
		{
			name: "runtime down",
			mutate: func(p *Preflight) {
				p.runtime = &container.MockRuntime{PingFunc: func(context.Context) error { return errors.New("cannot connect") }}
			},
			check: "container runtime reachable",
		},
		{
			name:   "config missing",
			mutate: func(p *Preflight) { p.config.ConfigFile = "/nonexistent/drydock.yaml" },
			check:  "configuration readable",
		},
		{
			name:   "low disk",
			mutate: func(p *Preflight) { p.diskFree = func(string) (uint64, error) { return 10 * 1024 * 1024, nil } },
			check:  "free disk space",
		},
		{
			name:   "secret missing",
			mutate: func(p *Preflight) { p.config.RequiredSecretKeys = append(p.config.RequiredSecretKeys, "TWITCH_SECRET") },
			check:  "required secrets present",
		},
		{
			name:   "no backup dir",
			mutate: func(p *Preflight) { p.config.BackupDir = "" },
			check:  "backup directory writable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPreflight(t)
			tt.mutate(p)

			results, err := p.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, ClassPreflightFailure, Classify(err))
			assert.Contains(t, err.Error(), tt.check)
			for _, r := range results {
				if r.Name == tt.check {
					assert.False(t, r.OK)
				}
			}
		})
	}
}

func TestPreflight_MissingKeyNamesOnlyKey(t *testing.T) {
	p, _ := newTestPreflight(t)
	p.config.RequiredSecretKeys = []string{"TWITCH_SECRET"}
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWITCH_SECRET")
	assert.NotContains(t, err.Error(), "abc")
}

func TestExistingAncestor(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, root, existingAncestor(filepath.Join(root, "a", "b", "c")))
	assert.Equal(t, root, existingAncestor(root))
}
