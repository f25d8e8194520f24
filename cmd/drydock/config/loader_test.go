// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".drydock", "drydock.yaml")

	require.NoError(t, createDefault(configPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var cfg DrydockConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "fleet", cfg.Project.Name)
	assert.Equal(t, DefaultMaxAttempts, cfg.Health.MaxAttempts)
	assert.Equal(t, DefaultHealthInterval, cfg.Health.Interval)
}

func TestLoadFrom_FirstRunCreatesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "drydock.yaml")

	cfg, err := LoadFrom(configPath)
	require.NoError(t, err)
	assert.FileExists(t, configPath)
	assert.Len(t, cfg.Services, len(DefaultConfig().Services))
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, Validate(&cfg))
}

func TestParse_AppliesDefaults(t *testing.T) {
	raw := `
project:
  name: tiny
services:
  - name: db
    tier: 0
    critical: true
  - name: web
    tier: 1
    health: http
    health_url: http://localhost:8080/health
health:
  interval: 2s
`
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Health.Interval)
	assert.Equal(t, DefaultMaxAttempts, cfg.Health.MaxAttempts)
	assert.Equal(t, DefaultRetainDays, cfg.Backup.RetainDays)
	assert.Equal(t, DefaultDBInitAttempts, cfg.Database.InitAttempts)
	assert.Equal(t, HealthProcess, cfg.Services[0].Health)
	assert.Equal(t, RuntimeCompose, cfg.Project.Runtime)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name:    "no services",
			raw:     "project:\n  name: x\n",
			wantErr: "Services",
		},
		{
			name: "http health without url",
			raw: `
project: {name: x}
services:
  - {name: web, tier: 0, health: http}
`,
			wantErr: "HealthURL",
		},
		{
			name: "unknown health shape",
			raw: `
project: {name: x}
services:
  - {name: web, tier: 0, health: grpc}
`,
			wantErr: "Health",
		},
		{
			name: "duplicate service",
			raw: `
project: {name: x}
services:
  - {name: web, tier: 0}
  - {name: web, tier: 1}
`,
			wantErr: "duplicate service",
		},
		{
			name: "unknown dependency",
			raw: `
project: {name: x}
services:
  - {name: web, tier: 1, depends_on: [db]}
`,
			wantErr: "unknown service",
		},
		{
			name: "unknown smoke category",
			raw: `
project: {name: x}
services:
  - {name: web, tier: 0}
smoke:
  checks:
    - {name: a, category: misc, kind: tcp, target: "localhost:1"}
`,
			wantErr: "Category",
		},
		{
			name: "escalation check missing",
			raw: `
project: {name: x}
services:
  - {name: web, tier: 0}
smoke:
  database_check: db
`,
			wantErr: "escalation check",
		},
		{
			name: "optional escalation check",
			raw: `
project: {name: x}
services:
  - {name: db, tier: 0}
smoke:
  database_check: db
  checks:
    - {name: db, category: infrastructure, kind: tcp, target: "localhost:5432", optional: true}
`,
			wantErr: "cannot be optional",
		},
		{
			name: "unknown environment kind",
			raw: `
project: {name: x}
services:
  - {name: web, tier: 0}
environments:
  - {name: prod, kind: mainframe}
`,
			wantErr: "Kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/drydock/env.yaml")

	assert.Equal(t, "/tmp/flag.yaml", ResolvePath("/tmp/flag.yaml"))
	assert.Equal(t, "/etc/drydock/env.yaml", ResolvePath(""))

	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, filepath.Join(DrydockHome(), "drydock.yaml"), ResolvePath(""))
}

func TestContainerName(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "fleet-redis", cfg.ContainerName(ServiceConfig{Name: "redis"}))
	assert.Equal(t, "pg-main", cfg.ContainerName(ServiceConfig{Name: "postgres", Container: "pg-main"}))
}
