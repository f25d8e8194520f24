// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
)

const inspectHealthy = `[{"Name":"/fleet-postgres","Image":"sha256:abc","State":{"Status":"running","Running":true,"Health":{"Status":"healthy"}},"Config":{"Image":"postgres:16"}}]`

const inspectNoHealth = `[{"Name":"/fleet-api","Image":"sha256:def","State":{"Status":"running","Running":true},"Config":{"Image":"fleet/api:latest"}}]`

func newTestRuntime(t *testing.T, runner process.Runner) *Runtime {
	t.Helper()
	rt, err := New(Config{
		Command:    []string{"docker", "compose"},
		WorkDir:    "/srv/fleet",
		Files:      []string{"docker-compose.yml"},
		Containers: map[string]string{"postgres": "fleet-postgres", "api": "fleet-api"},
	}, runner, nil)
	require.NoError(t, err)
	rt.fileExists = func(string) bool { return false }
	return rt
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, &process.MockRunner{}, nil)
	assert.Error(t, err)

	_, err = New(Config{Command: []string{"docker", "compose"}}, nil, nil)
	assert.Error(t, err)
}

func TestRuntime_StartBuildsComposeArgs(t *testing.T) {
	runner := &process.MockRunner{}
	rt := newTestRuntime(t, runner)

	require.NoError(t, rt.Start(context.Background(), "api"))

	require.Len(t, runner.Calls, 1)
	call := runner.Calls[0]
	assert.Equal(t, "docker", call.Name)
	assert.Equal(t, []string{"compose", "-f", "docker-compose.yml", "up", "-d", "--no-deps", "api"}, call.Args)
	assert.Equal(t, "/srv/fleet", call.Dir)
}

func TestRuntime_PullSkipsEmpty(t *testing.T) {
	runner := &process.MockRunner{}
	rt := newTestRuntime(t, runner)

	require.NoError(t, rt.Pull(context.Background(), nil))
	assert.Empty(t, runner.Calls)

	require.NoError(t, rt.Pull(context.Background(), []string{"redis", "caddy"}))
	assert.Equal(t, "docker compose -f docker-compose.yml pull redis caddy", runner.Calls[0].String())
}

func TestRuntime_OverrideFileAppended(t *testing.T) {
	runner := &process.MockRunner{}
	rt := newTestRuntime(t, runner)
	rt.config.OverrideFile = "rollback.override.yml"
	rt.fileExists = func(p string) bool { return p == "rollback.override.yml" }

	require.NoError(t, rt.Restart(context.Background(), "api"))
	assert.Contains(t, runner.Calls[0].String(), "-f docker-compose.yml -f rollback.override.yml restart api")
}

func TestRuntime_State(t *testing.T) {
	tests := []struct {
		name       string
		service    string
		stdout     string
		err        error
		wantHealth string
		wantErr    error
	}{
		{name: "healthy", service: "postgres", stdout: inspectHealthy, wantHealth: container.HealthHealthy},
		{name: "no health check", service: "api", stdout: inspectNoHealth, wantHealth: container.HealthNone},
		{
			name:    "missing",
			service: "api",
			err:     process.NewCommandError("docker inspect", 1, "Error: No such object: fleet-api", nil),
			wantErr: container.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &process.MockRunner{
				RunFunc: func(ctx context.Context, cmd process.Command) (*process.Result, error) {
					return &process.Result{Stdout: tt.stdout}, tt.err
				},
			}
			rt := newTestRuntime(t, runner)

			st, err := rt.State(context.Background(), tt.service)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.True(t, st.Running)
			assert.Equal(t, tt.wantHealth, st.Health)
			assert.Equal(t, tt.wantHealth != "", st.HasHealthCheck())
			assert.Equal(t, "inspect --type container "+rt.containerName(tt.service), strings.Join(runner.Calls[0].Args, " "))
		})
	}
}

func TestRuntime_Images(t *testing.T) {
	runner := &process.MockRunner{
		RunFunc: func(ctx context.Context, cmd process.Command) (*process.Result, error) {
			switch cmd.Args[len(cmd.Args)-1] {
			case "fleet-postgres":
				return &process.Result{Stdout: inspectHealthy}, nil
			default:
				return nil, process.NewCommandError("docker inspect", 1, "no such container", nil)
			}
		},
	}
	rt := newTestRuntime(t, runner)

	images, err := rt.Images(context.Background(), []string{"postgres", "api"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"postgres": "sha256:abc"}, images)
}

func TestRuntime_PingFailure(t *testing.T) {
	runner := &process.MockRunner{
		RunFunc: func(ctx context.Context, cmd process.Command) (*process.Result, error) {
			return nil, process.NewCommandError("docker info", 1, "Cannot connect to the Docker daemon", nil)
		},
	}
	rt := newTestRuntime(t, runner)

	err := rt.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestImageOverride_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override", "rollback.yml")

	require.NoError(t, WriteImageOverride(path, map[string]string{"api": "sha256:def", "postgres": "postgres:16"}))
	pins, names, err := ReadImageOverride(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "postgres"}, names)
	assert.Equal(t, "sha256:def", pins["api"])

	require.NoError(t, WriteImageOverride(path, nil))
	assert.NoFileExists(t, path)
	require.NoError(t, WriteImageOverride(path, nil))
}
