// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compose implements container.Runtime on top of the compose CLI.
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
)

// Config configures the compose runtime.
type Config struct {
	// Command is the compose invocation, e.g. ["docker", "compose"].
	Command []string

	// Engine is the container CLI used for inspect ("docker" or "podman").
	Engine string

	// WorkDir is where compose runs.
	WorkDir string

	// Files are passed as -f in order.
	Files []string

	// OverrideFile, when it exists, is appended after Files. Rollback writes
	// image pins there.
	OverrideFile string

	// Containers maps service names to container names.
	Containers map[string]string

	// Timeout bounds each CLI call. Pulls and builds use PullTimeout.
	Timeout     time.Duration
	PullTimeout time.Duration
}

// DefaultConfig returns docker compose defaults.
func DefaultConfig() Config {
	return Config{
		Command:     []string{"docker", "compose"},
		Engine:      "docker",
		Timeout:     2 * time.Minute,
		PullTimeout: 15 * time.Minute,
	}
}

// Runtime drives containers through the compose CLI.
type Runtime struct {
	config     Config
	runner     process.Runner
	logger     *slog.Logger
	fileExists func(string) bool
}

// New creates a compose runtime.
//
// # Inputs
//
//   - cfg: Compose settings. Command must be non-empty.
//   - runner: Executes the CLI. Use process.MockRunner in tests.
//   - logger: May be nil.
func New(cfg Config, runner process.Runner, logger *slog.Logger) (*Runtime, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("compose command is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	def := DefaultConfig()
	if cfg.Engine == "" {
		cfg.Engine = def.Engine
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PullTimeout == 0 {
		cfg.PullTimeout = def.PullTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{config: cfg, runner: runner, logger: logger, fileExists: fileExists}, nil
}

// Ping checks that the container engine answers.
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.runner.Run(ctx, process.Command{
		Name:    r.config.Engine,
		Args:    []string{"info", "--format", "{{.ServerVersion}}"},
		Timeout: r.config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("container engine unreachable: %w", err)
	}
	return nil
}

func (r *Runtime) Pull(ctx context.Context, services []string) error {
	if len(services) == 0 {
		return nil
	}
	return r.compose(ctx, r.config.PullTimeout, nil, nil, append([]string{"pull"}, services...)...)
}

func (r *Runtime) Build(ctx context.Context, services []string) error {
	if len(services) == 0 {
		return nil
	}
	return r.compose(ctx, r.config.PullTimeout, nil, nil, append([]string{"build"}, services...)...)
}

// Start brings one service up without touching its dependencies.
func (r *Runtime) Start(ctx context.Context, service string) error {
	return r.compose(ctx, r.config.Timeout, nil, nil, "up", "-d", "--no-deps", service)
}

func (r *Runtime) Restart(ctx context.Context, service string) error {
	return r.compose(ctx, r.config.Timeout, nil, nil, "restart", service)
}

func (r *Runtime) Stop(ctx context.Context, service string) error {
	return r.compose(ctx, r.config.Timeout, nil, nil, "stop", service)
}

// Exec runs cmd in the service container without a TTY.
func (r *Runtime) Exec(ctx context.Context, service string, cmd []string, stdin io.Reader, stdout io.Writer) error {
	args := []string{"exec", "-T", service}
	return r.compose(ctx, 0, stdin, stdout, append(args, cmd...)...)
}

// inspectRecord is the subset of `<engine> inspect` output drydock reads.
type inspectRecord struct {
	Name  string `json:"Name"`
	Image string `json:"Image"`
	State struct {
		Status  string `json:"Status"`
		Running bool   `json:"Running"`
		Health  *struct {
			Status string `json:"Status"`
		} `json:"Health"`
	} `json:"State"`
	Config struct {
		Image string `json:"Image"`
	} `json:"Config"`
}

// State inspects the container backing service.
func (r *Runtime) State(ctx context.Context, service string) (container.State, error) {
	name := r.containerName(service)
	res, err := r.runner.Run(ctx, process.Command{
		Name:    r.config.Engine,
		Args:    []string{"inspect", "--type", "container", name},
		Timeout: r.config.Timeout,
	})
	if err != nil {
		if isNoSuchContainer(process.ExtractStderr(err)) {
			return container.State{Service: service, Container: name}, fmt.Errorf("%s: %w", name, container.ErrNotFound)
		}
		return container.State{}, fmt.Errorf("inspect %s: %w", name, err)
	}
	return parseInspect(service, name, res.Stdout)
}

// Images returns the configured image reference per running service.
// Services without a container are omitted.
func (r *Runtime) Images(ctx context.Context, services []string) (map[string]string, error) {
	out := make(map[string]string, len(services))
	for _, svc := range services {
		st, err := r.State(ctx, svc)
		if errors.Is(err, container.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if st.ImageID != "" {
			out[svc] = st.ImageID
		} else {
			out[svc] = st.Image
		}
	}
	return out, nil
}

func parseInspect(service, name, raw string) (container.State, error) {
	var records []inspectRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return container.State{}, fmt.Errorf("failed to parse inspect output for %s: %w", name, err)
	}
	if len(records) == 0 {
		return container.State{Service: service, Container: name}, fmt.Errorf("%s: %w", name, container.ErrNotFound)
	}
	rec := records[0]
	st := container.State{
		Service:   service,
		Container: strings.TrimPrefix(rec.Name, "/"),
		Running:   rec.State.Running,
		Status:    rec.State.Status,
		Image:     rec.Config.Image,
		ImageID:   rec.Image,
	}
	if rec.State.Health != nil {
		st.Health = rec.State.Health.Status
	}
	return st, nil
}

func isNoSuchContainer(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "no such object") ||
		strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "no container with name")
}

func (r *Runtime) containerName(service string) string {
	if name, ok := r.config.Containers[service]; ok && name != "" {
		return name
	}
	return service
}

// Files returns the compose files in use, including the override when present.
func (r *Runtime) Files() []string {
	files := append([]string(nil), r.config.Files...)
	if r.config.OverrideFile != "" && r.fileExists(r.config.OverrideFile) {
		files = append(files, r.config.OverrideFile)
	}
	return files
}

func (r *Runtime) compose(ctx context.Context, timeout time.Duration, stdin io.Reader, stdout io.Writer, args ...string) error {
	full := append([]string(nil), r.config.Command[1:]...)
	for _, f := range r.Files() {
		full = append(full, "-f", f)
	}
	full = append(full, args...)

	start := time.Now()
	_, err := r.runner.Run(ctx, process.Command{
		Name:    r.config.Command[0],
		Args:    full,
		Dir:     r.config.WorkDir,
		Stdin:   stdin,
		Stdout:  stdout,
		Timeout: timeout,
	})
	r.logger.Debug("compose", "args", strings.Join(args, " "), "duration", time.Since(start), "ok", err == nil)
	return err
}

var _ container.Runtime = (*Runtime)(nil)
