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
Package container defines the control-plane interface drydock uses to manage
service containers.

Two implementations exist: the compose CLI runtime (infra/compose) and the
Docker Engine API runtime (infra/docker). Everything above this package
(executor, prober, snapshot, smoke auto-fix) depends only on Runtime.
*/
package container

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no container backs a service.
var ErrNotFound = errors.New("container not found")

// Health values reported by the runtime.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthStarting  = "starting"
	HealthNone      = ""
)

// State is a point-in-time view of one service container.
type State struct {
	Service   string
	Container string
	Running   bool

	// Status is the runtime's own word for the state ("running", "exited").
	Status string

	// Health is empty when the image defines no health check.
	Health string

	Image   string
	ImageID string
}

// HasHealthCheck reports whether the runtime tracks health for the container.
func (s State) HasHealthCheck() bool {
	return s.Health != HealthNone
}

// Runtime controls service containers.
//
// # Description
//
// Services are addressed by registry name; implementations map names to
// containers. All methods honour ctx cancellation.
type Runtime interface {
	// Ping verifies the control plane is reachable.
	Ping(ctx context.Context) error

	// Pull fetches the latest image for each service.
	Pull(ctx context.Context, services []string) error

	// Build builds locally-defined images.
	Build(ctx context.Context, services []string) error

	// Start creates or starts the service container.
	Start(ctx context.Context, service string) error

	// Restart restarts a running service container.
	Restart(ctx context.Context, service string) error

	// Stop stops the service container.
	Stop(ctx context.Context, service string) error

	// State inspects the service container. A missing container yields
	// ErrNotFound.
	State(ctx context.Context, service string) (State, error)

	// Images returns the image identifier currently backing each service.
	Images(ctx context.Context, services []string) (map[string]string, error)

	// Exec runs cmd inside the service container.
	Exec(ctx context.Context, service string, cmd []string, stdin io.Reader, stdout io.Writer) error
}

// MockRuntime implements Runtime with function fields for tests.
type MockRuntime struct {
	PingFunc    func(ctx context.Context) error
	PullFunc    func(ctx context.Context, services []string) error
	BuildFunc   func(ctx context.Context, services []string) error
	StartFunc   func(ctx context.Context, service string) error
	RestartFunc func(ctx context.Context, service string) error
	StopFunc    func(ctx context.Context, service string) error
	StateFunc   func(ctx context.Context, service string) (State, error)
	ImagesFunc  func(ctx context.Context, services []string) (map[string]string, error)
	ExecFunc    func(ctx context.Context, service string, cmd []string, stdin io.Reader, stdout io.Writer) error
}

func (m *MockRuntime) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockRuntime) Pull(ctx context.Context, services []string) error {
	if m.PullFunc != nil {
		return m.PullFunc(ctx, services)
	}
	return nil
}

func (m *MockRuntime) Build(ctx context.Context, services []string) error {
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, services)
	}
	return nil
}

func (m *MockRuntime) Start(ctx context.Context, service string) error {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, service)
	}
	return nil
}

func (m *MockRuntime) Restart(ctx context.Context, service string) error {
	if m.RestartFunc != nil {
		return m.RestartFunc(ctx, service)
	}
	return nil
}

func (m *MockRuntime) Stop(ctx context.Context, service string) error {
	if m.StopFunc != nil {
		return m.StopFunc(ctx, service)
	}
	return nil
}

func (m *MockRuntime) State(ctx context.Context, service string) (State, error) {
	if m.StateFunc != nil {
		return m.StateFunc(ctx, service)
	}
	return State{Service: service, Running: true, Status: "running"}, nil
}

func (m *MockRuntime) Images(ctx context.Context, services []string) (map[string]string, error) {
	if m.ImagesFunc != nil {
		return m.ImagesFunc(ctx, services)
	}
	return map[string]string{}, nil
}

func (m *MockRuntime) Exec(ctx context.Context, service string, cmd []string, stdin io.Reader, stdout io.Writer) error {
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, service, cmd, stdin, stdout)
	}
	return nil
}

var _ Runtime = (*MockRuntime)(nil)
