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
Package remote deploys to and inspects named environments.

It covers three concerns: working out which configured environment the
current host belongs to, the SSH command channel used for cloud hosts and
remote secret files, and the deployers that roll a fleet out to cloud,
local and workstation environments.
*/
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
)

// EnvironmentEnv names the explicit environment override.
const EnvironmentEnv = "DRYDOCK_ENVIRONMENT"

// defaultEndpointTimeout bounds each endpoint dial during detection.
const defaultEndpointTimeout = 500 * time.Millisecond

var (
	// ErrUnknownEnvironment is returned for names not in configuration.
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrNoEnvironment is returned when nothing matched and no local
	// environment is configured.
	ErrNoEnvironment = errors.New("no environment matched")
)

// Source says which signal picked an environment.
type Source string

const (
	SourceOverride Source = "override"
	SourceMarker   Source = "marker file"
	SourceHostname Source = "hostname"
	SourceEndpoint Source = "endpoint"
	SourceFallback Source = "fallback"
)

// Detection is the detector's answer.
type Detection struct {
	Environment config.EnvironmentConfig `json:"environment"`
	Source      Source                   `json:"source"`

	// Evidence is the file, hostname pattern or endpoint that matched.
	Evidence string `json:"evidence,omitempty"`
}

// Capabilities returns the matched environment's capabilities.
func (d *Detection) Capabilities() []string { return d.Environment.Capabilities }

// Endpoints returns the matched environment's endpoint map.
func (d *Detection) Endpoints() map[string]string { return d.Environment.Endpoints }

// Detector classifies the current host.
type Detector struct {
	envs    []config.EnvironmentConfig
	timeout time.Duration

	getenv   func(string) string
	hostname func() (string, error)
	exists   func(string) bool
	dial     func(ctx context.Context, addr string) error
}

// NewDetector creates a detector over the configured environments.
func NewDetector(envs []config.EnvironmentConfig) *Detector {
	return &Detector{
		envs:     envs,
		timeout:  defaultEndpointTimeout,
		getenv:   os.Getenv,
		hostname: os.Hostname,
		exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
		dial: func(ctx context.Context, addr string) error {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

// Detect picks an environment.
//
// # Description
//
// Signals are tried strongest first: the DRYDOCK_ENVIRONMENT override,
// marker files, hostname patterns, then reachable endpoints. Within one
// signal, environments are tried in configuration order and disabled
// environments are ignored except by the override. When nothing matches, the
// first enabled local environment is returned.
func (d *Detector) Detect(ctx context.Context) (*Detection, error) {
	if name := d.getenv(EnvironmentEnv); name != "" {
		env, err := Lookup(d.envs, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvironmentEnv, err)
		}
		return &Detection{Environment: env, Source: SourceOverride, Evidence: EnvironmentEnv + "=" + name}, nil
	}

	for _, env := range d.enabled() {
		for _, f := range env.Markers.Files {
			if d.exists(f) {
				return &Detection{Environment: env, Source: SourceMarker, Evidence: f}, nil
			}
		}
	}

	if host, err := d.hostname(); err == nil {
		for _, env := range d.enabled() {
			for _, pattern := range env.Markers.Hostnames {
				if ok, _ := path.Match(pattern, host); ok {
					return &Detection{Environment: env, Source: SourceHostname, Evidence: pattern}, nil
				}
			}
		}
	}

	for _, env := range d.enabled() {
		for _, addr := range env.Markers.Endpoints {
			dctx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.dial(dctx, addr)
			cancel()
			if err == nil {
				return &Detection{Environment: env, Source: SourceEndpoint, Evidence: addr}, nil
			}
		}
	}

	for _, env := range d.enabled() {
		if env.Kind == config.EnvLocal {
			return &Detection{Environment: env, Source: SourceFallback}, nil
		}
	}
	return nil, ErrNoEnvironment
}

func (d *Detector) enabled() []config.EnvironmentConfig {
	var out []config.EnvironmentConfig
	for _, e := range d.envs {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Lookup finds an environment by name.
func Lookup(envs []config.EnvironmentConfig, name string) (config.EnvironmentConfig, error) {
	for _, e := range envs {
		if e.Name == name {
			return e, nil
		}
	}
	return config.EnvironmentConfig{}, deploy.NewStageError(deploy.ClassConfigurationError, "",
		fmt.Errorf("%w %q", ErrUnknownEnvironment, name))
}
