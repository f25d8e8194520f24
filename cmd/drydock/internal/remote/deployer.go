// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
)

// ErrRollbackUnsupported is returned by deployers without rollback.
var ErrRollbackUnsupported = errors.New("rollback not supported for this environment")

// DeployRequest is what to roll out.
type DeployRequest struct {
	Services []string
	Force    bool
	DryRun   bool
}

// Deployer rolls a fleet out to one environment.
//
// # Description
//
// Connect must succeed before any other method is used. Close is always
// safe to call, including after a failed Connect.
type Deployer interface {
	Connect(ctx context.Context) error
	Deploy(ctx context.Context, req DeployRequest) error
	Verify(ctx context.Context) error
	Rollback(ctx context.Context) error
	SupportsRollback() bool
	Close() error
}

// Builder constructs a deployer for one environment.
type Builder func(env config.EnvironmentConfig) (Deployer, error)

// Factory selects a deployer by environment kind.
type Factory struct {
	builders map[config.EnvironmentKind]Builder
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{builders: map[config.EnvironmentKind]Builder{}}
}

// Register installs the builder for kind, replacing any previous one.
func (f *Factory) Register(kind config.EnvironmentKind, b Builder) {
	f.builders[kind] = b
}

// Kinds lists the registered kinds in sorted order.
func (f *Factory) Kinds() []config.EnvironmentKind {
	out := make([]config.EnvironmentKind, 0, len(f.builders))
	for k := range f.builders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds the deployer for env.
func (f *Factory) New(env config.EnvironmentConfig) (Deployer, error) {
	b, ok := f.builders[env.Kind]
	if !ok {
		return nil, deploy.NewStageError(deploy.ClassConfigurationError, "",
			fmt.Errorf("no deployer for environment kind %q", env.Kind))
	}
	return b(env)
}

// decodeOptions decodes env.Options into out. Unknown keys are rejected so
// that typos in configuration surface early.
func decodeOptions(env config.EnvironmentConfig, out any) error {
	if len(env.Options) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(env.Options); err != nil {
		return deploy.NewStageError(deploy.ClassConfigurationError, "",
			fmt.Errorf("environment %s options: %w", env.Name, err))
	}
	return nil
}
