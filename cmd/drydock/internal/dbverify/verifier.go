// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dbverify proves the required databases exist after the
// infrastructure tier starts, initializing them when they do not.
package dbverify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/resilience"
)

// ErrDatabaseMissing is returned when required databases are still missing
// after initialization.
var ErrDatabaseMissing = errors.New("required databases missing")

// listAttempts bounds how often an unreachable server is re-listed before
// the verifier gives up.
const listAttempts = 3

// Config drives the verifier.
type Config struct {
	// Service is the database service; InitCommand runs inside it.
	Service  string
	Required []string

	// InitCommand is executed in the container; empty means CREATE DATABASE
	// per missing name through the catalog.
	InitCommand []string

	// InitAttempts is the number of initialization rounds. Zero means one.
	InitAttempts int

	SettleDelay time.Duration
}

// Report describes what the verifier saw and did.
type Report struct {
	Present     []string `json:"present"`
	Missing     []string `json:"missing,omitempty"`
	Initialized []string `json:"initialized,omitempty"`
	InitRounds  int      `json:"init_rounds"`
}

// Verifier implements the bootstrap check.
type Verifier struct {
	config  Config
	catalog Catalog
	runtime container.Runtime
	logger  *slog.Logger
	wait    func(ctx context.Context, d time.Duration) error
}

// NewVerifier creates a verifier.
func NewVerifier(cfg Config, catalog Catalog, rt container.Runtime, logger *slog.Logger) *Verifier {
	if cfg.InitAttempts <= 0 {
		cfg.InitAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{config: cfg, catalog: catalog, runtime: rt, logger: logger, wait: resilience.Sleep}
}

// Verify waits the settle delay, compares the database list with the
// required set and initializes what is missing.
//
// # Description
//
//  1. Wait SettleDelay (cancellable).
//  2. List databases. All present: return quietly.
//  3. Run the init procedure, wait SettleDelay, list again. Repeat up to
//     InitAttempts rounds.
//  4. Still missing: return ErrDatabaseMissing naming the databases.
//
// # Outputs
//
//   - *Report: Always non-nil.
//   - error: ErrDatabaseMissing, a listing failure, or ctx.Err().
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	report := &Report{}
	if len(v.config.Required) == 0 {
		return report, nil
	}
	if err := v.wait(ctx, v.config.SettleDelay); err != nil {
		return report, err
	}

	present, err := v.list(ctx)
	if err != nil {
		return report, err
	}
	missing := missingFrom(v.config.Required, present)
	report.Present, report.Missing = present, missing
	if len(missing) == 0 {
		v.logger.Debug("all required databases present", "count", len(v.config.Required))
		return report, nil
	}

	for report.InitRounds < v.config.InitAttempts {
		report.InitRounds++
		v.logger.Warn("required databases missing, initializing",
			"missing", strings.Join(missing, ","), "round", report.InitRounds)

		if err := v.initialize(ctx, missing); err != nil {
			v.logger.Error("database initialization failed", "error", err)
		}
		if err := v.wait(ctx, v.config.SettleDelay); err != nil {
			return report, err
		}
		present, err = v.list(ctx)
		if err != nil {
			return report, err
		}
		stillMissing := missingFrom(v.config.Required, present)
		report.Initialized = append(report.Initialized, subtract(missing, stillMissing)...)
		report.Present, report.Missing = present, stillMissing
		missing = stillMissing
		if len(missing) == 0 {
			v.logger.Info("databases initialized", "created", strings.Join(report.Initialized, ","))
			return report, nil
		}
	}

	return report, fmt.Errorf("%w after %d init round(s): %s",
		ErrDatabaseMissing, report.InitRounds, strings.Join(missing, ", "))
}

func (v *Verifier) list(ctx context.Context) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= listAttempts; attempt++ {
		names, err := v.catalog.ListDatabases(ctx)
		if err == nil {
			sort.Strings(names)
			return names, nil
		}
		lastErr = err
		v.logger.Debug("database listing failed", "attempt", attempt, "error", err)
		if attempt < listAttempts {
			if werr := v.wait(ctx, v.config.SettleDelay); werr != nil {
				return nil, werr
			}
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", listAttempts, lastErr)
}

func (v *Verifier) initialize(ctx context.Context, missing []string) error {
	if len(v.config.InitCommand) > 0 {
		return v.runtime.Exec(ctx, v.config.Service, v.config.InitCommand, nil, io.Discard)
	}
	var errs []error
	for _, name := range missing {
		if err := v.catalog.CreateDatabase(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func missingFrom(required, present []string) []string {
	have := make(map[string]bool, len(present))
	for _, p := range present {
		have[p] = true
	}
	var out []string
	for _, r := range required {
		if !have[r] {
			out = append(out, r)
		}
	}
	return out
}

func subtract(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, x := range b {
		drop[x] = true
	}
	var out []string
	for _, x := range a {
		if !drop[x] {
			out = append(out, x)
		}
	}
	return out
}
