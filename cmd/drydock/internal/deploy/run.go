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
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/health"
)

// Status is the final state of a deployment run.
type Status string

const (
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusDegraded   Status = "degraded"
	StatusFailed     Status = "failed"
	StatusDryRun     Status = "dry-run"
	StatusRolledBack Status = "rolled-back"
)

// TierOutcome summarizes one tier.
type TierOutcome string

const (
	TierOK       TierOutcome = "ok"
	TierDegraded TierOutcome = "degraded"
	TierFailed   TierOutcome = "failed"
	TierSkipped  TierOutcome = "skipped"
	TierPlanned  TierOutcome = "planned"
)

// Flags are the mode switches of one invocation.
type Flags struct {
	DryRun        bool `json:"dry_run"`
	Force         bool `json:"force"`
	SkipBackup    bool `json:"skip_backup"`
	SkipPreflight bool `json:"skip_preflight"`
}

// ServiceResult is the per-service record inside a tier.
type ServiceResult struct {
	Name     string        `json:"name"`
	Critical bool          `json:"critical"`
	Started  bool          `json:"started"`
	Health   health.Status `json:"health,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// Failed reports whether the service did not come up healthy.
func (s ServiceResult) Failed() bool {
	return !s.Started || (s.Health != "" && !s.Health.OK())
}

// TierResult is the outcome of one tier.
type TierResult struct {
	Tier     int             `json:"tier"`
	Outcome  TierOutcome     `json:"outcome"`
	Services []ServiceResult `json:"services"`
	Planned  []string        `json:"planned,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Run is one archived deployment invocation. It is mutated tier by tier and
// stored once complete.
type Run struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	Requested  []string     `json:"requested,omitempty"`
	Flags      Flags        `json:"flags"`
	Tiers      []TierResult `json:"tiers"`
	Status     Status       `json:"status"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
	BackupDir  string       `json:"backup_dir,omitempty"`
	ErrorClass ErrorClass   `json:"error_class,omitempty"`
	Error      string       `json:"error,omitempty"`

	// Warnings holds non-fatal findings such as forced pull failures and
	// ApplicationHealthFailure entries.
	Warnings []string `json:"warnings,omitempty"`

	// RollbackOf is set when this run restored another run's snapshot.
	RollbackOf string `json:"rollback_of,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

func (r *Run) RecordID() string      { return r.ID }
func (r *Run) RecordTime() time.Time { return r.StartedAt }

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitCode maps the run onto the `up` exit contract.
func (r *Run) ExitCode() int {
	switch r.Status {
	case StatusFailed:
		return 1
	default:
		return 0
	}
}

// FailedServices lists services whose result counts as failed, in tier order.
func (r *Run) FailedServices() []ServiceResult {
	var out []ServiceResult
	for _, t := range r.Tiers {
		for _, s := range t.Services {
			if s.Failed() {
				out = append(out, s)
			}
		}
	}
	return out
}

func (r *Run) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
