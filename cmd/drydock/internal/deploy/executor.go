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
Package deploy runs the tiered deployment pipeline.

# Pipeline

	lease -> preflight -> snapshot + prune -> pull/build ->
	for each tier:
	    start services, wait for running
	    (infrastructure tier) verify databases
	    probe health; critical failure aborts
	-> summary

Tier boundaries are synchronization points: no service of tier N+1 is
started while any critical service of tier <= N is unhealthy. Dry-run walks
the same plan and describes it without touching the runtime, the backup
directory or the run store.
*/
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/dbverify"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/diagnostics"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/health"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/compose"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/registry"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/snapshot"
)

// HealthProber is the slice of *health.Prober the executor uses.
type HealthProber interface {
	Verify(ctx context.Context, name string, maxAttempts int, interval time.Duration) (health.Result, error)
	WaitRunning(ctx context.Context, name string, timeout time.Duration) error
}

// DatabaseVerifier checks the required databases after the infrastructure
// tier.
type DatabaseVerifier interface {
	Verify(ctx context.Context) (*dbverify.Report, error)
}

// SnapshotStore is the slice of *snapshot.Manager the executor uses.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, runID string) (*snapshot.Snapshot, error)
	PruneOlderThan(days int) (int, error)
	ForRun(runID string) (*snapshot.Snapshot, error)
	Latest() (*snapshot.Snapshot, error)
	RestoreConfig(snap *snapshot.Snapshot) error
	RestoreDatabase(ctx context.Context, snap *snapshot.Snapshot) error
	Dir() string
}

// RunArchive persists finished runs. *runstore.Store[*Run] satisfies it.
type RunArchive interface {
	Put(run *Run) error
	Get(id string) (*Run, error)
	Latest() (*Run, error)
}

// Preflighter runs the preflight checklist.
type Preflighter interface {
	Run(ctx context.Context) ([]CheckResult, error)
}

// Config tunes the executor.
type Config struct {
	MaxAttempts  int
	Interval     time.Duration
	StartTimeout time.Duration
	RetainDays   int

	// InfraTier is the tier after which databases are verified.
	InfraTier int

	// OverrideFile receives image pins on rollback; empty skips pinning.
	OverrideFile string

	// Binary is the command name printed in the rollback hint.
	Binary string
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  6,
		Interval:     10 * time.Second,
		StartTimeout: 60 * time.Second,
		RetainDays:   7,
		InfraTier:    0,
		Binary:       "drydock",
	}
}

// Deps are the collaborators of an Executor. Registry, Runtime and Prober
// are required; the rest may be nil.
type Deps struct {
	Registry  *registry.Registry
	Runtime   container.Runtime
	Prober    HealthProber
	Databases DatabaseVerifier
	Snapshots SnapshotStore
	Preflight Preflighter
	Lease     process.Leaser
	Archive   RunArchive
	Metrics   diagnostics.Metrics
	Tracer    diagnostics.Tracer
	Reporter  Reporter
	Logger    *slog.Logger
}

// Request is one `up` invocation.
type Request struct {
	Services []string
	Flags    Flags
}

// Executor runs deployments and rollbacks.
//
// # Thread Safety
//
// Runs are serialized across processes by the lease. A single Executor must
// not be used for concurrent runs.
type Executor struct {
	config    Config
	registry  *registry.Registry
	runtime   container.Runtime
	prober    HealthProber
	databases DatabaseVerifier
	snapshots SnapshotStore
	preflight Preflighter
	lease     process.Leaser
	archive   RunArchive
	metrics   diagnostics.Metrics
	tracer    diagnostics.Tracer
	reporter  Reporter
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// New creates an executor. Zero config fields take DefaultConfig values.
func New(deps Deps, cfg Config) (*Executor, error) {
	if deps.Registry == nil || deps.Runtime == nil || deps.Prober == nil {
		return nil, errors.New("deploy: registry, runtime and prober are required")
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	if cfg.RetainDays <= 0 {
		cfg.RetainDays = def.RetainDays
	}
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	e := &Executor{
		config:    cfg,
		registry:  deps.Registry,
		runtime:   deps.Runtime,
		prober:    deps.Prober,
		databases: deps.Databases,
		snapshots: deps.Snapshots,
		preflight: deps.Preflight,
		lease:     deps.Lease,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		reporter:  deps.Reporter,
		logger:    deps.Logger,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	if e.metrics == nil {
		e.metrics = diagnostics.NewNoOpMetrics()
	}
	if e.tracer == nil {
		e.tracer = diagnostics.NoOpTracer{}
	}
	if e.reporter == nil {
		e.reporter = NewTextReporter(io.Discard)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Run executes one deployment.
//
// # Description
//
// Takes the run lease (skipped for dry-run), then walks the pipeline. The
// summary is reported whatever the outcome. Non-dry runs are archived.
//
// # Outputs
//
//   - *Run: The run record, nil only when the request names unknown
//     services or the lease is held.
//   - error: The fatal error that stopped the run, classified by Classify.
//     Non-fatal findings are only recorded on the Run.
func (e *Executor) Run(ctx context.Context, req Request) (run *Run, err error) {
	defer func() {
		recoverPanic(recover(), &err)
		if run != nil && err != nil && run.Status == StatusRunning {
			e.finish(run, err)
		}
	}()

	services, err := e.registry.Select(req.Services)
	if err != nil {
		return nil, err
	}

	if !req.Flags.DryRun && e.lease != nil {
		if err := e.lease.Acquire(); err != nil {
			return nil, leaseError(err)
		}
		defer e.lease.Release()
	}

	run = e.newRun(req)
	ctx, finishSpan := e.tracer.StartSpan(ctx, "deploy.run", map[string]string{
		"run.id":      run.ID,
		"run.dry_run": strconv.FormatBool(req.Flags.DryRun),
		"run.force":   strconv.FormatBool(req.Flags.Force),
	})
	run.TraceID = e.tracer.TraceID(ctx)
	defer func() { finishSpan(err) }()

	e.logger.Info("deployment started",
		"run_id", run.ID,
		"services", len(services),
		"dry_run", req.Flags.DryRun,
		"force", req.Flags.Force)

	err = e.execute(ctx, run, services)
	e.finish(run, err)
	return run, err
}

func (e *Executor) newRun(req Request) *Run {
	return &Run{
		ID:        e.newID(),
		StartedAt: e.now().UTC(),
		Requested: req.Services,
		Flags:     req.Flags,
		Status:    StatusRunning,
	}
}

func (e *Executor) execute(ctx context.Context, run *Run, services []registry.Service) error {
	if !run.Flags.SkipPreflight && e.preflight != nil {
		results, err := e.preflight.Run(ctx)
		e.reporter.Preflight(results)
		if err != nil {
			return err
		}
	}

	groups := registry.GroupByTier(services)
	if run.Flags.DryRun {
		e.describePlan(run, groups)
		return nil
	}

	if !run.Flags.SkipBackup && e.snapshots != nil {
		if err := e.backup(ctx, run); err != nil {
			return err
		}
	}

	if err := e.releasePins(run); err != nil {
		return err
	}

	if err := e.fetchArtifacts(ctx, run, services); err != nil {
		return err
	}

	return e.deployTiers(ctx, run, groups, e.verifyDatabases)
}

// releasePins removes the image override a rollback left behind so a forward
// run pulls and starts the tracked images. When the run took a snapshot the
// pins are copied into it first.
func (e *Executor) releasePins(run *Run) error {
	path := e.config.OverrideFile
	if path == "" {
		return nil
	}
	pins, names, err := compose.ReadImageOverride(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return NewStageError(ClassPreflightFailure, "read image pins", err)
	}
	if run.BackupDir != "" {
		kept := filepath.Join(run.BackupDir, pinsBackupName)
		if err := compose.WriteImageOverride(kept, pins); err != nil {
			return NewStageError(ClassBackupFailure, "keep image pins", err)
		}
	}
	if err := compose.WriteImageOverride(path, nil); err != nil {
		return NewStageError(ClassPreflightFailure, "release image pins", err)
	}
	e.logger.Info("rollback image pins released", "file", path, "services", names)
	run.warn("released rollback image pins for " + strings.Join(names, ", "))
	return nil
}

// describePlan fills the run with what a real run would do.
func (e *Executor) describePlan(run *Run, groups [][]registry.Service) {
	steps := []string{}
	if !run.Flags.SkipBackup {
		steps = append(steps, "would create a snapshot and prune snapshots older than "+
			strconv.Itoa(e.config.RetainDays)+" days")
	}
	pull, build := splitArtifacts(flatten(groups))
	if len(pull) > 0 {
		steps = append(steps, "would pull "+strings.Join(pull, ", "))
	}
	if len(build) > 0 {
		steps = append(steps, "would build "+strings.Join(build, ", "))
	}
	for _, s := range steps {
		e.reporter.Plan(s)
	}

	for _, group := range groups {
		tier := group[0].Tier
		names := serviceNames(group)
		run.Tiers = append(run.Tiers, TierResult{Tier: tier, Outcome: TierPlanned, Planned: names})
		e.reporter.Plan(fmt.Sprintf("tier %d: would start and probe %s", tier, strings.Join(names, ", ")))
		if tier == e.config.InfraTier && e.databases != nil {
			e.reporter.Plan(fmt.Sprintf("tier %d: would verify required databases", tier))
		}
	}
}

func (e *Executor) backup(ctx context.Context, run *Run) error {
	ctx, finish := e.tracer.StartSpan(ctx, "deploy.snapshot", nil)
	snap, err := e.snapshots.CreateSnapshot(ctx, run.ID)
	finish(err)
	if snap != nil {
		run.SnapshotID = snap.ID
		run.BackupDir = snap.Dir
		e.metrics.RecordSnapshot(snap.DumpBytes)
		if snap.DumpError != "" {
			run.warn("database dump skipped: " + snap.DumpError)
		}
	}
	if err != nil {
		return NewStageError(ClassBackupFailure, "snapshot", err)
	}

	removed, err := e.snapshots.PruneOlderThan(e.config.RetainDays)
	if err != nil {
		e.logger.Warn("snapshot prune failed", "error", err)
		run.warn("snapshot prune failed: " + err.Error())
	}
	e.metrics.RecordPruned(removed)
	return nil
}

// fetchArtifacts pulls remote images and builds local ones. With Force a
// failure is downgraded to a warning.
func (e *Executor) fetchArtifacts(ctx context.Context, run *Run, services []registry.Service) error {
	pull, build := splitArtifacts(services)
	steps := []struct {
		stage string
		names []string
		fn    func(context.Context, []string) error
	}{
		{"pull", pull, e.runtime.Pull},
		{"build", build, e.runtime.Build},
	}
	for _, s := range steps {
		if len(s.names) == 0 {
			continue
		}
		err := s.fn(ctx, s.names)
		if err == nil {
			continue
		}
		if !run.Flags.Force {
			return NewStageError(ClassPreflightFailure, s.stage, err)
		}
		e.logger.Warn("artifact step failed, continuing with --force", "stage", s.stage, "error", err)
		run.warn(fmt.Sprintf("%s failed (forced): %v", s.stage, err))
	}
	return nil
}

// deployTiers starts and probes each tier in order. afterInfra runs once the
// infrastructure tier is up and before it is probed.
func (e *Executor) deployTiers(ctx context.Context, run *Run, groups [][]registry.Service, afterInfra func(context.Context, *Run) error) error {
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return NewStageError(ClassCriticalHealthFailure, "deploy", err)
		}
		tier := group[0].Tier
		tierCtx, finish := e.tracer.StartSpan(ctx, "deploy.tier", map[string]string{"tier": strconv.Itoa(tier)})
		tr, err := e.deployTier(tierCtx, run, group, afterInfra)
		finish(err)
		run.Tiers = append(run.Tiers, tr)
		e.metrics.RecordTier(tier, string(tr.Outcome))
		e.reporter.Tier(tr)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) deployTier(ctx context.Context, run *Run, group []registry.Service, afterInfra func(context.Context, *Run) error) (TierResult, error) {
	start := e.now()
	tier := group[0].Tier
	tr := TierResult{Tier: tier, Outcome: TierOK}

	e.logger.Info("starting tier", "tier", tier, "services", serviceNames(group))

	var criticalDown []string
	for _, svc := range group {
		sr := e.startService(ctx, svc)
		if !sr.Started && svc.Critical {
			criticalDown = append(criticalDown, svc.Name)
		}
		tr.Services = append(tr.Services, sr)
	}
	if len(criticalDown) > 0 {
		tr.Outcome = TierFailed
		tr.Duration = e.now().Sub(start)
		return tr, NewStageError(ClassCriticalHealthFailure, fmt.Sprintf("tier %d", tier),
			fmt.Errorf("critical services failed to start: %s", strings.Join(criticalDown, ", ")))
	}

	if tier == e.config.InfraTier && afterInfra != nil {
		if err := afterInfra(ctx, run); err != nil {
			tr.Outcome = TierFailed
			tr.Duration = e.now().Sub(start)
			return tr, err
		}
	}

	var fatal []string
	for i := range tr.Services {
		sr := &tr.Services[i]
		if !sr.Started {
			tr.Outcome = TierDegraded
			run.warn(fmt.Sprintf("%s: %s did not start: %s", ClassApplicationHealthFailure, sr.Name, sr.Message))
			continue
		}
		res, err := e.probeService(ctx, sr.Name)
		if err != nil {
			tr.Outcome = TierFailed
			tr.Duration = e.now().Sub(start)
			return tr, err
		}
		sr.Health = res.Status
		sr.Attempts = res.Attempts
		sr.Message = res.Message
		switch {
		case res.Fatal:
			fatal = append(fatal, res.Service)
		case !res.OK():
			tr.Outcome = TierDegraded
			run.warn(fmt.Sprintf("%s: %s is %s after %d attempts", ClassApplicationHealthFailure, res.Service, res.Status, res.Attempts))
		}
	}
	tr.Duration = e.now().Sub(start)

	if len(fatal) > 0 {
		tr.Outcome = TierFailed
		return tr, NewStageError(ClassCriticalHealthFailure, fmt.Sprintf("tier %d", tier),
			fmt.Errorf("critical services unhealthy: %s", strings.Join(fatal, ", ")))
	}
	return tr, nil
}

func (e *Executor) startService(ctx context.Context, svc registry.Service) ServiceResult {
	ctx, finish := e.tracer.StartSpan(ctx, "deploy.service.start", map[string]string{"service": svc.Name})
	sr := ServiceResult{Name: svc.Name, Critical: svc.Critical}

	err := e.runtime.Start(ctx, svc.Name)
	if err == nil {
		err = e.prober.WaitRunning(ctx, svc.Name, e.config.StartTimeout)
	}
	finish(err)

	if err != nil {
		sr.Health = health.StatusNotRunning
		sr.Message = err.Error()
		e.logger.Error("service failed to start", "service", svc.Name, "critical", svc.Critical, "error", err)
		return sr
	}
	sr.Started = true
	e.logger.Info("service started", "service", svc.Name, "tier", svc.Tier)
	return sr
}

func (e *Executor) probeService(ctx context.Context, name string) (health.Result, error) {
	ctx, finish := e.tracer.StartSpan(ctx, "deploy.service.probe", map[string]string{"service": name})
	res, err := e.prober.Verify(ctx, name, e.config.MaxAttempts, e.config.Interval)
	if err == nil && !res.OK() {
		finish(fmt.Errorf("%s: %s", name, res.Status))
	} else {
		finish(err)
	}
	if err != nil {
		return res, err
	}
	e.metrics.RecordServiceHealth(name, res.OK(), res.Attempts)
	return res, nil
}

func (e *Executor) verifyDatabases(ctx context.Context, run *Run) error {
	if e.databases == nil {
		return nil
	}
	ctx, finish := e.tracer.StartSpan(ctx, "deploy.dbverify", nil)
	report, err := e.databases.Verify(ctx)
	finish(err)
	if err != nil {
		return NewStageError(ClassDatabaseBootstrapFailure, "database verification", err)
	}
	if report != nil && len(report.Initialized) > 0 {
		e.logger.Info("databases initialized", "databases", report.Initialized)
	}
	return nil
}

// finish stamps the final status, records metrics, archives and reports.
func (e *Executor) finish(run *Run, err error) {
	run.FinishedAt = e.now().UTC()
	switch {
	case err != nil:
		run.Status = StatusFailed
		run.ErrorClass = Classify(err)
		run.Error = err.Error()
	case run.Flags.DryRun:
		run.Status = StatusDryRun
	case run.RollbackOf != "":
		run.Status = StatusRolledBack
	case hasDegradedTier(run):
		run.Status = StatusDegraded
		run.ErrorClass = ClassApplicationHealthFailure
	default:
		run.Status = StatusSucceeded
	}

	e.metrics.RecordRun(string(run.Status), run.Duration())

	if !run.Flags.DryRun && e.archive != nil {
		if aerr := e.archive.Put(run); aerr != nil {
			e.logger.Warn("failed to archive run", "run_id", run.ID, "error", aerr)
		}
	}

	e.logger.Info("deployment finished",
		"run_id", run.ID,
		"status", run.Status,
		"error_class", run.ErrorClass,
		"duration", run.Duration())
	e.reporter.Summary(run, e.RollbackCommand(run))
}

// RollbackCommand is the hint printed in the summary; empty when the run has
// no snapshot to return to.
func (e *Executor) RollbackCommand(run *Run) string {
	if run.SnapshotID == "" || run.RollbackOf != "" {
		return ""
	}
	return fmt.Sprintf("%s up --rollback=%s", e.config.Binary, run.ID)
}

func hasDegradedTier(run *Run) bool {
	for _, t := range run.Tiers {
		if t.Outcome == TierDegraded {
			return true
		}
	}
	return false
}

// splitArtifacts separates services with a build context from pulled ones.
func splitArtifacts(services []registry.Service) (pull, build []string) {
	for _, svc := range services {
		if svc.Build {
			build = append(build, svc.Name)
		} else {
			pull = append(pull, svc.Name)
		}
	}
	return pull, build
}

func serviceNames(services []registry.Service) []string {
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	return names
}

func flatten(groups [][]registry.Service) []registry.Service {
	var out []registry.Service
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
