// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/dbverify"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/diagnostics"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/health"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/compose"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/docker"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/offsite"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/registry"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/runstore"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/smoke"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/snapshot"
	"github.com/AleutianAI/drydock/pkg/logging"
	"github.com/AleutianAI/drydock/pkg/ux"
)

// overrideFileName is the compose override written by rollback, relative
// to the project work dir.
const overrideFileName = "drydock.override.yml"

// app holds everything one command invocation builds from the
// configuration file. Components that need a connection or a lock (the
// runtime, the run store) are created on first use.
type app struct {
	configPath string
	cfg        *config.DrydockConfig
	log        *logging.Logger
	logger     *slog.Logger
	registry   *registry.Registry
	metrics    diagnostics.Metrics
	tracer     diagnostics.Tracer
	printer    *ux.Printer

	runtime container.Runtime
	archive *runstore.Store[*deploy.Run]
	closers []func() error
}

// newApp loads the configuration and builds the ambient components.
//
// # Description
//
// The config path comes from --config, DRYDOCK_CONFIG or the default under
// ~/.drydock. --log-level wins over log.level. The state directory is
// created here because the lease, run store, logs and metrics textfile all
// live in it.
func newApp(ctx context.Context) (*app, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, deploy.NewStageError(deploy.ClassConfigurationError, "load config", err)
	}
	return newAppFromConfig(ctx, path, cfg)
}

func newAppFromConfig(ctx context.Context, path string, cfg *config.DrydockConfig) (*app, error) {
	levelName := cfg.Log.Level
	if logLevel.String() != "" {
		levelName = logLevel.String()
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, deploy.NewStageError(deploy.ClassConfigurationError, "log level", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  filepath.Join(cfg.StateDir, "logs"),
		Service: "drydock",
	})
	logger := log.Slog()
	slog.SetDefault(logger)

	reg, err := registry.FromConfig(cfg)
	if err != nil {
		log.Close()
		return nil, deploy.NewStageError(deploy.ClassConfigurationError, "service registry", err)
	}

	tracer, err := diagnostics.NewTracer(ctx, diagnostics.TracerConfig{
		ServiceName: "drydock",
		Endpoint:    cfg.Telemetry.TracingEndpoint,
		Insecure:    cfg.Telemetry.TracingInsecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		tracer = diagnostics.NoOpTracer{}
	}

	return &app{
		configPath: path,
		cfg:        cfg,
		log:        log,
		logger:     logger,
		registry:   reg,
		metrics:    diagnostics.NewMetrics(cfg.Telemetry.MetricsTextfile),
		tracer:     tracer,
		printer:    ux.NewPrinter(os.Stdout),
	}, nil
}

// Close flushes metrics and traces and releases connections, newest first.
func (a *app) Close() {
	if path := a.cfg.Telemetry.MetricsTextfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("metrics textfile not written", "path", path, "error", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", "error", err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	a.log.Close()
}

// Runtime returns the container runtime selected by project.runtime.
func (a *app) Runtime() (container.Runtime, error) {
	if a.runtime != nil {
		return a.runtime, nil
	}
	rt, closer, err := newRuntime(a.cfg, a.registry, a.logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.runtime = rt
	return rt, nil
}

func newRuntime(cfg *config.DrydockConfig, reg *registry.Registry, logger *slog.Logger) (container.Runtime, func() error, error) {
	containers := make(map[string]string)
	images := make(map[string]string)
	for _, svc := range reg.All() {
		containers[svc.Name] = svc.Container
		if svc.Image != "" {
			images[svc.Name] = svc.Image
		}
	}

	switch cfg.Project.Runtime {
	case config.RuntimeDocker:
		rt, err := docker.New(docker.Config{
			Host:       cfg.Project.DockerHost,
			Containers: containers,
			Images:     images,
		}, logger)
		if err != nil {
			return nil, nil, deploy.NewStageError(deploy.ClassPreflightFailure, "docker client", err)
		}
		return rt, rt.Close, nil
	default:
		rt, err := compose.New(compose.Config{
			Command:      cfg.Project.ComposeCommand,
			Engine:       cfg.Project.Engine,
			WorkDir:      cfg.Project.WorkDir,
			Files:        cfg.Project.ComposeFiles,
			OverrideFile: overridePath(cfg),
			Containers:   containers,
		}, process.NewDefaultRunner(logger), logger)
		if err != nil {
			return nil, nil, deploy.NewStageError(deploy.ClassConfigurationError, "compose runtime", err)
		}
		return rt, nil, nil
	}
}

func overridePath(cfg *config.DrydockConfig) string {
	if cfg.Project.Runtime == config.RuntimeDocker {
		return ""
	}
	return filepath.Join(cfg.Project.WorkDir, overrideFileName)
}

// activeConfigFile is the file copied into every snapshot.
func (a *app) activeConfigFile() string {
	if a.cfg.Project.ConfigFile != "" {
		return a.cfg.Project.ConfigFile
	}
	return a.configPath
}

// Archive opens the run store. Badger holds a directory lock, so only
// commands that read or write runs open it.
func (a *app) Archive() (*runstore.Store[*deploy.Run], error) {
	if a.archive != nil {
		return a.archive, nil
	}
	store, err := runstore.Open[*deploy.Run](runstore.Config{
		Path:   filepath.Join(a.cfg.StateDir, "runs"),
		Logger: a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	a.archive = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// Snapshots builds the backup manager over rt.
func (a *app) Snapshots(rt container.Runtime) *snapshot.Manager {
	db := a.cfg.Database
	return snapshot.NewManager(snapshot.Config{
		Dir:            a.cfg.Backup.Dir,
		ConfigFile:     a.activeConfigFile(),
		Services:       a.registry.Names(),
		DBService:      db.Service,
		DumpCommand:    db.DumpCommand,
		RestoreCommand: db.RestoreCommand,
		Require:        a.cfg.Backup.Require,
	}, rt, a.logger)
}

// Prober builds the readiness prober.
func (a *app) Prober(rt container.Runtime) *health.Prober {
	h := a.cfg.Health
	return health.NewProber(a.registry, rt, &http.Client{Timeout: h.HTTPTimeout}, health.Config{
		MaxAttempts: h.MaxAttempts,
		Interval:    h.Interval,
		HTTPTimeout: h.HTTPTimeout,
	}, a.logger)
}

// Executor wires the deployment pipeline.
func (a *app) Executor(reporter deploy.Reporter) (*deploy.Executor, error) {
	rt, err := a.Runtime()
	if err != nil {
		return nil, err
	}
	archive, err := a.Archive()
	if err != nil {
		return nil, err
	}

	deps := deploy.Deps{
		Registry:  a.registry,
		Runtime:   rt,
		Prober:    a.Prober(rt),
		Snapshots: a.Snapshots(rt),
		Preflight: deploy.NewPreflight(deploy.PreflightConfig{
			ConfigFile:         a.activeConfigFile(),
			BackupDir:          a.cfg.Backup.Dir,
			MinFreeDiskMB:      a.cfg.Preflight.MinFreeDiskMB,
			SecretsFile:        a.cfg.Preflight.SecretsFile,
			RequiredSecretKeys: a.cfg.Preflight.RequiredSecretKeys,
		}, rt, a.logger),
		Lease:    process.NewRunLease(process.LeaseConfig{Dir: a.cfg.StateDir, Name: "deploy"}),
		Archive:  archive,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
		Reporter: reporter,
		Logger:   a.logger,
	}
	if db := a.cfg.Database; db.Service != "" && len(db.Required) > 0 {
		deps.Databases = dbverify.NewVerifier(dbverify.Config{
			Service:      db.Service,
			Required:     db.Required,
			InitCommand:  db.InitCommand,
			InitAttempts: db.InitAttempts,
			SettleDelay:  db.SettleDelay,
		}, dbverify.NewPGCatalog(db.DSN, db.ConnectTimeout), rt, a.logger)
	}

	infraTier := 0
	if tiers := a.registry.TiersInOrder(); len(tiers) > 0 {
		infraTier = tiers[0]
	}
	return deploy.New(deps, deploy.Config{
		MaxAttempts:  a.cfg.Health.MaxAttempts,
		Interval:     a.cfg.Health.Interval,
		StartTimeout: a.cfg.Health.StartTimeout,
		RetainDays:   a.cfg.Backup.RetainDays,
		InfraTier:    infraTier,
		OverrideFile: overridePath(a.cfg),
		Binary:       "drydock",
	})
}

// SmokeRunner builds the smoke runner. The runtime is only dialed when
// auto-fix may need it.
func (a *app) SmokeRunner(autoFix bool) (*smoke.Runner, error) {
	var rt container.Runtime
	if autoFix {
		var err error
		if rt, err = a.Runtime(); err != nil {
			return nil, err
		}
	}
	client := &http.Client{Timeout: a.cfg.Smoke.Timeout}
	return smoke.NewRunner(smoke.ConfigFrom(a.cfg.Smoke, autoFix), a.cfg.Smoke.Checks,
		smoke.DefaultCheckers(client), rt, a.metrics, a.logger), nil
}

// Uploader connects to the off-host bucket. The caller closes it.
func (a *app) Uploader(ctx context.Context) (*offsite.GCSUploader, error) {
	g := a.cfg.Backup.GCS
	if g.Bucket == "" {
		return nil, errors.New("backup.gcs.bucket is not configured")
	}
	return offsite.NewGCSUploader(ctx, offsite.GCSConfig{
		Project:         g.Project,
		Bucket:          g.Bucket,
		CredentialsFile: g.CredentialsFile,
		Prefix:          g.Prefix,
	}, a.logger)
}
