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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
)

// PreflightConfig lists what must hold before a run mutates anything.
type PreflightConfig struct {
	ConfigFile         string
	BackupDir          string
	MinFreeDiskMB      uint64
	SecretsFile        string
	RequiredSecretKeys []string
}

// CheckResult is one preflight item.
type CheckResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Preflight runs read-only readiness checks.
//
// # Description
//
// None of the checks write to disk, so preflight is safe under --dry-run.
// Writability is tested with access(2) on the backup directory, or on its
// nearest existing parent when it does not exist yet.
type Preflight struct {
	config   PreflightConfig
	runtime  container.Runtime
	logger   *slog.Logger
	diskFree func(path string) (uint64, error)
	keys     func(path string) ([]string, error)
}

// NewPreflight creates a checker.
func NewPreflight(cfg PreflightConfig, rt container.Runtime, logger *slog.Logger) *Preflight {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preflight{
		config:   cfg,
		runtime:  rt,
		logger:   logger,
		diskFree: statfsFree,
		keys:     secrets.ParseKeys,
	}
}

// Run executes every check and returns all results. The error is a
// PreflightFailure naming each failed check.
func (p *Preflight) Run(ctx context.Context) ([]CheckResult, error) {
	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"container runtime reachable", p.checkRuntime},
		{"configuration readable", p.checkConfig},
		{"backup directory writable", p.checkBackupDir},
		{"free disk space", p.checkDisk},
		{"required secrets present", p.checkSecrets},
	}

	results := make([]CheckResult, 0, len(checks))
	var failed []string
	for _, c := range checks {
		err := c.fn(ctx)
		res := CheckResult{Name: c.name, OK: err == nil}
		if err != nil {
			res.Message = err.Error()
			failed = append(failed, fmt.Sprintf("%s: %v", c.name, err))
			p.logger.Warn("preflight check failed", "check", c.name, "error", err)
		} else {
			p.logger.Debug("preflight check passed", "check", c.name)
		}
		results = append(results, res)
	}
	if len(failed) > 0 {
		return results, NewStageError(ClassPreflightFailure, "preflight", errors.New(strings.Join(failed, "; ")))
	}
	return results, nil
}

func (p *Preflight) checkRuntime(ctx context.Context) error {
	return p.runtime.Ping(ctx)
}

func (p *Preflight) checkConfig(context.Context) error {
	if p.config.ConfigFile == "" {
		return nil
	}
	f, err := os.Open(p.config.ConfigFile)
	if err != nil {
		return err
	}
	return f.Close()
}

func (p *Preflight) checkBackupDir(context.Context) error {
	if p.config.BackupDir == "" {
		return errors.New("no backup directory configured")
	}
	dir := existingAncestor(p.config.BackupDir)
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	return nil
}

func (p *Preflight) checkDisk(context.Context) error {
	if p.config.MinFreeDiskMB == 0 {
		return nil
	}
	path := p.config.BackupDir
	if path == "" {
		path = "."
	}
	free, err := p.diskFree(existingAncestor(path))
	if err != nil {
		return err
	}
	freeMB := free / (1024 * 1024)
	if freeMB < p.config.MinFreeDiskMB {
		return fmt.Errorf("%d MB free, need %d MB", freeMB, p.config.MinFreeDiskMB)
	}
	return nil
}

func (p *Preflight) checkSecrets(context.Context) error {
	if len(p.config.RequiredSecretKeys) == 0 {
		return nil
	}
	keys, err := p.keys(p.config.SecretsFile)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[k] = true
	}
	var missing []string
	for _, k := range p.config.RequiredSecretKeys {
		if !have[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing keys %s", strings.Join(missing, ", "))
	}
	return nil
}

func statfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs failed for %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// existingAncestor walks up until it finds a path that exists.
func existingAncestor(path string) string {
	path = filepath.Clean(path)
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
