// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/awnumar/memguard"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
)

var (
	// ErrDiffConflict refuses a pull that would change or remove local keys
	// without confirmation.
	ErrDiffConflict = errors.New("pull would change or remove existing keys")

	// ErrUnknownEnvironment is returned for names not in the target registry.
	ErrUnknownEnvironment = errors.New("unknown secrets environment")

	// ErrNoTargets is returned when no enabled target matches.
	ErrNoTargets = errors.New("no enabled secrets targets")
)

// backupTimeLayout names backup files.
const backupTimeLayout = "20060102T150405Z"

// Confirmer asks whether a conflicting pull may proceed.
type Confirmer func(env string, diff Diff) (bool, error)

// Config configures the Syncer.
type Config struct {
	Targets []config.EnvironmentConfig

	// BackupDir receives local backups made by Pull.
	BackupDir string

	// Recipients are age public keys; when set, local backups are
	// encrypted.
	Recipients []string

	// Parallelism bounds concurrent targets. Zero means all at once.
	Parallelism int
}

// Syncer pushes and pulls secret files.
//
// # Thread Safety
//
// Sync and Pull may run concurrently; each target gets its own Transport.
type Syncer struct {
	config     Config
	dial       Dialer
	recipients []age.Recipient
	confirm    Confirmer
	logger     *slog.Logger
	now        func() time.Time
}

// NewSyncer validates recipients and creates a syncer. confirm may be nil,
// in which case conflicting pulls require Yes.
func NewSyncer(cfg Config, dial Dialer, confirm Confirmer, logger *slog.Logger) (*Syncer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	recipients := make([]age.Recipient, 0, len(cfg.Recipients))
	for _, key := range cfg.Recipients {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("invalid backup recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return &Syncer{
		config:     cfg,
		dial:       dial,
		recipients: recipients,
		confirm:    confirm,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Targets returns the enabled targets, or the named one.
func (s *Syncer) Targets(name string) ([]config.EnvironmentConfig, error) {
	var out []config.EnvironmentConfig
	for _, t := range s.config.Targets {
		if name != "" && t.Name != name {
			continue
		}
		if name != "" && !t.Enabled {
			return nil, fmt.Errorf("%w: %s is disabled", ErrNoTargets, name)
		}
		if t.Enabled && t.RemoteSecretsPath != "" {
			out = append(out, t)
		}
	}
	if name != "" && len(out) == 0 {
		return nil, fmt.Errorf("%w %q", ErrUnknownEnvironment, name)
	}
	if len(out) == 0 {
		return nil, ErrNoTargets
	}
	return out, nil
}

// SyncOptions controls Sync.
type SyncOptions struct {
	Environment string
	DryRun      bool
	Backup      bool
}

// SyncResult is the outcome for one target.
type SyncResult struct {
	Environment string `json:"environment"`
	Path        string `json:"path"`
	Keys        int    `json:"keys"`
	Diff        Diff   `json:"diff"`
	BackupPath  string `json:"backup_path,omitempty"`
	Written     bool   `json:"written"`
	Error       string `json:"error,omitempty"`
}

// Sync pushes local to every selected target in parallel.
//
// # Description
//
// Each target is read first so the result carries the key-level diff. With
// Backup the existing remote file is copied aside before it is replaced.
// A failing target does not stop the others; the returned error joins every
// failure. Transport errors are redacted against local before they are
// logged or returned.
func (s *Syncer) Sync(ctx context.Context, local *Set, opts SyncOptions) ([]SyncResult, error) {
	targets, err := s.Targets(opts.Environment)
	if err != nil {
		return nil, err
	}

	results := make([]SyncResult, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	if s.config.Parallelism > 0 {
		g.SetLimit(s.config.Parallelism)
	}
	for i, target := range targets {
		g.Go(func() error {
			res, err := s.syncOne(ctx, local, target, opts)
			if err != nil {
				err = &redactedError{msg: local.Redact(err.Error())}
				res.Error = err.Error()
				s.logger.Error("secrets sync failed", "environment", target.Name, "error", res.Error)
			}
			results[i] = res
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", targets[i].Name, err))
		}
	}
	return results, errors.Join(failed...)
}

func (s *Syncer) syncOne(ctx context.Context, local *Set, target config.EnvironmentConfig, opts SyncOptions) (SyncResult, error) {
	res := SyncResult{Environment: target.Name, Path: target.RemoteSecretsPath, Keys: local.Len()}

	tr, err := s.dial(ctx, target)
	if err != nil {
		return res, fmt.Errorf("connect: %w", err)
	}
	defer tr.Close()

	remote, exists, err := readSet(ctx, tr, target.RemoteSecretsPath)
	if err != nil {
		return res, err
	}
	defer remote.Destroy()
	res.Diff = Compute(remote, local)

	if opts.DryRun {
		s.logger.Info("secrets sync planned", "environment", target.Name, "diff", res.Diff.Summary())
		return res, nil
	}

	if opts.Backup && exists {
		res.BackupPath = target.RemoteSecretsPath + ".bak-" + s.now().UTC().Format(backupTimeLayout)
		if err := tr.CopyFile(ctx, target.RemoteSecretsPath, res.BackupPath); err != nil {
			return res, fmt.Errorf("remote backup: %w", err)
		}
	}

	buf := local.Encode()
	defer buf.Destroy()
	if err := tr.WriteFile(ctx, target.RemoteSecretsPath, buf.Bytes()); err != nil {
		return res, fmt.Errorf("write: %w", err)
	}
	res.Written = true
	s.logger.Info("secrets synced", "environment", target.Name, "keys", local.Len(), "diff", res.Diff.Summary())
	return res, nil
}

// PullOptions controls Pull.
type PullOptions struct {
	Environment string

	// Output is the local file to overwrite.
	Output string
	DryRun bool
	Backup bool

	// Yes accepts conflicts without asking.
	Yes bool
}

// PullResult is the outcome of a pull.
type PullResult struct {
	Environment string `json:"environment"`
	Output      string `json:"output"`
	Diff        Diff   `json:"diff"`
	BackupPath  string `json:"backup_path,omitempty"`
	Written     bool   `json:"written"`
}

// Pull fetches a target's secrets and overwrites the local file.
//
// # Description
//
// The diff is computed before anything is written. When it would change or
// remove local keys, Pull proceeds only with Yes or a positive Confirmer
// answer; otherwise it returns ErrDiffConflict with the result attached.
// With Backup the current local file is saved to BackupDir first,
// age-encrypted when recipients are configured.
func (s *Syncer) Pull(ctx context.Context, opts PullOptions) (*PullResult, error) {
	targets, err := s.Targets(opts.Environment)
	if err != nil {
		return nil, err
	}
	if opts.Environment == "" || len(targets) != 1 {
		return nil, fmt.Errorf("%w: pull needs exactly one environment", ErrUnknownEnvironment)
	}
	target := targets[0]
	res := &PullResult{Environment: target.Name, Output: opts.Output}

	tr, err := s.dial(ctx, target)
	if err != nil {
		return res, fmt.Errorf("connect %s: %w", target.Name, err)
	}
	defer tr.Close()

	remote, exists, err := readSet(ctx, tr, target.RemoteSecretsPath)
	if err != nil {
		return res, err
	}
	defer remote.Destroy()
	if !exists {
		return res, fmt.Errorf("%s: %w: %s", target.Name, ErrFileNotFound, target.RemoteSecretsPath)
	}

	current, localExists, err := readSet(ctx, LocalTransport{}, opts.Output)
	if err != nil {
		return res, err
	}
	defer current.Destroy()

	res.Diff = Compute(current, remote)
	s.logger.Info("secrets pull diff", "environment", target.Name, "diff", res.Diff.Summary())
	if opts.DryRun {
		return res, nil
	}

	if res.Diff.HasConflicts() && !opts.Yes {
		ok := false
		if s.confirm != nil {
			if ok, err = s.confirm(target.Name, res.Diff); err != nil {
				return res, err
			}
		}
		if !ok {
			return res, fmt.Errorf("%w: %d changed, %d removed (%s)", ErrDiffConflict,
				res.Diff.Count(Changed), res.Diff.Count(Removed),
				strings.Join(append(res.Diff.Keys(Changed), res.Diff.Keys(Removed)...), ", "))
		}
	}

	if opts.Backup && localExists {
		path, err := s.backupLocal(opts.Output)
		if err != nil {
			return res, fmt.Errorf("local backup: %w", err)
		}
		res.BackupPath = path
	}

	buf := remote.Encode()
	defer buf.Destroy()
	if err := writeFileAtomic(opts.Output, buf.Bytes()); err != nil {
		return res, fmt.Errorf("write %s: %w", opts.Output, err)
	}
	res.Written = true
	s.logger.Info("secrets pulled", "environment", target.Name, "output", opts.Output, "keys", remote.Len())
	return res, nil
}

// backupLocal copies path into BackupDir, encrypting to the configured
// recipients when there are any.
func (s *Syncer) backupLocal(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	defer wipe(data)

	dir := s.config.BackupDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	name := filepath.Base(path) + "." + s.now().UTC().Format(backupTimeLayout) + ".bak"

	if len(s.recipients) == 0 {
		dst := filepath.Join(dir, name)
		return dst, writeFileAtomic(dst, data)
	}

	var out bytes.Buffer
	w, err := age.Encrypt(&out, s.recipients...)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name+".age")
	return dst, writeFileAtomic(dst, out.Bytes())
}

// readSet loads path through tr. A missing file is an empty set.
func readSet(ctx context.Context, tr Transport, path string) (*Set, bool, error) {
	data, err := tr.ReadFile(ctx, path)
	if errors.Is(err, ErrFileNotFound) {
		return NewSet(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return set, true, nil
}

func wipe(b []byte) {
	memguard.WipeBytes(b)
}

// redactedError carries a scrubbed message and drops the original chain so
// no wrapped error can reintroduce a value.
type redactedError struct {
	msg string
}

func (e *redactedError) Error() string { return e.msg }
