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
Package snapshot captures the pre-deployment state needed for rollback.

A snapshot is a directory <backup_dir>/<timestamp>-<run id>/ holding a copy of
the active configuration file, manifest.json (image identifiers per service and
snapshot metadata) and, when the database container was running, a
zstd-compressed dump in database.sql.zst.
*/
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
)

const (
	manifestName = "manifest.json"
	dumpName     = "database.sql.zst"
	timeLayout   = "20060102T150405Z"
)

var (
	// ErrNotFound is returned when no snapshot matches.
	ErrNotFound = errors.New("snapshot not found")

	// ErrNoDump is returned when restoring a database from a snapshot that
	// has none.
	ErrNoDump = errors.New("snapshot has no database dump")

	// ErrRequired wraps partial-snapshot problems when backups are required.
	ErrRequired = errors.New("snapshot incomplete and backups are required")
)

// Snapshot is the manifest of one backup directory.
type Snapshot struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	// SourceConfig is the path the configuration copy came from.
	SourceConfig string `json:"source_config"`
	ConfigCopy   string `json:"config_copy"`

	// Images maps service names to the image identifier that was running.
	Images map[string]string `json:"images"`

	// DumpFile is relative to the snapshot directory; empty when no dump was
	// taken.
	DumpFile  string `json:"dump_file,omitempty"`
	DumpBytes int64  `json:"dump_bytes,omitempty"`
	DumpError string `json:"dump_error,omitempty"`

	// ImagesError records a failed image inventory.
	ImagesError string `json:"images_error,omitempty"`

	// Dir is filled on load and never persisted.
	Dir string `json:"-"`
}

// HasDump reports whether a database dump is available.
func (s *Snapshot) HasDump() bool {
	return s.DumpFile != ""
}

// Config configures the Manager.
type Config struct {
	// Dir is the backup root.
	Dir string

	// ConfigFile is the active configuration file to copy.
	ConfigFile string

	// Services are inventoried for image identifiers.
	Services []string

	// DBService is the database service; empty disables dumps.
	DBService      string
	DumpCommand    []string
	RestoreCommand []string

	// Require turns any partial snapshot into an error.
	Require bool
}

// Manager creates, lists, prunes and restores snapshots.
type Manager struct {
	config  Config
	runtime container.Runtime
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a snapshot manager.
func NewManager(cfg Config, rt container.Runtime, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{config: cfg, runtime: rt, logger: logger, now: time.Now}
}

// Dir returns the backup root.
func (m *Manager) Dir() string {
	return m.config.Dir
}

// CreateSnapshot records the current state for runID.
//
// # Description
//
// Copies the configuration file, inventories running images and, when the
// database container runs, streams the dump command through zstd. The
// configuration copy is mandatory. Image inventory and dump are best effort
// unless Config.Require is set, in which case their failure is returned
// wrapped in ErrRequired after the partial snapshot has been written.
//
// # Outputs
//
//   - *Snapshot: The written manifest (also returned alongside ErrRequired).
//   - error: Filesystem failures, or ErrRequired.
func (m *Manager) CreateSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	created := m.now().UTC()
	id := created.Format(timeLayout) + "-" + shortID(runID)
	dir := filepath.Join(m.config.Dir, id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	snap := &Snapshot{
		ID:           id,
		RunID:        runID,
		CreatedAt:    created,
		SourceConfig: m.config.ConfigFile,
		Images:       map[string]string{},
		Dir:          dir,
	}

	if m.config.ConfigFile != "" {
		snap.ConfigCopy = filepath.Base(m.config.ConfigFile)
		if err := copyFile(m.config.ConfigFile, filepath.Join(dir, snap.ConfigCopy)); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to copy configuration: %w", err)
		}
	}

	var partial []string
	images, err := m.runtime.Images(ctx, m.config.Services)
	if err != nil {
		snap.ImagesError = err.Error()
		partial = append(partial, "image inventory: "+err.Error())
		m.logger.Warn("snapshot image inventory failed", "error", err)
	} else {
		snap.Images = images
	}

	if m.config.DBService != "" && len(m.config.DumpCommand) > 0 {
		if err := m.dumpDatabase(ctx, snap); err != nil {
			snap.DumpError = err.Error()
			partial = append(partial, "database dump: "+err.Error())
			m.logger.Warn("snapshot database dump failed", "service", m.config.DBService, "error", err)
		}
	}

	if err := writeManifest(snap); err != nil {
		return nil, err
	}
	m.logger.Info("snapshot created", "id", snap.ID, "images", len(snap.Images), "dump", snap.HasDump())

	if m.config.Require && len(partial) > 0 {
		return snap, fmt.Errorf("%w: %s", ErrRequired, strings.Join(partial, "; "))
	}
	return snap, nil
}

func (m *Manager) dumpDatabase(ctx context.Context, snap *Snapshot) error {
	st, err := m.runtime.State(ctx, m.config.DBService)
	if errors.Is(err, container.ErrNotFound) || (err == nil && !st.Running) {
		m.logger.Info("database not running, skipping dump", "service", m.config.DBService)
		return nil
	}
	if err != nil {
		return err
	}

	path := filepath.Join(snap.Dir, dumpName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}

	execErr := m.runtime.Exec(ctx, m.config.DBService, m.config.DumpCommand, nil, enc)
	closeErr := enc.Close()
	fileErr := f.Close()
	if err := errors.Join(execErr, closeErr, fileErr); err != nil {
		os.Remove(path)
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	snap.DumpFile = dumpName
	snap.DumpBytes = info.Size()
	return nil
}

// List returns every readable snapshot, newest first.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.config.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	var out []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap, err := readManifest(filepath.Join(m.config.Dir, e.Name()))
		if err != nil {
			m.logger.Debug("skipping unreadable snapshot", "dir", e.Name(), "error", err)
			continue
		}
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Get loads a snapshot by id.
func (m *Manager) Get(id string) (*Snapshot, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	snap, err := readManifest(filepath.Join(m.config.Dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snap, err
}

// ForRun returns the snapshot recorded for runID.
func (m *Manager) ForRun(runID string) (*Snapshot, error) {
	snaps, err := m.List()
	if err != nil {
		return nil, err
	}
	for i := range snaps {
		if snaps[i].RunID == runID {
			return &snaps[i], nil
		}
	}
	return nil, fmt.Errorf("%w for run %s", ErrNotFound, runID)
}

// Latest returns the newest snapshot.
func (m *Manager) Latest() (*Snapshot, error) {
	snaps, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	return &snaps[0], nil
}

// PruneOlderThan deletes snapshots created more than days ago. Snapshots
// exactly at the boundary are kept. A directory whose manifest cannot be
// read is aged by its modification time. Running it twice is harmless.
func (m *Manager) PruneOlderThan(days int) (int, error) {
	entries, err := os.ReadDir(m.config.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshots: %w", err)
	}
	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(m.config.Dir, e.Name())
		created, err := m.createdAt(dir, e)
		if err != nil {
			m.logger.Warn("cannot age snapshot", "dir", e.Name(), "error", err)
			continue
		}
		if !created.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("failed to prune snapshot", "id", e.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("pruned snapshots", "removed", removed, "retain_days", days)
	}
	return removed, nil
}

func (m *Manager) createdAt(dir string, e os.DirEntry) (time.Time, error) {
	snap, err := readManifest(dir)
	if err == nil {
		return snap.CreatedAt, nil
	}
	m.logger.Debug("snapshot manifest unreadable, using directory time", "dir", e.Name(), "error", err)
	info, err := e.Info()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// RestoreConfig copies the snapshot's configuration back over the source.
func (m *Manager) RestoreConfig(snap *Snapshot) error {
	if snap.ConfigCopy == "" || snap.SourceConfig == "" {
		return nil
	}
	if err := copyFile(filepath.Join(snap.Dir, snap.ConfigCopy), snap.SourceConfig); err != nil {
		return fmt.Errorf("failed to restore configuration: %w", err)
	}
	return nil
}

// RestoreDatabase decompresses the dump into the restore command.
func (m *Manager) RestoreDatabase(ctx context.Context, snap *Snapshot) error {
	if !snap.HasDump() {
		return ErrNoDump
	}
	if len(m.config.RestoreCommand) == 0 {
		return errors.New("no database restore command configured")
	}
	f, err := os.Open(filepath.Join(snap.Dir, snap.DumpFile))
	if err != nil {
		return fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open dump stream: %w", err)
	}
	defer dec.Close()

	if err := m.runtime.Exec(ctx, m.config.DBService, m.config.RestoreCommand, dec, io.Discard); err != nil {
		return fmt.Errorf("database restore failed: %w", err)
	}
	return nil
}

// ImagePins returns a copy of the image identifiers recorded in snap.
func ImagePins(snap *Snapshot) map[string]string {
	out := make(map[string]string, len(snap.Images))
	for k, v := range snap.Images {
		out[k] = v
	}
	return out
}

// Files lists the snapshot's files relative to its directory.
func Files(snap *Snapshot) []string {
	files := []string{manifestName}
	if snap.ConfigCopy != "" {
		files = append(files, snap.ConfigCopy)
	}
	if snap.DumpFile != "" {
		files = append(files, snap.DumpFile)
	}
	return files
}

func writeManifest(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snap.Dir, manifestName), data, 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func readManifest(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse manifest in %s: %w", dir, err)
	}
	snap.Dir = dir
	return &snap, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	if runID == "" {
		return "manual"
	}
	return runID
}
