// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLeaseHeld is matched by errors.Is when another process holds the lease.
var ErrLeaseHeld = errors.New("run lease held by another process")

// Leaser guards a mutating run.
type Leaser interface {
	// Acquire takes the lease without blocking.
	Acquire() error

	// Release drops the lease. Safe to call multiple times.
	Release() error

	// IsHeld returns true if this instance currently holds the lease.
	IsHeld() bool

	// HolderPID returns the PID recorded by the current holder, or 0.
	HolderPID() int
}

// LeaseConfig configures a RunLease.
type LeaseConfig struct {
	// Dir holds the lock and pid files. Default: system temp directory.
	Dir string

	// Name is the base name for both files. Default: "deploy".
	Name string
}

// RunLease is an exclusive flock(2) lease on <Dir>/<Name>.lock.
//
// # Description
//
// The kernel drops the lock when the holder exits, so a crashed run never
// leaves a stale lease behind. The pid file is informational only.
type RunLease struct {
	config   LeaseConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewRunLease creates an unacquired lease.
func NewRunLease(config LeaseConfig) *RunLease {
	if config.Dir == "" {
		config.Dir = os.TempDir()
	}
	if config.Name == "" {
		config.Name = "deploy"
	}
	return &RunLease{
		config:   config,
		lockPath: filepath.Join(config.Dir, config.Name+".lock"),
		pidPath:  filepath.Join(config.Dir, config.Name+".pid"),
	}
}

// Acquire attempts a non-blocking exclusive lock.
//
// # Outputs
//
//   - error: *LeaseHeldError (matching ErrLeaseHeld) when another process
//     holds the lease, or a filesystem error.
func (l *RunLease) Acquire() error {
	if l.held {
		return nil
	}
	if err := os.MkdirAll(l.config.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create lease directory %s: %w", l.config.Dir, err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", l.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &LeaseHeldError{HolderPID: l.readHolderPID(), LockPath: l.lockPath}
		}
		return fmt.Errorf("failed to acquire lease: %w", err)
	}

	l.lockFile = f
	l.held = true

	// Best effort; the flock is what matters.
	_ = os.WriteFile(l.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
	return nil
}

// Release drops the lease if held.
func (l *RunLease) Release() error {
	if !l.held || l.lockFile == nil {
		return nil
	}
	os.Remove(l.pidPath)

	err := unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)
	l.lockFile.Close()
	l.lockFile = nil
	l.held = false

	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// IsHeld returns true if this instance currently holds the lease.
func (l *RunLease) IsHeld() bool {
	return l.held
}

// HolderPID returns the PID recorded in the pid file, or 0.
func (l *RunLease) HolderPID() int {
	return l.readHolderPID()
}

// LockPath returns the lock file path.
func (l *RunLease) LockPath() string {
	return l.lockPath
}

func (l *RunLease) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// LeaseHeldError reports who holds the lease.
type LeaseHeldError struct {
	HolderPID int
	LockPath  string
}

func (e *LeaseHeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("deployment already in progress (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("deployment already in progress (check: lsof %s)", e.LockPath)
}

// Is makes errors.Is(err, ErrLeaseHeld) true.
func (e *LeaseHeldError) Is(target error) bool {
	return target == ErrLeaseHeld
}

var _ Leaser = (*RunLease)(nil)

// MockLeaser implements Leaser for tests.
type MockLeaser struct {
	AcquireErr error
	held       bool
	Acquired   int
	Released   int
}

func (m *MockLeaser) Acquire() error {
	m.Acquired++
	if m.AcquireErr != nil {
		return m.AcquireErr
	}
	m.held = true
	return nil
}

func (m *MockLeaser) Release() error {
	m.Released++
	m.held = false
	return nil
}

func (m *MockLeaser) IsHeld() bool   { return m.held }
func (m *MockLeaser) HolderPID() int { return 0 }

var _ Leaser = (*MockLeaser)(nil)
