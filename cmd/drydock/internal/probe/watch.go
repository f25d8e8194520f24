// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// WatchOptions configure repeated probe passes.
type WatchOptions struct {
	// Interval is the minimum time between pass starts.
	Interval time.Duration

	// ConfigPath is watched for changes. Empty disables reload.
	ConfigPath string

	// Pass runs one probe pass with the current configuration.
	Pass func(ctx context.Context) error

	// Reload rebuilds whatever Pass uses after ConfigPath changed.
	Reload func() error

	Logger *slog.Logger
}

// Watch runs Pass repeatedly until ctx is cancelled.
//
// # Description
//
// Passes are paced by a token bucket with one token per Interval, so a
// burst of configuration changes cannot cause a burst of passes. A change
// to ConfigPath triggers Reload before the next pass. A failing Reload
// keeps the previous configuration.
//
// # Outputs
//
//   - error: nil on cancellation, otherwise the first Pass error.
func Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Interval <= 0 {
		return errors.New("watch interval must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var changes <-chan struct{}
	if opts.ConfigPath != "" {
		ch, stop, err := watchFile(ctx, opts.ConfigPath, opts.Logger)
		if err != nil {
			return fmt.Errorf("watch %s: %w", opts.ConfigPath, err)
		}
		defer stop()
		changes = ch
	}
	return watchLoop(ctx, opts, rate.NewLimiter(rate.Every(opts.Interval), 1), changes)
}

func watchLoop(ctx context.Context, opts WatchOptions, limiter *rate.Limiter, changes <-chan struct{}) error {
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-changes:
			if opts.Reload != nil {
				if err := opts.Reload(); err != nil {
					opts.Logger.Warn("configuration reload failed, keeping previous", "error", err)
				} else {
					opts.Logger.Info("configuration reloaded", "path", opts.ConfigPath)
				}
			}
		default:
		}

		if err := opts.Pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// watchFile signals on writes, creates and renames of path. The parent
// directory is watched because editors replace files by rename.
func watchFile(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	stop := func() {
		w.Close()
		<-done
	}
	return out, stop, nil
}
