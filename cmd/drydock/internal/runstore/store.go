// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runstore archives deployment run records in an embedded badger
// database under the state directory. Records are append-only.
package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when no record matches an id.
var ErrNotFound = errors.New("run not found")

const (
	runPrefix   = "run/"
	indexPrefix = "id/"
)

// Config configures the store.
type Config struct {
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// Record is one archived run.
type Record interface {
	RecordID() string
	RecordTime() time.Time
}

// Store is a typed run archive.
type Store[T Record] struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens or creates the archive.
func Open[T Record](cfg Config) (*Store[T], error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent run store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create run store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return &Store[T]{db: db}, nil
}

// Close closes the database.
func (s *Store[T]) Close() error {
	return s.db.Close()
}

func primaryKey(r Record) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", runPrefix, r.RecordTime().UnixNano(), r.RecordID()))
}

// Put writes or replaces a record.
func (s *Store[T]) Put(rec T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", rec.RecordID(), err)
	}
	key := primaryKey(rec)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(indexPrefix+rec.RecordID()), key)
	})
}

// Get loads a record by id. A unique id prefix is accepted.
func (s *Store[T]) Get(id string) (T, error) {
	var out T
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := resolveID(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out, err
}

func resolveID(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get([]byte(indexPrefix + id))
	if err == nil {
		return item.ValueCopy(nil)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) || id == "" {
		return nil, err
	}

	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(indexPrefix + id)})
	defer it.Close()
	var match []byte
	for it.Rewind(); it.Valid(); it.Next() {
		if match != nil {
			return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
		}
		match, err = it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
	}
	if match == nil {
		return nil, badger.ErrKeyNotFound
	}
	return match, nil
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *Store[T]) List(limit int) ([]T, error) {
	var out []T
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix.
		seek := append([]byte(runPrefix), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if !strings.HasPrefix(string(it.Item().Key()), runPrefix) {
				break
			}
			var rec T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Latest returns the newest record.
func (s *Store[T]) Latest() (T, error) {
	var zero T
	recs, err := s.List(1)
	if err != nil {
		return zero, err
	}
	if len(recs) == 0 {
		return zero, ErrNotFound
	}
	return recs[0], nil
}
