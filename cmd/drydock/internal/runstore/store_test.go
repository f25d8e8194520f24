// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRun struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Status string    `json:"status"`
}

func (r testRun) RecordID() string      { return r.ID }
func (r testRun) RecordTime() time.Time { return r.At }

func openMem(t *testing.T) *Store[testRun] {
	t.Helper()
	s, err := Open[testRun](Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := openMem(t)
	base := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(testRun{ID: "aaaa-1111", At: base, Status: "running"}))
	require.NoError(t, s.Put(testRun{ID: "aaaa-1111", At: base, Status: "succeeded"}))

	got, err := s.Get("aaaa-1111")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)

	got, err = s.Get("aaaa")
	require.NoError(t, err)
	assert.Equal(t, "aaaa-1111", got.ID)

	_, err = s.Get("zzzz")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_AmbiguousPrefix(t *testing.T) {
	s := openMem(t)
	now := time.Now()
	require.NoError(t, s.Put(testRun{ID: "ab-1", At: now}))
	require.NoError(t, s.Put(testRun{ID: "ab-2", At: now.Add(time.Second)}))

	_, err := s.Get("ab")
	assert.ErrorContains(t, err, "ambiguous")
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openMem(t)
	base := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.Put(testRun{ID: id, At: base.Add(time.Duration(i) * time.Minute)}))
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].ID)
	assert.Equal(t, "first", all[2].ID)

	two, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, "third", latest.ID)
}

func TestStore_LatestEmpty(t *testing.T) {
	s := openMem(t)
	_, err := s.Latest()
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOpen_PersistentRequiresPath(t *testing.T) {
	_, err := Open[testRun](Config{})
	assert.Error(t, err)

	s, err := Open[testRun](Config{Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Put(testRun{ID: "x", At: time.Now()}))
	require.NoError(t, s.Close())
}
