// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package offsite

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/snapshot"
)

type memObject struct {
	bytes.Buffer
	closeErr error
}

func (m *memObject) Close() error { return m.closeErr }

func TestNewGCSUploader_Validation(t *testing.T) {
	_, err := NewGCSUploader(context.Background(), GCSConfig{}, nil)
	assert.ErrorContains(t, err, "bucket")

	_, err = NewGCSUploader(context.Background(), GCSConfig{Bucket: "b", CredentialsFile: "/nonexistent/key.json"}, nil)
	assert.ErrorContains(t, err, "service account key not found")
}

func TestUpload_WritesEverySnapshotFile(t *testing.T) {
	dir := t.TempDir()
	snap := &snapshot.Snapshot{ID: "20260320T120000Z-abcd1234", Dir: dir, ConfigCopy: "docker-compose.yml", DumpFile: "database.sql.zst"}
	for _, name := range snapshot.Files(snap) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0600))
	}

	objects := map[string]*memObject{}
	u := newUploader(GCSConfig{Bucket: "fleet-backups", Prefix: "drydock"}, nil, func(ctx context.Context, object string) io.WriteCloser {
		o := &memObject{}
		objects[object] = o
		return o
	})

	loc, err := u.Upload(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "gs://fleet-backups/drydock/20260320T120000Z-abcd1234", loc)
	require.Len(t, objects, 3)
	assert.Equal(t, "database.sql.zst", objects["drydock/20260320T120000Z-abcd1234/database.sql.zst"].String())
}

func TestUpload_CloseFailure(t *testing.T) {
	dir := t.TempDir()
	snap := &snapshot.Snapshot{ID: "s1", Dir: dir}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{}"), 0600))

	u := newUploader(GCSConfig{Bucket: "b"}, nil, func(ctx context.Context, object string) io.WriteCloser {
		return &memObject{closeErr: errors.New("permission denied")}
	})

	_, err := u.Upload(context.Background(), snap)
	assert.ErrorContains(t, err, "permission denied")
	assert.NoError(t, u.Close())
}
