// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package offsite copies snapshots off the host.
package offsite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/snapshot"
)

// Uploader copies a snapshot to remote storage and returns its location.
type Uploader interface {
	Upload(ctx context.Context, snap *snapshot.Snapshot) (string, error)
}

// GCSConfig names the target bucket.
type GCSConfig struct {
	Project         string
	Bucket          string
	CredentialsFile string
	Prefix          string
}

// objectWriterFunc opens a writer for one object; swapped in tests.
type objectWriterFunc func(ctx context.Context, object string) io.WriteCloser

// GCSUploader writes snapshot files to gs://<bucket>/<prefix>/<snapshot id>/.
type GCSUploader struct {
	config    GCSConfig
	client    *storage.Client
	newWriter objectWriterFunc
	logger    *slog.Logger
}

// NewGCSUploader creates a storage client. With no credentials file the
// application default credentials are used.
func NewGCSUploader(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("offsite bucket is not configured")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	u := newUploader(cfg, logger, nil)
	u.client = client
	u.newWriter = func(ctx context.Context, object string) io.WriteCloser {
		w := client.Bucket(cfg.Bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/octet-stream"
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}
	return u, nil
}

func newUploader(cfg GCSConfig, logger *slog.Logger, w objectWriterFunc) *GCSUploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSUploader{config: cfg, newWriter: w, logger: logger}
}

// Upload copies every file of snap. The first failure stops the upload.
func (u *GCSUploader) Upload(ctx context.Context, snap *snapshot.Snapshot) (string, error) {
	prefix := path.Join(u.config.Prefix, snap.ID)
	for _, name := range snapshot.Files(snap) {
		object := path.Join(prefix, name)
		if err := u.uploadFile(ctx, filepath.Join(snap.Dir, name), object); err != nil {
			return "", err
		}
	}
	location := fmt.Sprintf("gs://%s/%s", u.config.Bucket, prefix)
	u.logger.Info("snapshot uploaded", "id", snap.ID, "location", location)
	return location, nil
}

func (u *GCSUploader) uploadFile(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file %s: %w", localPath, err)
	}
	defer f.Close()

	w := u.newWriter(ctx, object)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("failed to copy %s to GCS object %s: %w", localPath, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	return nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

var _ Uploader = (*GCSUploader)(nil)
