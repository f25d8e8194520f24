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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
)

// ErrFileNotFound is returned by a Transport when the remote file is absent.
var ErrFileNotFound = errors.New("secret file not found")

// Transport moves secret files to and from one environment.
type Transport interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	CopyFile(ctx context.Context, src, dst string) error
	Close() error
}

// Dialer opens a Transport for an environment.
type Dialer func(ctx context.Context, env config.EnvironmentConfig) (Transport, error)

// LocalTransport serves environments whose files live on this host.
type LocalTransport struct{}

func (LocalTransport) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return data, err
}

func (LocalTransport) WriteFile(ctx context.Context, path string, data []byte) error {
	return writeFileAtomic(path, data)
}

func (LocalTransport) CopyFile(ctx context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	defer wipe(data)
	return writeFileAtomic(dst, data)
}

func (LocalTransport) Close() error { return nil }

// writeFileAtomic writes data with mode 0600 through a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// MockTransport is an in-memory Transport for tests.
type MockTransport struct {
	Files    map[string][]byte
	ReadErr  error
	WriteErr error
	Copies   [][2]string
	Closed   bool
}

func (m *MockTransport) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	data, ok := m.Files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

func (m *MockTransport) WriteFile(ctx context.Context, path string, data []byte) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if m.Files == nil {
		m.Files = map[string][]byte{}
	}
	m.Files[path] = append([]byte(nil), data...)
	return nil
}

func (m *MockTransport) CopyFile(ctx context.Context, src, dst string) error {
	data, ok := m.Files[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, src)
	}
	m.Copies = append(m.Copies, [2]string{src, dst})
	m.Files[dst] = append([]byte(nil), data...)
	return nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

var _ Transport = LocalTransport{}
var _ Transport = (*MockTransport)(nil)
