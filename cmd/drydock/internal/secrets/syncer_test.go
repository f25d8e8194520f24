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
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
)

type fixture struct {
	mu         sync.Mutex
	transports map[string]*MockTransport
	dialErr    map[string]error
	syncer     *Syncer
	logs       *bytes.Buffer
	dir        string
}

func newFixture(t *testing.T, recipients []string, confirm Confirmer) *fixture {
	t.Helper()
	f := &fixture{
		transports: map[string]*MockTransport{
			"cloud":       {Files: map[string][]byte{"/srv/fleet/.env": []byte("DISCORD_TOKEN=remote-old\nSHARED=same-value\n")}},
			"workstation": {Files: map[string][]byte{}},
		},
		dialErr: map[string]error{},
		logs:    &bytes.Buffer{},
		dir:     t.TempDir(),
	}
	dial := func(ctx context.Context, env config.EnvironmentConfig) (Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := f.dialErr[env.Name]; err != nil {
			return nil, err
		}
		return f.transports[env.Name], nil
	}
	logger := slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := NewSyncer(Config{
		Targets: []config.EnvironmentConfig{
			{Name: "cloud", Kind: config.EnvCloud, Enabled: true, RemoteSecretsPath: "/srv/fleet/.env"},
			{Name: "workstation", Kind: config.EnvWorkstation, Enabled: true, RemoteSecretsPath: "/home/dev/fleet/.env"},
			{Name: "legacy", Kind: config.EnvCloud, Enabled: false, RemoteSecretsPath: "/old/.env"},
		},
		BackupDir:  filepath.Join(f.dir, "backups"),
		Recipients: recipients,
	}, dial, confirm, logger)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC) }
	f.syncer = s
	return f
}

func TestSync_AllEnabledTargets(t *testing.T) {
	f := newFixture(t, nil, nil)
	local := parseString(t, "DISCORD_TOKEN=local-new\nSHARED=same-value\n")

	results, err := f.syncer.Sync(context.Background(), local, SyncOptions{Backup: true})
	require.NoError(t, err)
	require.Len(t, results, 2)

	cloud := results[0]
	assert.Equal(t, "cloud", cloud.Environment)
	assert.True(t, cloud.Written)
	assert.Equal(t, []string{"DISCORD_TOKEN"}, cloud.Diff.Keys(Changed))
	assert.Equal(t, "/srv/fleet/.env.bak-20260320T120000Z", cloud.BackupPath)
	assert.Equal(t, "DISCORD_TOKEN=local-new\nSHARED=same-value\n", string(f.transports["cloud"].Files["/srv/fleet/.env"]))

	ws := results[1]
	assert.Empty(t, ws.BackupPath)
	assert.Equal(t, 2, ws.Diff.Count(Added))

	assert.True(t, f.transports["cloud"].Closed)
	assert.NotContains(t, f.logs.String(), "local-new")
	assert.NotContains(t, f.logs.String(), "remote-old")
}

func TestSync_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	local := parseString(t, "DISCORD_TOKEN=local-new\n")

	results, err := f.syncer.Sync(context.Background(), local, SyncOptions{Environment: "cloud", DryRun: true, Backup: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Written)
	assert.Empty(t, f.transports["cloud"].Copies)
	assert.Equal(t, "DISCORD_TOKEN=remote-old\nSHARED=same-value\n", string(f.transports["cloud"].Files["/srv/fleet/.env"]))
}

func TestSync_FailureIsRedactedAndIsolated(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.transports["cloud"].WriteErr = errors.New("remote said: DISCORD_TOKEN=local-new rejected")
	local := parseString(t, "DISCORD_TOKEN=local-new\n")

	results, err := f.syncer.Sync(context.Background(), local, SyncOptions{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "local-new")
	assert.Contains(t, err.Error(), "[REDACTED:DISCORD_TOKEN]")
	assert.True(t, results[1].Written)
	assert.NotContains(t, f.logs.String(), "local-new")
}

func TestTargets(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.syncer.Targets("nowhere")
	assert.True(t, errors.Is(err, ErrUnknownEnvironment))
	_, err = f.syncer.Targets("legacy")
	assert.True(t, errors.Is(err, ErrNoTargets))
	all, err := f.syncer.Targets("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPull_IdenticalSetsIsNoOpDiff(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := filepath.Join(f.dir, ".env")
	require.NoError(t, os.WriteFile(out, []byte("SHARED=same-value\nDISCORD_TOKEN=remote-old\n"), 0600))

	res, err := f.syncer.Pull(context.Background(), PullOptions{Environment: "cloud", Output: out})
	require.NoError(t, err)
	assert.True(t, res.Diff.Empty())
	assert.Equal(t, 2, res.Diff.Count(Unchanged))
}

func TestPull_ConflictRefusedWithoutConfirmation(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := filepath.Join(f.dir, ".env")
	original := "DISCORD_TOKEN=local-value\nLOCAL_ONLY=keep-me\n"
	require.NoError(t, os.WriteFile(out, []byte(original), 0600))

	res, err := f.syncer.Pull(context.Background(), PullOptions{Environment: "cloud", Output: out})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiffConflict))
	assert.NotContains(t, err.Error(), "local-value")
	assert.False(t, res.Written)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestPull_ConfirmedOrYes(t *testing.T) {
	asked := 0
	f := newFixture(t, nil, func(env string, d Diff) (bool, error) {
		asked++
		return true, nil
	})
	out := filepath.Join(f.dir, ".env")
	require.NoError(t, os.WriteFile(out, []byte("DISCORD_TOKEN=local-value\n"), 0600))

	res, err := f.syncer.Pull(context.Background(), PullOptions{Environment: "cloud", Output: out, Backup: true})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)
	assert.True(t, res.Written)
	assert.FileExists(t, res.BackupPath)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "DISCORD_TOKEN=remote-old\nSHARED=same-value\n", string(data))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = f.syncer.Pull(context.Background(), PullOptions{Environment: "cloud", Output: out, Yes: true})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)
}

func TestPull_EncryptedBackup(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	f := newFixture(t, []string{id.Recipient().String()}, nil)
	out := filepath.Join(f.dir, ".env")
	require.NoError(t, os.WriteFile(out, []byte("DISCORD_TOKEN=local-value\n"), 0600))

	res, err := f.syncer.Pull(context.Background(), PullOptions{Environment: "cloud", Output: out, Backup: true, Yes: true})
	require.NoError(t, err)
	assert.Equal(t, ".age", filepath.Ext(res.BackupPath))

	enc, err := os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	assert.NotContains(t, string(enc), "local-value")

	r, err := age.Decrypt(bytes.NewReader(enc), id)
	require.NoError(t, err)
	var plain bytes.Buffer
	_, err = plain.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "DISCORD_TOKEN=local-value\n", plain.String())
}

func TestPull_DryRunAndMissingRemote(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := filepath.Join(f.dir, ".env")

	res, err := f.syncer.Pull(context.Background(), PullOptions{Environment: "cloud", Output: out, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Diff.Count(Added))
	assert.NoFileExists(t, out)

	_, err = f.syncer.Pull(context.Background(), PullOptions{Environment: "workstation", Output: out})
	assert.True(t, errors.Is(err, ErrFileNotFound))

	_, err = f.syncer.Pull(context.Background(), PullOptions{Output: out})
	assert.Error(t, err)
}

func TestNewSyncer_BadRecipient(t *testing.T) {
	_, err := NewSyncer(Config{Recipients: []string{"not-a-key"}}, nil, nil, nil)
	assert.Error(t, err)
}
