// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
)

// execHandler serves one exec request and returns the exit status.
type execHandler func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int

type testServer struct {
	addr           string
	keyPath        string
	knownHostsPath string

	mu       sync.Mutex
	commands []string
}

func (s *testServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) config() SSHConfig {
	host, port, _ := net.SplitHostPort(s.addr)
	var p int
	fmt.Sscanf(port, "%d", &p)
	return SSHConfig{
		Host:           host,
		Port:           p,
		User:           "deploy",
		KeyPath:        s.keyPath,
		KnownHostsPath: s.knownHostsPath,
		DialTimeout:    2 * time.Second,
		CommandTimeout: 2 * time.Second,
	}
}

func startSSHServer(t *testing.T, handle execHandler) *testServer {
	t.Helper()
	dir := t.TempDir()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))
	authorized, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{addr: ln.Addr().String(), keyPath: keyPath}
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, hostSigner.PublicKey())
	srv.knownHostsPath = filepath.Join(dir, "known_hosts")
	require.NoError(t, os.WriteFile(srv.knownHostsPath, []byte(line+"\n"), 0o600))

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn, cfg, handle)
		}
	}()
	return srv
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig, handle execHandler) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					return
				}
				req.Reply(true, nil)
				s.mu.Lock()
				s.commands = append(s.commands, payload.Command)
				s.mu.Unlock()

				code := handle(payload.Command, ch, ch, ch.Stderr())
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
				return
			}
		}()
	}
}

// fileServer emulates the shell snippets Channel sends against an in-memory
// file map.
func fileServer(files map[string]string, mu *sync.Mutex) execHandler {
	return func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.HasPrefix(cmd, "if [ -f "):
			p := firstQuoted(cmd)
			data, ok := files[p]
			if !ok {
				return exitNotFound
			}
			io.WriteString(stdout, data)
			return 0
		case strings.HasPrefix(cmd, "umask 077"):
			mu.Unlock()
			data, _ := io.ReadAll(stdin)
			mu.Lock()
			quoted := allQuoted(cmd)
			files[quoted[len(quoted)-1]] = string(data)
			return 0
		case strings.HasPrefix(cmd, "cp -p -- "):
			q := allQuoted(cmd)
			data, ok := files[q[0]]
			if !ok {
				io.WriteString(stderr, "cp: cannot stat: No such file")
				return 1
			}
			files[q[1]] = data
			return 0
		case strings.HasPrefix(cmd, "fail"):
			io.WriteString(stderr, "boom DB_PASSWORD=hunter22")
			return 3
		case strings.HasPrefix(cmd, "sleep"):
			time.Sleep(5 * time.Second)
			return 0
		}
		io.WriteString(stdout, "ran: "+cmd)
		return 0
	}
}

func allQuoted(cmd string) []string {
	var out []string
	parts := strings.Split(cmd, "'")
	for i := 1; i < len(parts); i += 2 {
		out = append(out, parts[i])
	}
	return out
}

func firstQuoted(cmd string) string { return allQuoted(cmd)[0] }

func dialTest(t *testing.T, srv *testServer) *Channel {
	t.Helper()
	ch, err := DialSSH(context.Background(), srv.config(), NewRedactor(nil), discard())
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestChannel_RunReturnsStdout(t *testing.T) {
	var mu sync.Mutex
	srv := startSSHServer(t, fileServer(map[string]string{}, &mu))
	ch := dialTest(t, srv)

	out, err := ch.Run(context.Background(), "drydock --version", nil)
	require.NoError(t, err)
	assert.Equal(t, "ran: drydock --version", out)
}

func TestChannel_FailureCarriesRedactedStderr(t *testing.T) {
	var mu sync.Mutex
	srv := startSSHServer(t, fileServer(map[string]string{}, &mu))
	ch := dialTest(t, srv)

	_, err := ch.Run(context.Background(), "fail now", nil)
	require.Error(t, err)
	assert.Equal(t, 3, process.ExitCode(err))
	assert.Contains(t, process.ExtractStderr(err), "DB_PASSWORD=[REDACTED]")
	assert.NotContains(t, err.Error(), "hunter22")
}

func TestChannel_TimeoutFails(t *testing.T) {
	var mu sync.Mutex
	srv := startSSHServer(t, fileServer(map[string]string{}, &mu))
	cfg := srv.config()
	cfg.CommandTimeout = 100 * time.Millisecond
	ch, err := DialSSH(context.Background(), cfg, nil, discard())
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Run(context.Background(), "sleep 5", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannel_FileTransport(t *testing.T) {
	var mu sync.Mutex
	files := map[string]string{"/srv/app/.env": "A=1\n"}
	srv := startSSHServer(t, fileServer(files, &mu))
	ch := dialTest(t, srv)
	ctx := context.Background()

	data, err := ch.ReadFile(ctx, "/srv/app/.env")
	require.NoError(t, err)
	assert.Equal(t, "A=1\n", string(data))

	_, err = ch.ReadFile(ctx, "/srv/app/missing")
	assert.ErrorIs(t, err, secrets.ErrFileNotFound)

	require.NoError(t, ch.CopyFile(ctx, "/srv/app/.env", "/srv/app/.env.bak"))
	require.NoError(t, ch.WriteFile(ctx, "/srv/app/.env", []byte("A=2\n")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "A=1\n", files["/srv/app/.env.bak"])
	assert.Equal(t, "A=2\n", files["/srv/app/.env"])
}

func TestDialSSH_RejectsUnknownHost(t *testing.T) {
	var mu sync.Mutex
	srv := startSSHServer(t, fileServer(map[string]string{}, &mu))
	cfg := srv.config()
	cfg.KnownHostsPath = filepath.Join(t.TempDir(), "empty_known_hosts")
	require.NoError(t, os.WriteFile(cfg.KnownHostsPath, nil, 0o600))

	_, err := DialSSH(context.Background(), cfg, nil, discard())
	require.Error(t, err)
	assert.Equal(t, deploy.ClassConnectivityFailure, deploy.Classify(err))
}

func TestDialSSH_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	var mu sync.Mutex
	srv := startSSHServer(t, fileServer(map[string]string{}, &mu))
	cfg := srv.config()
	cfg.Port = addr.Port

	_, err = DialSSH(context.Background(), cfg, nil, discard())
	assert.Equal(t, deploy.ClassConnectivityFailure, deploy.Classify(err))
}

func TestTransportDialer_LocalEnvironments(t *testing.T) {
	dial := NewTransportDialer(config.RemoteConfig{}, nil, discard())
	tr, err := dial(context.Background(), config.EnvironmentConfig{Name: "laptop", Kind: config.EnvLocal})
	require.NoError(t, err)
	assert.IsType(t, secrets.LocalTransport{}, tr)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, `'a b' 'c'`, shellJoin([]string{"a b", "c"}))
}
