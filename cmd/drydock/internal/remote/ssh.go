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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
)

// exitNotFound is the exit status the read script uses for a missing file.
const exitNotFound = 44

// Commander runs shell commands on a remote host.
type Commander interface {
	// Run executes cmd and returns its stdout. A non-zero exit is a
	// *process.CommandError whose stderr has been redacted; stdout is
	// returned alongside it.
	Run(ctx context.Context, cmd string, stdin io.Reader) (string, error)
	Close() error
}

// SSHConfig describes one SSH connection.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	KnownHostsPath string
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// SSHConfigFor builds the connection config for env.
func SSHConfigFor(env config.EnvironmentConfig, rc config.RemoteConfig) SSHConfig {
	cfg := SSHConfig{
		Host:           env.Host,
		Port:           env.Port,
		User:           env.User,
		KeyPath:        env.KeyPath,
		KnownHostsPath: env.KnownHostsPath,
		DialTimeout:    rc.DialTimeout,
		CommandTimeout: rc.CommandTimeout,
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	home, _ := os.UserHomeDir()
	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(home, ".ssh", "id_ed25519")
	}
	if cfg.KnownHostsPath == "" {
		cfg.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = config.DefaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = config.DefaultCommandTimeout
	}
	return cfg
}

// Address returns host:port.
func (c SSHConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Channel is an SSH connection used for commands and file transfer.
type Channel struct {
	client   *ssh.Client
	cfg      SSHConfig
	redactor *Redactor
	logger   *slog.Logger
}

var (
	_ Commander         = (*Channel)(nil)
	_ secrets.Transport = (*Channel)(nil)
)

// DialSSH connects and authenticates.
//
// # Description
//
// Authenticates with the private key at KeyPath and verifies the host key
// against KnownHostsPath. Unknown hosts are rejected. Every failure is a
// ConnectivityFailure.
func DialSSH(ctx context.Context, cfg SSHConfig, redactor *Redactor, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stage := "connect " + cfg.Address()

	signer, err := loadSigner(cfg.KeyPath)
	if err != nil {
		return nil, deploy.NewStageError(deploy.ClassConnectivityFailure, stage, err)
	}
	hostKeys, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, deploy.NewStageError(deploy.ClassConnectivityFailure, stage,
			fmt.Errorf("load known hosts: %w", err))
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         cfg.DialTimeout,
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", cfg.Address())
	if err != nil {
		return nil, deploy.NewStageError(deploy.ClassConnectivityFailure, stage, err)
	}
	if deadline, ok := dctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, cfg.Address(), clientCfg)
	if err != nil {
		conn.Close()
		return nil, deploy.NewStageError(deploy.ClassConnectivityFailure, stage, err)
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Debug("ssh connected", "host", cfg.Host, "user", cfg.User)
	return &Channel{
		client:   ssh.NewClient(c, chans, reqs),
		cfg:      cfg,
		redactor: redactor,
		logger:   logger,
	}, nil
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
	}
	return signer, nil
}

// Run executes cmd in a new session.
//
// # Description
//
// The call is bounded by CommandTimeout and ctx. On expiry the remote
// process is signalled and the session closed, and the call fails. stderr
// is passed through the redactor before it is logged or returned.
func (ch *Channel) Run(ctx context.Context, cmd string, stdin io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ch.cfg.CommandTimeout)
	defer cancel()

	shown := ch.redactor.Redact(cmd)
	sess, err := ch.client.NewSession()
	if err != nil {
		return "", deploy.NewStageError(deploy.ClassConnectivityFailure, "open session", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdin = stdin
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	start := time.Now()
	if err := sess.Start(cmd); err != nil {
		return "", process.NewCommandError(shown, -1, "", err)
	}
	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		ch.logger.Warn("remote command timed out", "host", ch.cfg.Host, "command", shown)
		return stdout.String(), process.NewCommandError(shown, -1, ch.redactor.Redact(stderr.String()), ctx.Err())
	}

	ch.logger.Debug("remote command finished", "host", ch.cfg.Host, "command", shown, "duration", time.Since(start))
	if err == nil {
		return stdout.String(), nil
	}
	code := -1
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitStatus()
	}
	scrubbed := ch.redactor.Redact(stderr.String())
	if scrubbed != "" {
		ch.logger.Warn("remote command failed", "host", ch.cfg.Host, "command", shown, "exit_code", code, "stderr", scrubbed)
	}
	return stdout.String(), process.NewCommandError(shown, code, scrubbed, err)
}

// ReadFile returns the contents of a remote file.
func (ch *Channel) ReadFile(ctx context.Context, p string) ([]byte, error) {
	q := shellQuote(p)
	out, err := ch.Run(ctx, fmt.Sprintf("if [ -f %s ]; then cat -- %s; else exit %d; fi", q, q, exitNotFound), nil)
	if process.ExitCode(err) == exitNotFound {
		return nil, fmt.Errorf("%w: %s", secrets.ErrFileNotFound, p)
	}
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// WriteFile replaces a remote file with mode 0600 through a temp file.
func (ch *Channel) WriteFile(ctx context.Context, p string, data []byte) error {
	tmp := shellQuote(p + ".drydock-tmp")
	cmd := fmt.Sprintf("umask 077 && mkdir -p %s && cat > %s && mv -f %s %s",
		shellQuote(path.Dir(p)), tmp, tmp, shellQuote(p))
	_, err := ch.Run(ctx, cmd, bytes.NewReader(data))
	return err
}

// CopyFile copies a remote file, preserving its mode.
func (ch *Channel) CopyFile(ctx context.Context, src, dst string) error {
	_, err := ch.Run(ctx, fmt.Sprintf("cp -p -- %s %s", shellQuote(src), shellQuote(dst)), nil)
	return err
}

// Close closes the connection.
func (ch *Channel) Close() error {
	return ch.client.Close()
}

// shellQuote single-quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellJoin quotes every argument.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// NewTransportDialer returns the secrets dialer: local environments and
// environments without a host use the local filesystem, everything else
// goes over SSH.
func NewTransportDialer(rc config.RemoteConfig, redactor *Redactor, logger *slog.Logger) secrets.Dialer {
	return func(ctx context.Context, env config.EnvironmentConfig) (secrets.Transport, error) {
		if env.Kind == config.EnvLocal || env.Host == "" {
			return secrets.LocalTransport{}, nil
		}
		ch, err := DialSSH(ctx, SSHConfigFor(env, rc), redactor, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}
