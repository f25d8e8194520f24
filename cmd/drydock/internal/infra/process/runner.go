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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// Runner executes external commands.
type Runner interface {
	// Run executes cmd and waits for it. A non-zero exit is returned as a
	// *CommandError together with the populated Result.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory; empty means the current one.
	Dir string

	// Env is appended to the parent environment.
	Env map[string]string

	// Stdin, when set, is streamed into the process.
	Stdin io.Reader

	// Stdout, when set, receives stdout instead of Result.Stdout.
	Stdout io.Writer

	// Timeout bounds the call; zero means only ctx bounds it.
	Timeout time.Duration
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// DefaultRunner runs commands with os/exec.
type DefaultRunner struct {
	logger *slog.Logger
}

// NewDefaultRunner creates a runner that logs each invocation at debug level.
func NewDefaultRunner(logger *slog.Logger) *DefaultRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultRunner{logger: logger}
}

// Run executes cmd.
//
// # Description
//
// Applies the optional timeout, streams Stdin and Stdout when provided and
// captures stderr. Environment values whose key looks sensitive are logged
// as [REDACTED].
//
// # Outputs
//
//   - *Result: Always non-nil once the process was started.
//   - error: *CommandError for non-zero exits and start failures, or the
//     context error wrapped in a *CommandError when the call timed out.
func (r *DefaultRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	r.logCommand(cmd)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), envList(cmd.Env)...)
	}
	c.Stdin = cmd.Stdin

	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, NewCommandError(cmd.String(), -1, res.Stderr, fmt.Errorf("command did not finish: %w", ctxErr))
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, NewCommandError(cmd.String(), res.ExitCode, res.Stderr, err)
	}
	res.ExitCode = -1
	return res, NewCommandError(cmd.String(), -1, res.Stderr, err)
}

func (r *DefaultRunner) logCommand(cmd Command) {
	attrs := []any{"command", cmd.String()}
	if cmd.Dir != "" {
		attrs = append(attrs, "dir", cmd.Dir)
	}
	if len(cmd.Env) > 0 {
		attrs = append(attrs, "env", strings.Join(redactedEnv(cmd.Env), " "))
	}
	r.logger.Debug("executing", attrs...)
}

// IsSensitiveKey reports whether an environment or secret key name suggests
// its value must never be printed.
func IsSensitiveKey(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range []string{"TOKEN", "SECRET", "KEY", "PASSWORD", "CREDENTIAL", "DSN"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

func redactedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		if IsSensitiveKey(k) {
			v = "[REDACTED]"
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

var _ Runner = (*DefaultRunner)(nil)

// MockRunner implements Runner for tests.
type MockRunner struct {
	RunFunc func(ctx context.Context, cmd Command) (*Result, error)

	// Calls records every command in order.
	Calls []Command
}

// Run records the call and delegates to RunFunc.
func (m *MockRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	m.Calls = append(m.Calls, cmd)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, cmd)
	}
	return &Result{}, nil
}

var _ Runner = (*MockRunner)(nil)
