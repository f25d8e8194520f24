// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package smoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/health"
)

// maxBodyBytes bounds how much of an HTTP response is searched for
// ExpectBody.
const maxBodyBytes = 1 << 20

// Target is what one check or probe talks to.
type Target struct {
	Kind         config.CheckKind
	Address      string
	ExpectStatus int
	ExpectBody   string
}

// Checker performs one bounded probe. ctx carries the deadline.
type Checker interface {
	Check(ctx context.Context, t Target) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, t Target) error

func (f CheckerFunc) Check(ctx context.Context, t Target) error { return f(ctx, t) }

// Checkers maps a transport kind to its implementation.
type Checkers map[config.CheckKind]Checker

// DefaultCheckers returns the HTTP, TCP, PostgreSQL and Redis checkers.
func DefaultCheckers(client health.HTTPClient) Checkers {
	if client == nil {
		client = http.DefaultClient
	}
	return Checkers{
		config.CheckHTTP:     &HTTPChecker{Client: client},
		config.CheckTCP:      TCPChecker{},
		config.CheckPostgres: PostgresChecker{},
		config.CheckRedis:    RedisChecker{},
	}
}

// Check dispatches t to the checker for its kind.
func (c Checkers) Check(ctx context.Context, t Target) error {
	chk, ok := c[t.Kind]
	if !ok {
		return fmt.Errorf("no checker for kind %q", t.Kind)
	}
	return chk.Check(ctx, t)
}

// HTTPChecker issues a GET and inspects status and body.
type HTTPChecker struct {
	Client health.HTTPClient
}

func (h *HTTPChecker) Check(ctx context.Context, t Target) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Address, nil)
	if err != nil {
		return err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !health.StatusMatches(resp.StatusCode, t.ExpectStatus) {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if t.ExpectBody == "" {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if !strings.Contains(string(body), t.ExpectBody) {
		return fmt.Errorf("response does not contain %q", t.ExpectBody)
	}
	return nil
}

// TCPChecker dials host:port.
type TCPChecker struct{}

func (TCPChecker) Check(ctx context.Context, t Target) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// PostgresChecker connects with a DSN and pings.
type PostgresChecker struct{}

func (PostgresChecker) Check(ctx context.Context, t Target) error {
	conn, err := pgx.Connect(ctx, t.Address)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

// RedisChecker sends PING. Address is a redis:// URL or host:port.
type RedisChecker struct{}

func (RedisChecker) Check(ctx context.Context, t Target) error {
	opts, err := redisOptions(t.Address)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	pong, err := rdb.Ping(ctx).Result()
	if err != nil {
		return err
	}
	if pong != "PONG" {
		return errors.New("unexpected PING reply")
	}
	return nil
}

func redisOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr, MaxRetries: -1}, nil
}
