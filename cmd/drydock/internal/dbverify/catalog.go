// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dbverify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Catalog lists and creates databases.
type Catalog interface {
	ListDatabases(ctx context.Context) ([]string, error)
	CreateDatabase(ctx context.Context, name string) error
}

// PGCatalog talks to the postgres admin database. It opens a fresh
// connection per call because the server has usually just started.
type PGCatalog struct {
	dsn            string
	connectTimeout time.Duration
}

// NewPGCatalog creates a catalog for dsn.
func NewPGCatalog(dsn string, connectTimeout time.Duration) *PGCatalog {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &PGCatalog{dsn: dsn, connectTimeout: connectTimeout}
}

func (c *PGCatalog) connect(ctx context.Context) (*pgx.Conn, error) {
	connCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	conn, err := pgx.Connect(connCtx, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return conn, nil
}

// ListDatabases returns every non-template database.
func (c *PGCatalog) ListDatabases(ctx context.Context) ([]string, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, "SELECT datname FROM pg_database WHERE NOT datistemplate ORDER BY datname")
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return names, nil
}

// CreateDatabase issues CREATE DATABASE with a quoted identifier.
func (c *PGCatalog) CreateDatabase(ctx context.Context, name string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

var _ Catalog = (*PGCatalog)(nil)
