package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgMaxOpenConns    = 10
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 30 * time.Minute
	pgPingTimeout     = 2 * time.Second
)

const createRunsTablePostgres = `
CREATE TABLE IF NOT EXISTS runs (
    id                 TEXT PRIMARY KEY,
    state              TEXT NOT NULL,
    provider_type      TEXT NOT NULL,
    external_handle    TEXT NOT NULL DEFAULT '',
    spec               TEXT NOT NULL,
    outputs            TEXT,
    error_message      TEXT NOT NULL DEFAULT '',
    submit_attempts    INTEGER NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL,
    start_time         TIMESTAMPTZ,
    end_time           TIMESTAMPTZ,
    last_reconciled_at TIMESTAMPTZ,
    next_attempt_at    TIMESTAMPTZ
)`

const createTasksTablePostgres = `
CREATE TABLE IF NOT EXISTS tasks (
    run_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    id         TEXT NOT NULL,
    name       TEXT NOT NULL,
    cmd        TEXT,
    start_time TIMESTAMPTZ,
    end_time   TIMESTAMPTZ,
    exit_code  INTEGER,
    stdout     TEXT,
    stderr     TEXT,
    PRIMARY KEY (run_id, seq)
)`

const createRunsStateIndexPostgres = `CREATE INDEX IF NOT EXISTS idx_runs_state ON runs (state)`

// Compile-time interface satisfaction check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store using PostgreSQL via the pgx stdlib driver.
type PostgresStore struct {
	runStore
}

// NewPostgresStore connects to the database at dsn, verifies the connection,
// and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pgPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	for _, stmt := range []string{createRunsTablePostgres, createTasksTablePostgres, createRunsStateIndexPostgres} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return &PostgresStore{runStore{
		db:       db,
		bind:     rebindPostgres,
		runLocks: newRunLocks(),
	}}, nil
}

// rebindPostgres rewrites ? placeholders into the $1, $2, ... form pgx expects.
func rebindPostgres(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
