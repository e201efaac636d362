package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const createRunsTableSQLite = `
CREATE TABLE IF NOT EXISTS runs (
    id                 TEXT PRIMARY KEY,
    state              TEXT NOT NULL,
    provider_type      TEXT NOT NULL,
    external_handle    TEXT NOT NULL DEFAULT '',
    spec               TEXT NOT NULL,
    outputs            TEXT,
    error_message      TEXT NOT NULL DEFAULT '',
    submit_attempts    INTEGER NOT NULL DEFAULT 0,
    created_at         DATETIME NOT NULL,
    start_time         DATETIME,
    end_time           DATETIME,
    last_reconciled_at DATETIME,
    next_attempt_at    DATETIME
)`

const createTasksTableSQLite = `
CREATE TABLE IF NOT EXISTS tasks (
    run_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    id         TEXT NOT NULL,
    name       TEXT NOT NULL,
    cmd        TEXT,
    start_time DATETIME,
    end_time   DATETIME,
    exit_code  INTEGER,
    stdout     TEXT,
    stderr     TEXT,
    PRIMARY KEY (run_id, seq)
)`

const createRunsStateIndexSQLite = `CREATE INDEX IF NOT EXISTS idx_runs_state ON runs (state)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	runStore
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer connection. SQLite serializes writes anyway, and a single
	// connection keeps ":memory:" databases from splitting per pooled conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRunsTableSQLite, createTasksTableSQLite, createRunsStateIndexSQLite} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return &SQLiteStore{runStore{
		db:       db,
		bind:     func(q string) string { return q },
		runLocks: newRunLocks(),
	}}, nil
}
