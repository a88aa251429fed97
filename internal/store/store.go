// Package store provides the SQLite-backed catalog of model documents and
// the persistent record of simulation runs and their output series.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS models (
	path            TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	checksum        TEXT NOT NULL DEFAULT '',
	valid           INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	compartments    INTEGER NOT NULL DEFAULT 0,
	characteristics INTEGER NOT NULL DEFAULT 0,
	parameters      INTEGER NOT NULL DEFAULT 0,
	transitions     INTEGER NOT NULL DEFAULT 0,
	cascades        INTEGER NOT NULL DEFAULT 0,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	model_path  TEXT NOT NULL,
	scenario    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	start_year  REAL NOT NULL DEFAULT 0,
	end_year    REAL NOT NULL DEFAULT 0,
	dt          REAL NOT NULL DEFAULT 0,
	populations TEXT NOT NULL DEFAULT '[]',
	tvec        TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_series (
	run_id     TEXT NOT NULL,
	population TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	vals       TEXT NOT NULL,
	UNIQUE(run_id, population, kind, name)
);

CREATE INDEX IF NOT EXISTS idx_run_series_run ON run_series(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Series kinds in run_series.
const (
	KindCompartment    = "compartment"
	KindCharacteristic = "characteristic"
	KindParameter      = "parameter"
	KindFlow           = "flow"
)

// DB wraps a sql.DB with catalog and run operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
