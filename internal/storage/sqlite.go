package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the trace history database at
// path and ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := RequireLocal(path); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_log (
  id            TEXT PRIMARY KEY,
  geometry_file TEXT NOT NULL,
  setup         JSON NOT NULL,
  started_at    TEXT NOT NULL,
  closed_at     TEXT,
  exit_code     INTEGER,
  final_output  TEXT
);`,
		`CREATE TABLE IF NOT EXISTS trace_log (
  id           TEXT PRIMARY KEY,
  session_id   TEXT NOT NULL REFERENCES session_log(id),
  geometry     TEXT NOT NULL,
  memspace     TEXT,
  width        INTEGER NOT NULL,
  height       INTEGER NOT NULL,
  pixel_width  REAL NOT NULL,
  units        TEXT NOT NULL,
  sizeof_int   INTEGER NOT NULL,
  output       JSON NOT NULL,
  image_digest TEXT NOT NULL,
  image        BLOB NOT NULL,
  duration_ms  INTEGER NOT NULL,
  created_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS trace_log_session_created_at_idx ON trace_log(session_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS trace_log_created_at_idx ON trace_log(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
