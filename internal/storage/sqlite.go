package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is stamped into PRAGMA user_version after bootstrap.
const SchemaVersion = 1

var pragmas = []string{
	"PRAGMA busy_timeout = 5000;",
	"PRAGMA journal_mode = WAL;",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS generation_jobs (
  id               TEXT PRIMARY KEY,
  backend          TEXT NOT NULL,
  status           TEXT NOT NULL,
  error_kind       TEXT,
  last_error       TEXT,
  stderr           TEXT,
  input_ext        TEXT NOT NULL,
  input_bytes      INTEGER NOT NULL DEFAULT 0,
  artifact_digest  TEXT,
  artifact_bytes   INTEGER,
  created_at       TEXT NOT NULL,
  completed_at     TEXT
);`,
	`CREATE INDEX IF NOT EXISTS generation_jobs_created_at_idx ON generation_jobs(created_at);`,
	`CREATE INDEX IF NOT EXISTS generation_jobs_status_idx ON generation_jobs(status);`,
}

// OpenSQLite opens the job database at path, creating its directory and
// tables on first use.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := ValidateLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the job log is low volume.
	db.SetMaxOpenConns(1)

	if err := prepare(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func prepare(ctx context.Context, db *sql.DB) error {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			return fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	return BootstrapSQLite(ctx, db)
}

// BootstrapSQLite creates missing tables and indexes. It is safe to call on
// an already initialized database.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap sqlite: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", SchemaVersion)); err != nil {
		return fmt.Errorf("bootstrap sqlite: stamp version: %w", err)
	}
	return tx.Commit()
}
