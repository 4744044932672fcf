// Package persist stores session snapshots and named presets in SQLite.
package persist

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"ctxpilot/internal/logging"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Store is a SQLite-backed persistence collaborator. It is safe for
// concurrent use.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	entropy *ulid.MonotonicEntropy
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryPersist, "Open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Persist("opened %s (schema v%d)", path, CurrentSchemaVersion)
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := UserVersion(db)
	if err != nil {
		return err
	}

	// 0 -> 1: snapshots
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
		  id         TEXT PRIMARY KEY,
		  session_id TEXT NOT NULL,
		  workspace  TEXT NOT NULL,
		  label      TEXT,
		  state      BLOB NOT NULL,
		  bytes      INTEGER NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_workspace_created
		ON snapshots(workspace, created_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := setUserVersion(db, 1); err != nil {
			return err
		}
	}

	// 1 -> 2: presets saved by name
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS presets (
		  name       TEXT PRIMARY KEY,
		  modules    TEXT NOT NULL,
		  tools      TEXT,
		  updated_at INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := setUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// UserVersion returns the current schema version (user_version pragma).
func UserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
