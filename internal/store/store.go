// Package store opens the SQLite database that holds edit rules,
// RT corrections and the RDS log, and applies its migrations.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps the shared SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
// Pass ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases alive across calls and
	// serializes writers, which SQLite needs anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// DB returns the underlying handle for the repositories built on it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS edit_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			find_text TEXT NOT NULL,
			find_normalized TEXT NOT NULL,
			replace_with TEXT NOT NULL DEFAULT '',
			position TEXT NOT NULL,
			only_if_not_found INTEGER NOT NULL DEFAULT 0,
			condition_contains TEXT,
			case_sensitive_find INTEGER NOT NULL DEFAULT 0,
			case_sensitive_condition INTEGER NOT NULL DEFAULT 0,
			scope_frequency REAL,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rt_corrections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rt_normalized TEXT NOT NULL,
			rt_original TEXT NOT NULL,
			kind TEXT NOT NULL,
			skip_track_id TEXT,
			skip_artist TEXT,
			skip_title TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rt_corrections_key
			ON rt_corrections(rt_normalized, kind, IFNULL(skip_track_id, ''));`,
		`CREATE TABLE IF NOT EXISTS rds_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			frequency REAL NOT NULL,
			am INTEGER NOT NULL DEFAULT 0,
			pi INTEGER NOT NULL,
			ps TEXT NOT NULL DEFAULT '',
			rt TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rds_log_ts ON rds_log(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_rds_log_pi ON rds_log(pi);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
