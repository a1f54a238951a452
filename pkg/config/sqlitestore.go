package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const bindingsSchema = `
CREATE TABLE IF NOT EXISTS bindings (
    profile     TEXT NOT NULL,
    selector    TEXT NOT NULL,
    macro_id    TEXT NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (profile, selector)
);

CREATE TABLE IF NOT EXISTS profiles (
    profile     TEXT PRIMARY KEY,
    updated_at  INTEGER NOT NULL
);
`

// SQLiteBindingStore keeps bindings in a SQLite database
type SQLiteBindingStore struct {
	db *sql.DB
}

// OpenSQLiteBindingStore opens or creates the database at path
func OpenSQLiteBindingStore(path string) (*SQLiteBindingStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(bindingsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteBindingStore{db: db}, nil
}

// Load implements BindingStore
func (s *SQLiteBindingStore) Load(profile string) (Bindings, error) {
	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT selector, macro_id FROM bindings WHERE profile = ?`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings: %w", err)
	}
	defer rows.Close()

	b := Bindings{}
	for rows.Next() {
		var sel, id string
		if err := rows.Scan(&sel, &id); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		b[sel] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bindings: %w", err)
	}
	return b, nil
}

// Save implements BindingStore
func (s *SQLiteBindingStore) Save(profile string, b Bindings) error {
	if err := validateProfile(profile); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()

	if _, err := tx.Exec(`DELETE FROM bindings WHERE profile = ?`, profile); err != nil {
		return fmt.Errorf("failed to clear bindings: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO bindings (profile, selector, macro_id, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for sel, id := range b {
		if id == "" {
			continue
		}
		if _, err := stmt.Exec(profile, sel, id, now); err != nil {
			return fmt.Errorf("failed to insert binding %s: %w", sel, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO profiles (profile, updated_at) VALUES (?, ?)
		ON CONFLICT(profile) DO UPDATE SET updated_at = excluded.updated_at`, profile, now); err != nil {
		return fmt.Errorf("failed to record profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bindings: %w", err)
	}
	return nil
}

// Profiles implements BindingStore
func (s *SQLiteBindingStore) Profiles() ([]string, error) {
	rows, err := s.db.Query(`SELECT profile FROM profiles ORDER BY profile`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete implements BindingStore
func (s *SQLiteBindingStore) Delete(profile string) error {
	if err := validateProfile(profile); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM profiles WHERE profile = ?`, profile)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, profile)
	}
	if _, err := tx.Exec(`DELETE FROM bindings WHERE profile = ?`, profile); err != nil {
		return fmt.Errorf("failed to delete bindings: %w", err)
	}

	return tx.Commit()
}

// Close implements BindingStore
func (s *SQLiteBindingStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
