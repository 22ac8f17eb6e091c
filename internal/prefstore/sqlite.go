// Package prefstore persists the preference snapshot between sessions.
// Conversation and message data stay server-authoritative; only the small
// hydrate snapshot is stored.
package prefstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/confscout/chatsync/internal/hydrate"
)

// SQLiteStore stores the snapshot in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and migrates) the store at the given DSN.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const snapshotKey = "preferences"

// Save persists the snapshot, replacing any previous one.
func (s *SQLiteStore) Save(ctx context.Context, snap hydrate.Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		snapshotKey, string(value))
	return err
}

// Load returns the persisted snapshot, or nil when none exists.
func (s *SQLiteStore) Load(ctx context.Context) (*hydrate.Snapshot, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM snapshots WHERE key = ?`, snapshotKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap hydrate.Snapshot
	if err := json.Unmarshal([]byte(value), &snap); err != nil {
		// A corrupt snapshot is equivalent to no snapshot.
		return nil, nil
	}
	return &snap, nil
}
