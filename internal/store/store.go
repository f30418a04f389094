// Package store implements the §6 database: a single SQLite-compatible file
// (via the pure-Go modernc.org/sqlite driver) holding the settings, history
// and auth_tokens tables. Per spec.md §5, the database is accessed through a
// single-writer queue; readers may snapshot freely since database/sql's
// connection pool already serializes writes against one file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the on-disk SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite does not support concurrent writers; cap the pool to one
	// connection so the single-writer-queue guarantee actually holds.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithDB wraps an already-open *sql.DB (e.g. go-sqlmock's sql.DB in
// tests) without running migrations, so callers control exactly which
// statements the mock expects.
func OpenWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			name TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			saved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			provider TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			expires_at DATETIME
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// GetSetting returns the raw string value for key, or ("", false, nil) if
// unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts key=value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set setting %s: %w", key, err)
	}
	return nil
}

// SaveHistory persists a named conversation snapshot for later /load.
func (s *Store) SaveHistory(ctx context.Context, name, conversationID string, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history(name, conversation_id, snapshot) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET conversation_id = excluded.conversation_id, snapshot = excluded.snapshot, saved_at = CURRENT_TIMESTAMP`,
		name, conversationID, string(payload))
	if err != nil {
		return fmt.Errorf("store: save history %s: %w", name, err)
	}
	return nil
}

// LoadHistory returns the raw JSON snapshot saved under name.
func (s *Store) LoadHistory(ctx context.Context, name string) (json.RawMessage, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM history WHERE name = ?`, name).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: no saved history named %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load history %s: %w", name, err)
	}
	return json.RawMessage(snapshot), nil
}

// SetAuthToken upserts a provider's credential.
func (s *Store) SetAuthToken(ctx context.Context, provider, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_tokens(provider, token) VALUES (?, ?)
		 ON CONFLICT(provider) DO UPDATE SET token = excluded.token`, provider, token)
	if err != nil {
		return fmt.Errorf("store: set auth token for %s: %w", provider, err)
	}
	return nil
}

// GetAuthToken returns the stored credential for provider, if any.
func (s *Store) GetAuthToken(ctx context.Context, provider string) (string, bool, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM auth_tokens WHERE provider = ?`, provider).Scan(&token)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get auth token for %s: %w", provider, err)
	}
	return token, true, nil
}

// DeleteAuthToken removes a provider's stored credential (logout).
func (s *Store) DeleteAuthToken(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("store: delete auth token for %s: %w", provider, err)
	}
	return nil
}
