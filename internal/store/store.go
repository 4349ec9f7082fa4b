// Package store persists chain status to SQLite so the fire-and-forget
// trigger endpoint has an observable result: callers poll a job id instead of
// reading logs. Uses the pure-Go modernc driver.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"quizagent/internal/runner"
)

// ErrNotFound is returned when a chain id is unknown.
var ErrNotFound = errors.New("chain not found")

// ChainRecord is the persisted view of one chain.
type ChainRecord struct {
	ID         string    `json:"id"`
	StartURL   string    `json:"start_url"`
	CurrentURL string    `json:"current_url,omitempty"`
	Status     string    `json:"status"`
	Steps      int       `json:"steps"`
	LastResult string    `json:"last_result,omitempty"` // JSON verdict
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS chains (
	id          TEXT PRIMARY KEY,
	start_url   TEXT NOT NULL,
	current_url TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	steps       INTEGER NOT NULL DEFAULT 0,
	last_result TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chains_status ON chains(status);
`

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path. ":memory:" works for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids busy errors
	// from concurrent chains.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts a chain state snapshot. Implements runner.Recorder.
func (s *Store) Record(ctx context.Context, state runner.ChainState) error {
	lastResult := ""
	if state.LastResult != nil {
		if data, err := json.Marshal(state.LastResult); err == nil {
			lastResult = string(data)
		}
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chains (id, start_url, current_url, status, steps, last_result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_url = excluded.current_url,
			status      = excluded.status,
			steps       = excluded.steps,
			last_result = excluded.last_result,
			error       = excluded.error,
			updated_at  = excluded.updated_at`,
		state.ID, state.CurrentURL, state.CurrentURL, string(state.Status),
		state.Steps, lastResult, state.Err, now, now)
	if err != nil {
		return fmt.Errorf("record chain %s: %w", state.ID, err)
	}
	return nil
}

// Get returns the record for id.
func (s *Store) Get(ctx context.Context, id string) (*ChainRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, start_url, current_url, status, steps, last_result, error, created_at, updated_at
		FROM chains WHERE id = ?`, id)

	var rec ChainRecord
	err := row.Scan(&rec.ID, &rec.StartURL, &rec.CurrentURL, &rec.Status,
		&rec.Steps, &rec.LastResult, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chain %s: %w", id, err)
	}
	return &rec, nil
}

// List returns the most recent chains, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]ChainRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_url, current_url, status, steps, last_result, error, created_at, updated_at
		FROM chains ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var out []ChainRecord
	for rows.Next() {
		var rec ChainRecord
		if err := rows.Scan(&rec.ID, &rec.StartURL, &rec.CurrentURL, &rec.Status,
			&rec.Steps, &rec.LastResult, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
