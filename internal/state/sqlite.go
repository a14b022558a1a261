package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/skalene/maestro/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists session state in a SQLite database. Version
// checks run inside a transaction so concurrent writers are serialized
// and writes are crash-safe.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and prepares
// the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// Serialized access keeps version checks race-free with the pure-Go
	// driver.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_states (
			session_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			state TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create session_states table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, sessionID string, st *models.SessionState, expectedVersion int64) (int64, error) {
	if st == nil {
		return 0, fmt.Errorf("state is required")
	}
	clone := st.Clone()
	clone.SessionID = sessionID
	clone.UpdatedAt = time.Now()

	blob, err := json.Marshal(clone)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM session_states WHERE session_id = ?`, sessionID,
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, fmt.Errorf("read version: %w", err)
	}

	if current != expectedVersion {
		return 0, fmt.Errorf("session %s: have %d, expected %d: %w",
			sessionID, current, expectedVersion, ErrVersionConflict)
	}

	next := expectedVersion + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_states (session_id, version, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, sessionID, next, string(blob), clone.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("write state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*models.SessionState, int64, error) {
	var (
		version int64
		blob    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, state FROM session_states WHERE session_id = ?`, sessionID,
	).Scan(&version, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load state: %w", err)
	}

	var st models.SessionState
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		return nil, 0, fmt.Errorf("decode state: %w", err)
	}
	return &st, version, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_states WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM session_states ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
