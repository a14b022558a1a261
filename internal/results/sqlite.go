package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists tool results in a SQLite database, one row per
// (session_id, handle).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and prepares
// the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results database: %w", err)
	}
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
		CREATE TABLE IF NOT EXISTS tool_results (
			session_id TEXT NOT NULL,
			handle TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, handle)
		)
	`)
	if err != nil {
		return fmt.Errorf("create tool_results table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, sessionID string, payload []byte) (string, error) {
	handle := HandleFor(payload)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_results (session_id, handle, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, handle) DO NOTHING
	`, sessionID, handle, payload)
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return handle, nil
}

func (s *SQLiteStore) Fetch(ctx context.Context, sessionID string, handle string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM tool_results WHERE session_id = ? AND handle = ?`,
		sessionID, handle,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", handle, ErrHandleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	return payload, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string, handle string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_results WHERE session_id = ? AND handle = ?`,
		sessionID, handle)
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	return nil
}
