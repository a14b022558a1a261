// Package workflow provides the resumable workflow runtime: durable
// wait-gate checkpoints and the resume protocol around them.
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skalene/maestro/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store errors.
var (
	// ErrCheckpointNotFound indicates no checkpoint exists for the run id.
	ErrCheckpointNotFound = errors.New("workflow checkpoint not found")
)

// Store persists workflow checkpoints, one record per run id.
type Store interface {
	// Save upserts the checkpoint for its run id.
	Save(ctx context.Context, cp *models.WorkflowCheckpoint) error

	// Get returns the checkpoint for the run id.
	Get(ctx context.Context, runID string) (*models.WorkflowCheckpoint, error)

	// Delete removes the checkpoint. Idempotent.
	Delete(ctx context.Context, runID string) error

	// List returns all checkpoints, most recently updated first.
	List(ctx context.Context) ([]*models.WorkflowCheckpoint, error)
}

// MemoryStore is the in-process checkpoint store.
type MemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string]*models.WorkflowCheckpoint
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: map[string]*models.WorkflowCheckpoint{}}
}

func (s *MemoryStore) Save(ctx context.Context, cp *models.WorkflowCheckpoint) error {
	if cp == nil || cp.RunID == "" {
		return fmt.Errorf("checkpoint with run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cp
	clone.UpdatedAt = time.Now()
	s.checkpoints[cp.RunID] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) (*models.WorkflowCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrCheckpointNotFound)
	}
	clone := *cp
	return &clone, nil
}

func (s *MemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.WorkflowCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.WorkflowCheckpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		clone := *cp
		out = append(out, &clone)
	}
	sortByUpdated(out)
	return out, nil
}

func sortByUpdated(cps []*models.WorkflowCheckpoint) {
	for i := 1; i < len(cps); i++ {
		for j := i; j > 0 && cps[j].UpdatedAt.After(cps[j-1].UpdatedAt); j-- {
			cps[j], cps[j-1] = cps[j-1], cps[j]
		}
	}
}

// SQLiteStore persists checkpoints in a SQLite database.
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
		return nil, fmt.Errorf("open workflow database: %w", err)
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
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			run_id TEXT PRIMARY KEY,
			checkpoint TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create workflow_checkpoints table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, cp *models.WorkflowCheckpoint) error {
	if cp == nil || cp.RunID == "" {
		return fmt.Errorf("checkpoint with run id is required")
	}
	clone := *cp
	clone.UpdatedAt = time.Now()

	blob, err := json.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (run_id, checkpoint, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			checkpoint = excluded.checkpoint,
			updated_at = excluded.updated_at
	`, clone.RunID, string(blob), clone.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, runID string) (*models.WorkflowCheckpoint, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint FROM workflow_checkpoints WHERE run_id = ?`, runID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var cp models.WorkflowCheckpoint
	if err := json.Unmarshal([]byte(blob), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*models.WorkflowCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT checkpoint FROM workflow_checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowCheckpoint
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var cp models.WorkflowCheckpoint
		if err := json.Unmarshal([]byte(blob), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}
