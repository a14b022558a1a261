// Package checkpoint provides coarse-grained resumable markers saved at
// step boundaries of long-running sessions.
package checkpoint

import (
	"context"
	"sync"
	"time"
)

// Checkpoint is one resumable marker for a session.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Step      int       `json:"step"`
	Phase     string    `json:"phase,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the interface for checkpoint persistence.
type Store interface {
	// Save appends a checkpoint for the session.
	Save(ctx context.Context, sessionID string, cp *Checkpoint) error

	// Latest returns the most recent checkpoint, or nil if none exists.
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)

	// List returns all checkpoints for the session in save order.
	List(ctx context.Context, sessionID string) ([]*Checkpoint, error)
}

// MemoryStore provides an in-memory Store implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]*Checkpoint
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: map[string][]*Checkpoint{}}
}

func (m *MemoryStore) Save(ctx context.Context, sessionID string, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *cp
	clone.SessionID = sessionID
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	m.checkpoints[sessionID] = append(m.checkpoints[sessionID], &clone)
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[sessionID]
	if len(list) == 0 {
		return nil, nil
	}
	clone := *list[len(list)-1]
	return &clone, nil
}

func (m *MemoryStore) List(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[sessionID]
	out := make([]*Checkpoint, len(list))
	for i, cp := range list {
		clone := *cp
		out[i] = &clone
	}
	return out, nil
}
