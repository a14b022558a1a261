package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing
// and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	states   map[string]*models.SessionState
	versions map[string]int64
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   map[string]*models.SessionState{},
		versions: map[string]int64{},
	}
}

func (m *MemoryStore) Save(ctx context.Context, sessionID string, st *models.SessionState, expectedVersion int64) (int64, error) {
	if st == nil {
		return 0, fmt.Errorf("state is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.versions[sessionID]
	if current != expectedVersion {
		return 0, fmt.Errorf("session %s: have %d, expected %d: %w",
			sessionID, current, expectedVersion, ErrVersionConflict)
	}

	clone := st.Clone()
	clone.SessionID = sessionID
	clone.UpdatedAt = time.Now()
	next := expectedVersion + 1
	m.states[sessionID] = clone
	m.versions[sessionID] = next
	return next, nil
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*models.SessionState, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return nil, 0, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return st.Clone(), m.versions[sessionID], nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	delete(m.versions, sessionID)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
