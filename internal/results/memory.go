package results

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore provides an in-memory Store implementation for testing
// and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	payloads map[string][]byte // key: sessionID + "/" + handle
}

// NewMemoryStore creates a new in-memory tool-result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payloads: map[string][]byte{}}
}

func key(sessionID, handle string) string {
	return sessionID + "/" + handle
}

func (m *MemoryStore) Put(ctx context.Context, sessionID string, payload []byte) (string, error) {
	handle := HandleFor(payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[key(sessionID, handle)] = append([]byte(nil), payload...)
	return handle, nil
}

func (m *MemoryStore) Fetch(ctx context.Context, sessionID string, handle string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.payloads[key(sessionID, handle)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", handle, ErrHandleNotFound)
	}
	return append([]byte(nil), payload...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, key(sessionID, handle))
	return nil
}
