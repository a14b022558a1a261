// Package heartbeat provides per-session liveness tracking. Running
// loops emit heartbeats at step boundaries; stale entries indicate a
// crashed session that is a candidate for recovery.
//
// The store is append-most: writers never delete entries; cleanup is
// left to an external janitor.
package heartbeat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is the liveness window after which a record is stale.
const DefaultTTL = 60 * time.Second

// Record is one session's latest liveness report.
type Record struct {
	SessionID string    `json:"session_id"`
	BeatAt    time.Time `json:"beat_at"`
	Liveness  string    `json:"liveness,omitempty"`
	// Progress is an optional coarse progress marker (e.g. "step 12").
	Progress string `json:"progress,omitempty"`
}

// IsStale reports whether the record is older than ttl.
func (r *Record) IsStale(ttl time.Duration) bool {
	return time.Since(r.BeatAt) > ttl
}

// Store is the interface for heartbeat persistence.
type Store interface {
	// Beat records liveness for a session with an optional progress marker.
	Beat(ctx context.Context, sessionID string, progress string) error

	// Get returns the latest record for a session, or nil if none exists.
	Get(ctx context.Context, sessionID string) (*Record, error)

	// ListStale returns records older than ttl, oldest first.
	ListStale(ctx context.Context, ttl time.Duration) ([]*Record, error)
}

// MemoryStore provides an in-memory Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory heartbeat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

func (m *MemoryStore) Beat(ctx context.Context, sessionID string, progress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[sessionID] = &Record{
		SessionID: sessionID,
		BeatAt:    time.Now(),
		Liveness:  "alive",
		Progress:  progress,
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (m *MemoryStore) ListStale(ctx context.Context, ttl time.Duration) ([]*Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*Record
	for _, rec := range m.records {
		if rec.IsStale(ttl) {
			clone := *rec
			stale = append(stale, &clone)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].BeatAt.Before(stale[j].BeatAt) })
	return stale, nil
}
