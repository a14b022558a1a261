// Package state provides versioned persistence of per-session state
// snapshots with optimistic concurrency.
//
// The store is the sole arbiter of session mutation: every save carries
// the version the writer loaded, and a stale writer observes
// ErrVersionConflict and must reload and retry. Writes are atomic per
// call; after a crash the stored state is either the pre-call or the
// post-call value, never partial.
package state

import (
	"context"
	"errors"

	"github.com/skalene/maestro/pkg/models"
)

// Store errors.
var (
	// ErrNotFound indicates no state exists for the session id.
	ErrNotFound = errors.New("session state not found")

	// ErrVersionConflict indicates the stored version did not match the
	// expected version. Retryable: reload, reconcile, save again.
	ErrVersionConflict = errors.New("state version conflict")
)

// Store is the interface for session state persistence.
type Store interface {
	// Save atomically replaces the stored state if the stored version
	// equals expectedVersion, returning the new version
	// (expectedVersion + 1). A new session saves with expectedVersion 0.
	Save(ctx context.Context, sessionID string, state *models.SessionState, expectedVersion int64) (int64, error)

	// Load returns the latest state and its version.
	// Returns ErrNotFound if the session has never been saved.
	Load(ctx context.Context, sessionID string) (*models.SessionState, int64, error)

	// Delete removes the session state. Idempotent.
	Delete(ctx context.Context, sessionID string) error

	// List enumerates all stored session ids.
	List(ctx context.Context) ([]string, error)
}
