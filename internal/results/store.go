// Package results provides content-addressed storage of large tool
// outputs. The store is the only place full large outputs live; message
// history carries at most a preview plus the opaque handle returned by
// Put.
package results

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrHandleNotFound indicates a fetch for a handle that does not exist
// in the session's result set.
var ErrHandleNotFound = errors.New("tool result handle not found")

// DefaultPreviewChars is the number of leading characters included in a
// history preview of a stored result.
const DefaultPreviewChars = 500

// Store is the interface for large tool-result persistence. Concurrent
// writers for distinct handles are tolerated.
type Store interface {
	// Put stores the payload and returns its opaque handle. Handles are
	// stable per (session, payload): storing the same payload twice
	// returns the same handle.
	Put(ctx context.Context, sessionID string, payload []byte) (string, error)

	// Fetch returns the payload for a handle, or ErrHandleNotFound.
	Fetch(ctx context.Context, sessionID string, handle string) ([]byte, error)

	// Delete removes a stored payload. Idempotent.
	Delete(ctx context.Context, sessionID string, handle string) error
}

// HandleFor derives the content-addressed handle for a payload.
func HandleFor(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "tr_" + hex.EncodeToString(sum[:12])
}

// Preview returns the first max characters of payload plus a size
// annotation, without splitting a UTF-8 sequence.
func Preview(payload []byte, max int) string {
	if max <= 0 {
		max = DefaultPreviewChars
	}
	if len(payload) <= max {
		return string(payload)
	}
	cut := payload[:max]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return fmt.Sprintf("%s\n... [truncated: %d bytes total]", cut, len(payload))
}
