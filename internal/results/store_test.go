package results

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_PutFetch_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("output "), 30000) // ~200KB
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			handle, err := store.Put(ctx, "s1", payload)
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if !strings.HasPrefix(handle, "tr_") {
				t.Errorf("handle = %q, want tr_ prefix", handle)
			}

			got, err := store.Fetch(ctx, "s1", handle)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("fetched payload differs: %d vs %d bytes", len(got), len(payload))
			}
		})
	}
}

func TestStore_Put_ContentAddressed(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h1, err := store.Put(ctx, "s1", []byte("same"))
			if err != nil {
				t.Fatal(err)
			}
			h2, err := store.Put(ctx, "s1", []byte("same"))
			if err != nil {
				t.Fatal(err)
			}
			if h1 != h2 {
				t.Errorf("handles differ for identical payload: %q vs %q", h1, h2)
			}
		})
	}
}

func TestStore_Fetch_MissingHandle(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Fetch(ctx, "s1", "tr_missing"); !errors.Is(err, ErrHandleNotFound) {
				t.Fatalf("fetch error = %v, want ErrHandleNotFound", err)
			}
			// Handles are scoped per session.
			handle, err := store.Put(ctx, "s1", []byte("scoped"))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := store.Fetch(ctx, "other", handle); !errors.Is(err, ErrHandleNotFound) {
				t.Fatalf("cross-session fetch error = %v, want ErrHandleNotFound", err)
			}
		})
	}
}

func TestPreview_Truncation(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := Preview([]byte(long), 500)
	if !strings.HasPrefix(got, strings.Repeat("x", 500)) {
		t.Error("preview missing leading content")
	}
	if !strings.Contains(got, "2000 bytes total") {
		t.Errorf("preview missing size annotation: %q", got[490:])
	}

	short := "short output"
	if Preview([]byte(short), 500) != short {
		t.Error("short payload must pass through unchanged")
	}
}
