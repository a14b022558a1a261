package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

// Runner emits periodic heartbeats for a session while its loop runs.
type Runner struct {
	store    Store
	interval time.Duration
}

// NewRunner creates a heartbeat runner. interval defaults to half the
// default TTL so a healthy loop never reads as stale.
func NewRunner(store Store, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultTTL / 2
	}
	return &Runner{store: store, interval: interval}
}

// Start begins beating for sessionID until the returned stop function
// is called or ctx is cancelled. An immediate first beat marks the
// session alive before the first tick.
func (r *Runner) Start(ctx context.Context, sessionID string) (stop func()) {
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		if err := r.store.Beat(runCtx, sessionID, ""); err != nil {
			slog.Warn("heartbeat failed", "session_id", sessionID, "error", err)
		}
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.store.Beat(runCtx, sessionID, ""); err != nil {
					slog.Warn("heartbeat failed", "session_id", sessionID, "error", err)
				}
			}
		}
	}()
	return cancel
}
