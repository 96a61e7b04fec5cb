// Package sweeper reclaims expired sessions in the background so the
// session store does not grow unbounded.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// SessionReaper is the subset of store behavior the sweeper needs.
type SessionReaper interface {
	DeleteExpiredSessions(ctx context.Context, ttl time.Duration, grace time.Duration) (int64, error)
}

type Runner struct {
	store    SessionReaper
	interval time.Duration
	ttl      time.Duration
	grace    time.Duration
}

// NewRunner creates a session expiry runner. Sessions older than ttl whose
// last mutation is older than grace get reclaimed, so terminal sessions stay
// readable at least grace after finishing.
func NewRunner(store SessionReaper, interval, ttl, grace time.Duration) *Runner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	return &Runner{
		store:    store,
		interval: interval,
		ttl:      ttl,
		grace:    grace,
	}
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		}
	}
}

// RunOnce sweeps once (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) {
	r.sweep(ctx)
}

func (r *Runner) sweep(ctx context.Context) {
	deleted, err := r.store.DeleteExpiredSessions(ctx, r.ttl, r.grace)
	if err != nil {
		slog.Error("failed to delete expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("expired sessions reclaimed", "count", deleted)
	}
}
