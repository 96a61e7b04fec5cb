package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockReaper struct {
	calls   atomic.Int64
	deleted int64
	ttl     time.Duration
	grace   time.Duration
}

func (m *mockReaper) DeleteExpiredSessions(_ context.Context, ttl, grace time.Duration) (int64, error) {
	m.calls.Add(1)
	m.ttl = ttl
	m.grace = grace
	return m.deleted, nil
}

func TestRunOnce(t *testing.T) {
	reaper := &mockReaper{deleted: 3}
	runner := NewRunner(reaper, time.Minute, time.Hour, time.Minute)

	runner.RunOnce(context.Background())

	assert.Equal(t, int64(1), reaper.calls.Load())
	assert.Equal(t, time.Hour, reaper.ttl)
	assert.Equal(t, time.Minute, reaper.grace)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reaper := &mockReaper{}
	runner := NewRunner(reaper, 10*time.Millisecond, time.Hour, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	// Let a few ticks happen, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}
	assert.Greater(t, reaper.calls.Load(), int64(0))
}

func TestDefaults(t *testing.T) {
	runner := NewRunner(&mockReaper{}, 0, 0, 0)
	assert.Equal(t, 5*time.Minute, runner.interval)
	assert.Equal(t, 24*time.Hour, runner.ttl)
	assert.Equal(t, 10*time.Minute, runner.grace)
}
