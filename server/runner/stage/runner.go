// Package stage drives processing sessions through their declared pipeline
// steps. Steps of one session run strictly sequentially; sessions run
// independently and concurrently up to a configured cap.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cfipros/acstracker/server/internal/observability"
	"github.com/cfipros/acstracker/store"
)

const (
	// ReasonCancelled is recorded when a session is cancelled by its owner.
	ReasonCancelled = "Cancelled"
	// ReasonTimeout is recorded when a step exceeds its maximum duration.
	ReasonTimeout = "Timeout"
)

// errSessionTerminal stops the step loop when a concurrent transition,
// such as a cancellation, already finalized the session.
var errSessionTerminal = errors.New("session already terminal")

// SessionStore is the subset of store behavior the runner needs.
// All session state flows through MutateSession; the runner never mutates
// a cached copy directly.
type SessionStore interface {
	GetSession(ctx context.Context, find *store.FindSession) (*store.Session, error)
	MutateSession(ctx context.Context, uid string, fn func(*store.Session) error) (*store.Session, error)
}

// Execution carries the inputs and the accumulating summary for one run.
// Step functions fill their own fragment of Result; the runner persists a
// snapshot after every completed step so partial results stay visible.
type Execution struct {
	SessionUID string
	OwnerID    string
	InputRefs  []string
	Result     *store.SessionResult
}

// StepFunc performs the work of one step. The returned message becomes the
// step's progress description. A StepFunc must observe ctx cancellation at
// its suspension points.
type StepFunc func(ctx context.Context, exec *Execution) (string, error)

// Options configures a Runner.
type Options struct {
	// MaxConcurrentSessions caps sessions processed at once. Queued
	// sessions wait without blocking their submit call.
	MaxConcurrentSessions int64
	// StepTimeout is the maximum duration of a single step.
	StepTimeout time.Duration
}

// Runner drives sessions through their ledger, one step at a time.
type Runner struct {
	store       SessionStore
	registry    map[string]StepFunc
	stepTimeout time.Duration
	sem         *semaphore.Weighted
	metrics     *observability.Metrics

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewRunner creates a stage runner over the given store and step registry.
func NewRunner(sessionStore SessionStore, registry map[string]StepFunc, opts Options) *Runner {
	if opts.MaxConcurrentSessions <= 0 {
		opts.MaxConcurrentSessions = 8
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	return &Runner{
		store:       sessionStore,
		registry:    registry,
		stepTimeout: opts.StepTimeout,
		sem:         semaphore.NewWeighted(opts.MaxConcurrentSessions),
		metrics:     observability.GlobalMetrics(),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Start schedules asynchronous processing of the session and returns
// immediately, before any step executes.
func (r *Runner) Start(uid string) {
	sessionCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancels[uid] = cancel
	r.mu.Unlock()

	r.metrics.RecordSession()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, uid)
			r.mu.Unlock()
			cancel()
		}()

		if err := r.sem.Acquire(sessionCtx, 1); err != nil {
			// Cancelled while queued.
			r.failSession(uid, "", ReasonCancelled)
			r.metrics.RecordSessionCancel()
			return
		}
		defer r.sem.Release(1)

		r.process(sessionCtx, uid)
	}()
}

// Cancel transitions a pending or running session to failed with reason
// Cancelled. Already-completed steps remain recorded. Returns false when the
// session is already terminal.
func (r *Runner) Cancel(ctx context.Context, uid string) (bool, error) {
	cancelled := false
	_, err := r.store.MutateSession(ctx, uid, func(s *store.Session) error {
		if s.Status.IsTerminal() {
			return nil
		}
		if name, ok := s.Ledger.Running(); ok {
			ledger, err := s.Ledger.Fail(name, ReasonCancelled)
			if err != nil {
				return err
			}
			s.Ledger = ledger
		}
		s.Status = store.SessionStatusFailed
		s.FailureReason = ReasonCancelled
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}

	// Stop the in-flight goroutine, if any. The work function observes the
	// cancellation at its next suspension point.
	r.mu.Lock()
	cancel, ok := r.cancels[uid]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	if cancelled {
		r.metrics.RecordSessionCancel()
	}
	return cancelled, nil
}

// Shutdown waits for in-flight sessions to finish or ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) process(ctx context.Context, uid string) {
	session, err := r.store.MutateSession(ctx, uid, func(s *store.Session) error {
		if s.Status != store.SessionStatusPending {
			return fmt.Errorf("session %s is %s, want pending", uid, s.Status)
		}
		s.Status = store.SessionStatusRunning
		return nil
	})
	if err != nil {
		slog.Warn("session not started", "session_id", uid, "error", err)
		return
	}

	exec := &Execution{
		SessionUID: uid,
		OwnerID:    session.CreatorID,
		InputRefs:  session.InputRefs,
		Result:     &store.SessionResult{},
	}

	for _, name := range session.Ledger.StepNames() {
		if err := r.runStep(ctx, uid, name, exec); err != nil {
			return
		}
	}

	if _, err := r.store.MutateSession(ctx, uid, func(s *store.Session) error {
		if s.Status.IsTerminal() {
			return errSessionTerminal
		}
		s.Status = store.SessionStatusCompleted
		s.Result = exec.Result
		return nil
	}); err != nil {
		if errors.Is(err, errSessionTerminal) {
			slog.Info("session finalized concurrently, keeping terminal status", "session_id", uid)
			return
		}
		slog.Error("failed to finalize session", "session_id", uid, "error", err)
	}
}

// runStep advances, executes and completes (or fails) one step. A non-nil
// return stops the session.
func (r *Runner) runStep(ctx context.Context, uid string, name string, exec *Execution) error {
	if _, err := r.store.MutateSession(ctx, uid, func(s *store.Session) error {
		// A cancellation between two steps leaves the session failed with
		// every remaining step still pending; it must not be driven further.
		if s.Status.IsTerminal() {
			return errSessionTerminal
		}
		ledger, err := s.Ledger.Advance(name, fmt.Sprintf("running %s", name))
		if err != nil {
			return err
		}
		s.Ledger = ledger
		return nil
	}); err != nil {
		slog.Warn("step not advanced", "session_id", uid, "step", name, "error", err)
		return err
	}

	started := time.Now()
	message, err := r.executeStep(ctx, name, exec)
	r.metrics.RecordStep(name, time.Since(started))

	if err != nil {
		reason := err.Error()
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			reason = ReasonCancelled
		case errors.Is(err, context.DeadlineExceeded):
			reason = ReasonTimeout
		}
		r.metrics.RecordStepError(name)
		if reason != ReasonCancelled {
			r.metrics.RecordSessionFailure()
		}
		r.failSession(uid, name, reason)
		return err
	}

	if _, err := r.store.MutateSession(ctx, uid, func(s *store.Session) error {
		if s.Status.IsTerminal() {
			return errSessionTerminal
		}
		ledger, err := s.Ledger.Complete(name, message)
		if err != nil {
			return err
		}
		s.Ledger = ledger
		// Persist the partial summary so status readers see step output
		// even if a later step fails.
		s.Result = exec.Result
		return nil
	}); err != nil {
		if errors.Is(err, errSessionTerminal) {
			slog.Warn("step completion discarded, session already terminal", "session_id", uid, "step", name)
		} else {
			slog.Error("failed to persist step completion", "session_id", uid, "step", name, "error", err)
		}
		return err
	}
	return nil
}

// executeStep runs the step's work function with a per-step timeout and
// panic isolation: a panicking work function fails its session but never
// crashes the runner or affects other sessions.
func (r *Runner) executeStep(ctx context.Context, name string, exec *Execution) (message string, err error) {
	fn, ok := r.registry[name]
	if !ok {
		return "", fmt.Errorf("no handler registered for step %s", name)
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step %s panicked: %v", name, rec)
		}
	}()
	return fn(stepCtx, exec)
}

// failSession records the failure in both the ledger and the session status.
// Failing an already-failed session is a no-op.
func (r *Runner) failSession(uid string, step string, reason string) {
	// Cancellation of the session context must not block persistence.
	ctx := context.Background()
	if _, err := r.store.MutateSession(ctx, uid, func(s *store.Session) error {
		if s.Status.IsTerminal() {
			return nil
		}
		if step != "" {
			ledger, err := s.Ledger.Fail(step, reason)
			if err != nil {
				return err
			}
			s.Ledger = ledger
		}
		s.Status = store.SessionStatusFailed
		s.FailureReason = reason
		return nil
	}); err != nil {
		slog.Error("failed to persist session failure", "session_id", uid, "step", step, "error", err)
	}
}
