package pipeline

import (
	"time"

	"github.com/pkg/errors"
)

// StepStatus represents the status of a single pipeline step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

var (
	// ErrInvalidPipeline indicates an empty or duplicated step definition.
	ErrInvalidPipeline = errors.New("invalid pipeline definition")
	// ErrOutOfOrderTransition indicates a step was advanced before its predecessors completed.
	ErrOutOfOrderTransition = errors.New("out of order step transition")
	// ErrInvalidTransition indicates a transition from an incompatible step status.
	ErrInvalidTransition = errors.New("invalid step transition")
	// ErrUnknownStep indicates the named step is not part of the pipeline.
	ErrUnknownStep = errors.New("unknown step")
)

// timeNow is overridable in tests.
var timeNow = time.Now

// Step is one named stage within a session's pipeline.
type Step struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Message    string     `json:"message,omitempty"`
	StartedTs  *int64     `json:"startedTs,omitempty"`
	FinishedTs *int64     `json:"finishedTs,omitempty"`
}

// Ledger is the ordered record of a session's step statuses.
// All operations are pure: they return a new ledger value and never mutate
// the receiver, which keeps the transition rules testable without time or
// concurrency concerns.
type Ledger struct {
	Steps []Step `json:"steps"`
}

// NewLedger builds a ledger from an ordered sequence of step names.
func NewLedger(stepNames []string) (Ledger, error) {
	if len(stepNames) == 0 {
		return Ledger{}, errors.Wrap(ErrInvalidPipeline, "no steps defined")
	}
	seen := make(map[string]bool, len(stepNames))
	steps := make([]Step, 0, len(stepNames))
	for _, name := range stepNames {
		if name == "" {
			return Ledger{}, errors.Wrap(ErrInvalidPipeline, "empty step name")
		}
		if seen[name] {
			return Ledger{}, errors.Wrapf(ErrInvalidPipeline, "duplicate step name: %s", name)
		}
		seen[name] = true
		steps = append(steps, Step{Name: name, Status: StepStatusPending})
	}
	return Ledger{Steps: steps}, nil
}

func (l Ledger) clone() Ledger {
	steps := make([]Step, len(l.Steps))
	copy(steps, l.Steps)
	return Ledger{Steps: steps}
}

func (l Ledger) find(name string) int {
	for i := range l.Steps {
		if l.Steps[i].Name == name {
			return i
		}
	}
	return -1
}

// Advance marks the named step running. The step must be pending and every
// preceding step must be completed; at most one step runs at a time.
func (l Ledger) Advance(name string, message string) (Ledger, error) {
	idx := l.find(name)
	if idx < 0 {
		return l, errors.Wrapf(ErrUnknownStep, "step: %s", name)
	}
	if l.Steps[idx].Status != StepStatusPending {
		return l, errors.Wrapf(ErrOutOfOrderTransition, "step %s is %s, want pending", name, l.Steps[idx].Status)
	}
	for i := 0; i < idx; i++ {
		if l.Steps[i].Status != StepStatusCompleted {
			return l, errors.Wrapf(ErrOutOfOrderTransition, "step %s not completed before %s", l.Steps[i].Name, name)
		}
	}
	next := l.clone()
	now := timeNow().Unix()
	next.Steps[idx].Status = StepStatusRunning
	next.Steps[idx].Message = message
	next.Steps[idx].StartedTs = &now
	return next, nil
}

// Complete marks a running step completed.
func (l Ledger) Complete(name string, message string) (Ledger, error) {
	idx := l.find(name)
	if idx < 0 {
		return l, errors.Wrapf(ErrUnknownStep, "step: %s", name)
	}
	if l.Steps[idx].Status != StepStatusRunning {
		return l, errors.Wrapf(ErrInvalidTransition, "step %s is %s, want running", name, l.Steps[idx].Status)
	}
	next := l.clone()
	now := timeNow().Unix()
	next.Steps[idx].Status = StepStatusCompleted
	next.Steps[idx].Message = message
	next.Steps[idx].FinishedTs = &now
	return next, nil
}

// Fail marks a running or pending step failed. Failing an already-failed
// ledger is a no-op, so retries of the failure path stay idempotent.
func (l Ledger) Fail(name string, message string) (Ledger, error) {
	if l.IsFailed() {
		return l, nil
	}
	idx := l.find(name)
	if idx < 0 {
		return l, errors.Wrapf(ErrUnknownStep, "step: %s", name)
	}
	status := l.Steps[idx].Status
	if status != StepStatusRunning && status != StepStatusPending {
		return l, errors.Wrapf(ErrInvalidTransition, "step %s is %s, want running or pending", name, status)
	}
	next := l.clone()
	now := timeNow().Unix()
	next.Steps[idx].Status = StepStatusFailed
	next.Steps[idx].Message = message
	next.Steps[idx].FinishedTs = &now
	return next, nil
}

// IsTerminal reports whether every step is completed or any step is failed.
func (l Ledger) IsTerminal() bool {
	if l.IsFailed() {
		return true
	}
	for i := range l.Steps {
		if l.Steps[i].Status != StepStatusCompleted {
			return false
		}
	}
	return len(l.Steps) > 0
}

// IsFailed reports whether any step has failed.
func (l Ledger) IsFailed() bool {
	for i := range l.Steps {
		if l.Steps[i].Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// Running returns the name of the currently running step, if any.
func (l Ledger) Running() (string, bool) {
	for i := range l.Steps {
		if l.Steps[i].Status == StepStatusRunning {
			return l.Steps[i].Name, true
		}
	}
	return "", false
}

// Progress returns completed steps over total steps as a percentage,
// rounded down.
func (l Ledger) Progress() int {
	if len(l.Steps) == 0 {
		return 0
	}
	completed := 0
	for i := range l.Steps {
		if l.Steps[i].Status == StepStatusCompleted {
			completed++
		}
	}
	return completed * 100 / len(l.Steps)
}

// StepNames returns the declared step names in order.
func (l Ledger) StepNames() []string {
	names := make([]string, 0, len(l.Steps))
	for i := range l.Steps {
		names = append(names, l.Steps[i].Name)
	}
	return names
}
