package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and aggregates metrics for session processing.
type Metrics struct {
	mu sync.Mutex

	// Counters
	sessionTotal     atomic.Int64
	sessionFailed    atomic.Int64
	sessionCancelled atomic.Int64

	// Step-specific metrics
	stepMetrics map[string]*StepMetrics
}

// StepMetrics represents metrics for a specific pipeline step.
type StepMetrics struct {
	executionCount atomic.Int64
	totalDuration  atomic.Int64 // milliseconds
	errorCount     atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		stepMetrics: make(map[string]*StepMetrics),
	}
}

// Global metrics instance.
var globalMetrics = NewMetrics()

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// RecordSession records a started session.
func (m *Metrics) RecordSession() {
	m.sessionTotal.Add(1)
}

// RecordSessionFailure records a failed session.
func (m *Metrics) RecordSessionFailure() {
	m.sessionFailed.Add(1)
}

// RecordSessionCancel records a cancelled session.
func (m *Metrics) RecordSessionCancel() {
	m.sessionCancelled.Add(1)
}

// RecordStep records a step execution with its duration.
func (m *Metrics) RecordStep(step string, duration time.Duration) {
	sm := m.getStepMetrics(step)
	sm.executionCount.Add(1)
	sm.totalDuration.Add(duration.Milliseconds())
}

// RecordStepError records a step failure.
func (m *Metrics) RecordStepError(step string) {
	m.getStepMetrics(step).errorCount.Add(1)
}

// GetSessionTotal returns the total number of sessions started.
func (m *Metrics) GetSessionTotal() int64 {
	return m.sessionTotal.Load()
}

// GetSessionFailed returns the total number of failed sessions.
func (m *Metrics) GetSessionFailed() int64 {
	return m.sessionFailed.Load()
}

// GetSessionCancelled returns the total number of cancelled sessions.
func (m *Metrics) GetSessionCancelled() int64 {
	return m.sessionCancelled.Load()
}

func (m *Metrics) getStepMetrics(step string) *StepMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stepMetrics[step]; !ok {
		m.stepMetrics[step] = &StepMetrics{}
	}
	return m.stepMetrics[step]
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.sessionTotal.Store(0)
	m.sessionFailed.Store(0)
	m.sessionCancelled.Store(0)

	m.mu.Lock()
	m.stepMetrics = make(map[string]*StepMetrics)
	m.mu.Unlock()
}

// Snapshot returns a point-in-time snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	stepSnapshots := make(map[string]*StepMetricsSnapshot, len(m.stepMetrics))
	for step, sm := range m.stepMetrics {
		count := sm.executionCount.Load()
		var avg int64
		if count > 0 {
			avg = sm.totalDuration.Load() / count
		}
		stepSnapshots[step] = &StepMetricsSnapshot{
			ExecutionCount:  count,
			TotalDuration:   sm.totalDuration.Load(),
			ErrorCount:      sm.errorCount.Load(),
			AverageDuration: avg,
		}
	}

	return &MetricsSnapshot{
		SessionTotal:     m.sessionTotal.Load(),
		SessionFailed:    m.sessionFailed.Load(),
		SessionCancelled: m.sessionCancelled.Load(),
		StepMetrics:      stepSnapshots,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	SessionTotal     int64
	SessionFailed    int64
	SessionCancelled int64
	StepMetrics      map[string]*StepMetricsSnapshot
}

// StepMetricsSnapshot represents metrics for a specific pipeline step.
type StepMetricsSnapshot struct {
	ExecutionCount  int64
	TotalDuration   int64
	ErrorCount      int64
	AverageDuration int64
}

// SuccessRate returns the session success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.SessionTotal == 0 {
		return 100.0
	}
	return float64(s.SessionTotal-s.SessionFailed) / float64(s.SessionTotal) * 100.0
}
