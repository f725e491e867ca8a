// Package metrics collects per-session execution metrics for the RIVA loop
// and ships immutable snapshots to a sink at session end. Measure first,
// optimize second: the counters exist to show where LLM calls and
// verifications are being spent.
package metrics

import (
	"sync"
	"time"

	"riva/internal/intention"
)

// ExecutionMetrics aggregates one session. All mutation goes through the
// record methods; Snapshot returns an immutable copy for sinks.
type ExecutionMetrics struct {
	mu sync.Mutex

	SessionID   string
	StartedAt   time.Time
	CompletedAt time.Time

	// Timing (milliseconds)
	LLMTimeMS          int64
	VerificationTimeMS int64
	ExecutionTimeMS    int64

	// LLM call counts by purpose
	LLMCallsTotal         int
	LLMCallsDecomposition int
	LLMCallsAction        int
	LLMCallsVerification  int
	LLMCallsReflection    int

	// Decomposition tracking
	DecompositionCount int
	MaxDepthReached    int

	// Verification tracking
	VerificationsTotal      int
	VerificationsHighRisk   int
	VerificationsMediumRisk int
	VerificationsLowRisk    int
	VerificationsSkipped    int

	// Per-layer outcomes
	LayerPasses   map[intention.Layer]int
	LayerFailures map[intention.Layer]int

	// Retry tracking
	RetryCount   int
	FailureCount int

	// Outcomes
	Success         bool
	FirstTrySuccess bool
}

// NewExecutionMetrics starts a session record.
func NewExecutionMetrics(sessionID string) *ExecutionMetrics {
	return &ExecutionMetrics{
		SessionID:     sessionID,
		StartedAt:     time.Now().UTC(),
		LayerPasses:   make(map[intention.Layer]int),
		LayerFailures: make(map[intention.Layer]int),
	}
}

// RecordLLMCall notes one proposer call by purpose.
func (m *ExecutionMetrics) RecordLLMCall(purpose string, elapsedMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LLMCallsTotal++
	m.LLMTimeMS += elapsedMS
	switch purpose {
	case "decompose", "decomposition":
		m.LLMCallsDecomposition++
	case "act", "action":
		m.LLMCallsAction++
	case "judge", "verification":
		m.LLMCallsVerification++
	case "reflection":
		m.LLMCallsReflection++
	}
}

// RecordDecomposition notes a decomposition at the given depth.
func (m *ExecutionMetrics) RecordDecomposition(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DecompositionCount++
	if depth > m.MaxDepthReached {
		m.MaxDepthReached = depth
	}
}

// RecordVerification notes one pipeline run at a risk level.
func (m *ExecutionMetrics) RecordVerification(level intention.RiskLevel, elapsedMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerificationsTotal++
	m.VerificationTimeMS += elapsedMS
	switch level {
	case intention.RiskHigh:
		m.VerificationsHighRisk++
	case intention.RiskMedium:
		m.VerificationsMediumRisk++
	case intention.RiskLow:
		m.VerificationsLowRisk++
	}
}

// RecordVerificationSkipped notes a skip or deferral.
func (m *ExecutionMetrics) RecordVerificationSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerificationsSkipped++
}

// RecordLayerResult tallies one layer verdict.
func (m *ExecutionMetrics) RecordLayerResult(result intention.LayerResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result.Passed {
		m.LayerPasses[result.Layer]++
	} else {
		m.LayerFailures[result.Layer]++
	}
}

// RecordReport tallies every layer result of a pipeline report.
func (m *ExecutionMetrics) RecordReport(report intention.VerificationReport) {
	for _, result := range report.Results {
		m.RecordLayerResult(result)
	}
}

// RecordRetry notes one retry cycle.
func (m *ExecutionMetrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetryCount++
}

// RecordFailure notes one failed intention.
func (m *ExecutionMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailureCount++
}

// RecordExecutionTime adds sandbox execution time.
func (m *ExecutionMetrics) RecordExecutionTime(elapsedMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecutionTimeMS += elapsedMS
}

// Complete closes the session record.
func (m *ExecutionMetrics) Complete(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompletedAt = time.Now().UTC()
	m.Success = success
	m.FirstTrySuccess = success && m.RetryCount == 0 && m.FailureCount == 0
}

// Snapshot is the immutable session-end view handed to sinks.
type Snapshot struct {
	SessionID   string
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMS  int64

	LLMTimeMS          int64
	VerificationTimeMS int64
	ExecutionTimeMS    int64

	LLMCallsTotal         int
	LLMCallsDecomposition int
	LLMCallsAction        int
	LLMCallsVerification  int
	LLMCallsReflection    int

	DecompositionCount int
	MaxDepthReached    int

	VerificationsTotal      int
	VerificationsHighRisk   int
	VerificationsMediumRisk int
	VerificationsLowRisk    int
	VerificationsSkipped    int

	LayerPasses   map[intention.Layer]int
	LayerFailures map[intention.Layer]int

	RetryCount   int
	FailureCount int

	Success         bool
	FirstTrySuccess bool
}

// Snapshot copies the current state into an immutable value.
func (m *ExecutionMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	passes := make(map[intention.Layer]int, len(m.LayerPasses))
	for k, v := range m.LayerPasses {
		passes[k] = v
	}
	failures := make(map[intention.Layer]int, len(m.LayerFailures))
	for k, v := range m.LayerFailures {
		failures[k] = v
	}

	var durationMS int64
	if !m.CompletedAt.IsZero() {
		durationMS = m.CompletedAt.Sub(m.StartedAt).Milliseconds()
	}

	return Snapshot{
		SessionID:   m.SessionID,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		DurationMS:  durationMS,

		LLMTimeMS:          m.LLMTimeMS,
		VerificationTimeMS: m.VerificationTimeMS,
		ExecutionTimeMS:    m.ExecutionTimeMS,

		LLMCallsTotal:         m.LLMCallsTotal,
		LLMCallsDecomposition: m.LLMCallsDecomposition,
		LLMCallsAction:        m.LLMCallsAction,
		LLMCallsVerification:  m.LLMCallsVerification,
		LLMCallsReflection:    m.LLMCallsReflection,

		DecompositionCount: m.DecompositionCount,
		MaxDepthReached:    m.MaxDepthReached,

		VerificationsTotal:      m.VerificationsTotal,
		VerificationsHighRisk:   m.VerificationsHighRisk,
		VerificationsMediumRisk: m.VerificationsMediumRisk,
		VerificationsLowRisk:    m.VerificationsLowRisk,
		VerificationsSkipped:    m.VerificationsSkipped,

		LayerPasses:   passes,
		LayerFailures: failures,

		RetryCount:   m.RetryCount,
		FailureCount: m.FailureCount,

		Success:         m.Success,
		FirstTrySuccess: m.FirstTrySuccess,
	}
}

// Sink receives immutable session-end snapshots. Implementations own their
// storage schema; the core only emits.
type Sink interface {
	Record(snapshot Snapshot) error
	Close() error
}
