// Package trust implements the session trust budget: the policy counter that
// decides whether a proposed action is verified now, deferred to the batcher,
// or skipped. Trust is earned by verified successes and spent by misses;
// at the floor every action verifies.
package trust

import (
	"fmt"
	"sync"

	"riva/internal/intention"
	"riva/internal/logging"
)

// Decision is the budget's answer for one action.
type Decision string

const (
	VerifyNow Decision = "verify_now"
	Defer     Decision = "defer"
	Skip      Decision = "skip"
)

// Default tuning. Matches the session policy table: medium risk may skip
// above 85, low risk may skip above 70, everything verifies at the floor.
const (
	DefaultInitial   = 100
	DefaultFloor     = 20
	DefaultReplenish = 10
	DefaultDeplete   = 20
	caughtReplenish  = 5

	mediumSkipThreshold = 85
	lowSkipThreshold    = 70
	highTrustMark       = 80
	lowTrustMark        = 50
)

// Budget is the session-scoped trust counter. All methods are safe for use
// from the engine goroutine; the mutex guards the read-only views that
// observers may call concurrently.
type Budget struct {
	mu        sync.Mutex
	initial   int
	remaining int
	floor     int

	verificationsPerformed int
	verificationsSkipped   int
	failuresCaught         int
	failuresMissed         int

	batcherAttached bool
}

// NewBudget creates a budget with the given initial and floor values.
// Non-positive arguments fall back to the defaults.
func NewBudget(initial, floor int) *Budget {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if floor <= 0 {
		floor = DefaultFloor
	}
	if floor > initial {
		floor = initial
	}
	return &Budget{
		initial:   initial,
		remaining: initial,
		floor:     floor,
	}
}

// AttachBatcher tells the budget a batcher is available, upgrading Skip
// decisions to Defer for batchable risks.
func (b *Budget) AttachBatcher() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batcherAttached = true
}

// ShouldVerify applies the decision policy for one action risk and records
// the decision in the counters.
func (b *Budget) ShouldVerify(risk intention.ActionRisk) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	decision := b.decide(risk)
	switch decision {
	case VerifyNow:
		b.verificationsPerformed++
	default:
		b.verificationsSkipped++
	}

	logging.TrustDebug("risk=%s remaining=%d -> %s", risk.Level, b.remaining, decision)
	return decision
}

func (b *Budget) decide(risk intention.ActionRisk) Decision {
	// High risk always verifies, regardless of remaining trust.
	if risk.Level == intention.RiskHigh {
		return VerifyNow
	}

	// At the floor every action verifies.
	if b.remaining <= b.floor {
		return VerifyNow
	}

	threshold := lowSkipThreshold
	if risk.Level == intention.RiskMedium {
		threshold = mediumSkipThreshold
	}
	if b.remaining <= threshold {
		return VerifyNow
	}

	if risk.CanBatch && b.batcherAttached {
		return Defer
	}
	return Skip
}

// Replenish restores trust after a verified success, capped at initial.
// A non-positive amount uses the default.
func (b *Budget) Replenish(amount int) {
	if amount <= 0 {
		amount = DefaultReplenish
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining += amount
	if b.remaining > b.initial {
		b.remaining = b.initial
	}
}

// Deplete spends trust after a missed failure, floored at the floor.
// A non-positive amount uses the default.
func (b *Budget) Deplete(amount int) {
	if amount <= 0 {
		amount = DefaultDeplete
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining -= amount
	if b.remaining < b.floor {
		b.remaining = b.floor
	}
	b.failuresMissed++
}

// RecordFailureCaught notes that verification caught a real failure. The
// system worked, so a small replenishment applies.
func (b *Budget) RecordFailureCaught() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failuresCaught++
	b.remaining += caughtReplenish
	if b.remaining > b.initial {
		b.remaining = b.initial
	}
}

// TrustLevel returns remaining/initial in [0,1].
func (b *Budget) TrustLevel() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.remaining) / float64(b.initial)
}

// IsHighTrust reports remaining >= 80.
func (b *Budget) IsHighTrust() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining >= highTrustMark
}

// IsLowTrust reports remaining <= 50.
func (b *Budget) IsLowTrust() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining <= lowTrustMark
}

// Remaining returns the current trust value.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Counters returns (performed, skipped, caught, missed).
func (b *Budget) Counters() (int, int, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verificationsPerformed, b.verificationsSkipped, b.failuresCaught, b.failuresMissed
}

// Summary returns a one-line human-readable state description.
func (b *Budget) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("trust %d/%d (floor %d): verified=%d skipped=%d caught=%d missed=%d",
		b.remaining, b.initial, b.floor,
		b.verificationsPerformed, b.verificationsSkipped,
		b.failuresCaught, b.failuresMissed)
}

// Snapshot returns the budget state as a flat map for metrics and reports.
func (b *Budget) Snapshot() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"initial":     b.initial,
		"remaining":   b.remaining,
		"floor":       b.floor,
		"trust_level": float64(b.remaining) / float64(b.initial),
		"statistics": map[string]int{
			"verifications_performed": b.verificationsPerformed,
			"verifications_skipped":   b.verificationsSkipped,
			"failures_caught":         b.failuresCaught,
			"failures_missed":         b.failuresMissed,
		},
	}
}
