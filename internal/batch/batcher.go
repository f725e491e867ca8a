// Package batch accumulates low- and medium-risk deferred verifications and
// settles them together at an intention boundary, converting N individually
// judged checks into at most one grouped judgment.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"riva/internal/intention"
	"riva/internal/logging"
	"riva/internal/proposer"
)

// DeferredVerification is one postponed check: the action that ran, the
// result text it produced, and the outcome that was expected.
type DeferredVerification struct {
	Action   intention.Action
	Result   string
	Expected string
}

// ItemResult pairs a deferred verification with its verdict.
type ItemResult struct {
	Item   DeferredVerification
	Passed bool
}

// Result is the outcome of one batch flush.
type Result struct {
	OverallPass bool
	PerItem     []ItemResult
	Failures    []DeferredVerification
}

// PassedCount returns the number of items that passed.
func (r Result) PassedCount() int {
	n := 0
	for _, item := range r.PerItem {
		if item.Passed {
			n++
		}
	}
	return n
}

// FailedCount returns the number of items that failed.
func (r Result) FailedCount() int {
	return len(r.PerItem) - r.PassedCount()
}

// Batcher buffers deferred verifications until flushed. An optional LLM
// client upgrades the flush from heuristic matching to a grouped judgment.
type Batcher struct {
	mu      sync.Mutex
	pending []DeferredVerification
	client  proposer.Client
}

// NewBatcher creates a batcher. A nil client selects the heuristic judge.
func NewBatcher(client proposer.Client) *Batcher {
	return &Batcher{client: client}
}

// Defer queues a verification for the next flush.
func (b *Batcher) Defer(action intention.Action, result, expected string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, DeferredVerification{
		Action:   action,
		Result:   result,
		Expected: expected,
	})
	logging.BatcherDebug("deferred %s (pending=%d)", action.Type, len(b.pending))
}

// PendingCount returns the number of queued verifications.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// HasPending reports whether any verification is queued.
func (b *Batcher) HasPending() bool {
	return b.PendingCount() > 0
}

// Clear drops all pending verifications without running them.
func (b *Batcher) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
}

// Flush settles every pending verification in one pass and empties the
// queue. Flushing an empty batcher succeeds with no items, so repeated
// flushes of an empty batcher are equal.
func (b *Batcher) Flush(ctx context.Context) Result {
	b.mu.Lock()
	items := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(items) == 0 {
		return Result{OverallPass: true}
	}

	var verdicts []bool
	if b.client != nil {
		if v, err := b.judgeWithLLM(ctx, items); err == nil {
			verdicts = v
		} else {
			logging.Batcher("LLM batch judge failed, falling back to heuristic: %v", err)
		}
	}
	if verdicts == nil {
		verdicts = judgeHeuristically(items)
	}

	result := Result{OverallPass: true}
	for i, item := range items {
		passed := verdicts[i]
		result.PerItem = append(result.PerItem, ItemResult{Item: item, Passed: passed})
		if !passed {
			result.OverallPass = false
			result.Failures = append(result.Failures, item)
		}
	}

	logging.Batcher("flushed %d items: passed=%d failed=%d", len(items), result.PassedCount(), result.FailedCount())
	return result
}

const batchJudgeSystemPrompt = `You verify a batch of completed actions. For each numbered item you get
the expected outcome and the produced result. Decide per item whether the
result satisfies the expectation.

Response format (JSON only):
{"verdicts": [{"index": 0, "pass": true, "reason": "..."}, ...]}

Every index must appear exactly once. Only return the JSON object.`

// judgeWithLLM builds one grouped prompt and parses a per-item verdict.
func (b *Batcher) judgeWithLLM(ctx context.Context, items []DeferredVerification) ([]bool, error) {
	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "## Item %d\nAction: %s\nExpected: %s\nResult:\n%s\n\n",
			i, item.Action.String(), item.Expected, truncate(item.Result, 2000))
	}

	response, err := b.client.CompleteWithSystem(ctx, batchJudgeSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("batch judge call failed: %w", err)
	}

	var parsed struct {
		Verdicts []struct {
			Index  int    `json:"index"`
			Pass   bool   `json:"pass"`
			Reason string `json:"reason"`
		} `json:"verdicts"`
	}
	if err := json.Unmarshal([]byte(proposer.StripFences(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse batch verdicts: %w", err)
	}

	verdicts := make([]bool, len(items))
	covered := make([]bool, len(items))
	for _, v := range parsed.Verdicts {
		if v.Index < 0 || v.Index >= len(items) {
			continue
		}
		verdicts[v.Index] = v.Pass
		covered[v.Index] = true
	}
	for i, ok := range covered {
		if !ok {
			return nil, fmt.Errorf("batch verdict missing item %d", i)
		}
	}
	return verdicts, nil
}

// Error indicators checked before success indicators: any hit fails the item.
var errorIndicators = []string{
	"error", "traceback", "permission denied", "exception",
	"failed", "fatal", "not found",
}

// Success indicators for the heuristic judge.
var successIndicators = []string{
	"created", "added", "done", "ok", "success", "applied",
	"updated", "written", "complete",
}

// judgeHeuristically applies indicator matching per item. Unclear text fails:
// erring toward failure is the safer default.
func judgeHeuristically(items []DeferredVerification) []bool {
	verdicts := make([]bool, len(items))
	for i, item := range items {
		verdicts[i] = heuristicPass(item)
	}
	return verdicts
}

func heuristicPass(item DeferredVerification) bool {
	lower := strings.ToLower(item.Result)

	for _, indicator := range errorIndicators {
		if strings.Contains(lower, indicator) {
			return false
		}
	}

	for _, indicator := range successIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}

	// Expected-outcome keywords count as success signals too.
	for _, word := range strings.Fields(strings.ToLower(item.Expected)) {
		if len(word) >= 4 && strings.Contains(lower, word) {
			return true
		}
	}

	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... [truncated]"
}
