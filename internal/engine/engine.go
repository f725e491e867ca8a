// Package engine drives the RIVA loop: one Recognize-Intend-Verify-Act cycle
// per intention node, bounded by max depth and max cycles per intention so
// termination is guaranteed regardless of what the proposer does. The engine
// exclusively owns the intention tree, the trust budget, the batcher, and
// the session metrics; the LSP pool is the only shared-mutable collaborator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"riva/internal/batch"
	"riva/internal/config"
	"riva/internal/intention"
	"riva/internal/logging"
	"riva/internal/lsp"
	"riva/internal/metrics"
	"riva/internal/proposer"
	"riva/internal/risk"
	"riva/internal/sandbox"
	"riva/internal/trust"
	"riva/internal/verification"
)

// ErrCancelled reports cooperative cancellation; the active intention and
// its ancestors transition to Abandoned.
var ErrCancelled = errors.New("session cancelled")

// ErrEmptyCriteria rejects non-root intentions without acceptance criteria.
var ErrEmptyCriteria = errors.New("intention has no acceptance criteria")

// Engine is the top-level state machine for one session.
type Engine struct {
	cfg        config.EngineConfig
	prop       proposer.Proposer
	pipeline   *verification.Pipeline
	sandbox    sandbox.Sandbox
	budget     *trust.Budget
	batcher    *batch.Batcher
	lspPool    *lsp.Manager
	metrics    *metrics.ExecutionMetrics
	checkpoint Checkpoint
	observer   Observer

	tree         *intention.Tree
	cycleTimeout time.Duration
	maxCycles    int
	maxDepth     int

	// infraRetryCap bounds consecutive infrastructure failures per intention.
	infraRetryCap int
}

// Options bundles the collaborators an Engine needs.
type Options struct {
	Config     config.EngineConfig
	Proposer   proposer.Proposer
	Pipeline   *verification.Pipeline
	Sandbox    sandbox.Sandbox
	Budget     *trust.Budget
	Batcher    *batch.Batcher
	LSP        *lsp.Manager
	Metrics    *metrics.ExecutionMetrics
	Checkpoint Checkpoint
	Observer   Observer
}

// New assembles an engine. Budget, batcher, checkpoint, and observer get
// working defaults when absent; proposer, pipeline, and sandbox are required.
func New(opts Options) (*Engine, error) {
	if opts.Proposer == nil {
		return nil, fmt.Errorf("engine requires a proposer")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("engine requires a pipeline")
	}
	if opts.Sandbox == nil {
		return nil, fmt.Errorf("engine requires a sandbox")
	}

	budget := opts.Budget
	if budget == nil {
		budget = trust.NewBudget(trust.DefaultInitial, trust.DefaultFloor)
	}
	batcher := opts.Batcher
	if batcher == nil {
		batcher = batch.NewBatcher(nil)
	}
	budget.AttachBatcher()

	checkpoint := opts.Checkpoint
	if checkpoint == nil {
		checkpoint = AutoApprove{}
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewExecutionMetrics("session")
	}

	maxCycles := opts.Config.MaxCyclesPerIntention
	if maxCycles <= 0 {
		maxCycles = 5
	}
	maxDepth := opts.Config.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}

	return &Engine{
		cfg:           opts.Config,
		prop:          opts.Proposer,
		pipeline:      opts.Pipeline,
		sandbox:       opts.Sandbox,
		budget:        budget,
		batcher:       batcher,
		lspPool:       opts.LSP,
		metrics:       m,
		checkpoint:    checkpoint,
		observer:      observer,
		cycleTimeout:  config.ParseDuration(opts.Config.CycleTimeout, 2*time.Minute),
		maxCycles:     maxCycles,
		maxDepth:      maxDepth,
		infraRetryCap: 2,
	}, nil
}

// Budget exposes the session trust budget (read-only views).
func (e *Engine) Budget() *trust.Budget {
	return e.budget
}

// Tree exposes the intention tree after Execute.
func (e *Engine) Tree() *intention.Tree {
	return e.tree
}

// Result is the session-terminal outcome crossing to collaborators.
type Result struct {
	Root    *intention.Intention
	Status  intention.Status
	Failure *FailureSummary
	Metrics metrics.Snapshot
}

// FailureSummary is the user-visible description of a failed intention.
type FailureSummary struct {
	Goal            string
	CriterionMissed string
	FailingLayer    intention.Layer
	Reason          string
	Verifications   int
	Skipped         int
	FailuresCaught  int
	FailuresMissed  int
}

// Execute drives a root intention to a terminal status.
func (e *Engine) Execute(ctx context.Context, what string, criteria []string) (*Result, error) {
	root := intention.New(what, criteria, 0, "")
	e.tree = intention.NewTree(root)
	logging.Engine("session start: %s", what)

	err := e.runIntention(ctx, root)
	if err != nil && !errors.Is(err, ErrCancelled) {
		return nil, err
	}
	if errors.Is(err, ErrCancelled) {
		// Best-effort boundary work on the way out.
		e.settleBatchBestEffort()
	}

	success := root.Status == intention.StatusVerified
	e.metrics.Complete(success)
	e.observer.OnSessionComplete(success, root.Failure())

	result := &Result{
		Root:    root,
		Status:  root.Status,
		Metrics: e.metrics.Snapshot(),
	}
	if !success {
		result.Failure = e.failureSummary(root)
	}

	logging.Engine("session end: status=%s %s", root.Status, e.budget.Summary())
	return result, nil
}

// failureSummary assembles the user-visible failure view.
func (e *Engine) failureSummary(in *intention.Intention) *FailureSummary {
	performed, skipped, caught, missed := e.budget.Counters()
	summary := &FailureSummary{
		Goal:           in.What,
		Reason:         in.Failure(),
		Verifications:  performed,
		Skipped:        skipped,
		FailuresCaught: caught,
		FailuresMissed: missed,
	}
	// Walk the trace backwards for the last failing layer and criterion.
	for i := len(in.Trace) - 1; i >= 0; i-- {
		rec := in.Trace[i]
		if rec.Report != nil && !rec.Report.Passed {
			summary.FailingLayer = rec.Report.HaltingLayer
			if summary.Reason == "" {
				summary.Reason = rec.Report.HaltingReason
			}
			if lr, ok := rec.Report.Result(intention.LayerIntent); ok {
				summary.CriterionMissed = lr.Details["criterion_missed"]
			}
			break
		}
	}
	return summary
}

// =============================================================================
// PER-INTENTION STATE MACHINE
// =============================================================================

// cycleFailure captures why a cycle did not verify.
type cycleFailure struct {
	kind    intention.FailureKind
	layer   intention.Layer
	reason  string
	details map[string]string
}

// key identifies a failure for the repeated-identical-failure rule.
func (f *cycleFailure) key() string {
	return string(f.kind) + "|" + string(f.layer) + "|" + f.reason
}

func (f *cycleFailure) String() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s failure at %s: %s", f.kind, f.layer, f.reason)
}

// cycleOutcome is the explicit result variant of one cycle.
type cycleOutcome struct {
	verified   bool
	decomposed []proposer.Subtask
	retry      *cycleFailure
	failed     *cycleFailure
}

// runIntention drives one node to a terminal status.
func (e *Engine) runIntention(ctx context.Context, in *intention.Intention) error {
	if err := e.checkCancel(ctx, in); err != nil {
		return err
	}
	if in.Status == intention.StatusPending {
		if err := in.Transition(intention.StatusActive); err != nil {
			return err
		}
	}
	e.observer.OnIntentionStart(in)
	logging.Engine("intention %s active (depth %d): %s", in.ID, in.Depth, in.What)

	snapshotID, err := e.sandbox.Snapshot()
	if err != nil {
		logging.EngineWarn("snapshot failed for %s: %v", in.ID, err)
		snapshotID = ""
	}

	var lastFailure *cycleFailure
	infraFailures := 0

	for cycle := 1; cycle <= e.maxCycles; cycle++ {
		if err := e.checkCancel(ctx, in); err != nil {
			return err
		}

		e.observer.OnCycleStart(in, cycle)
		outcome := e.runCycle(ctx, in, cycle, lastFailure)

		switch {
		case outcome.verified:
			// Intention boundary: settle deferred work before going terminal.
			if failure := e.settleBatchAtBoundary(ctx, in); failure != nil {
				e.observer.OnCycleComplete(in, cycle, "batch_failure")
				e.metrics.RecordRetry()
				lastFailure = failure
				continue
			}
			if err := in.Transition(intention.StatusVerified); err != nil {
				return err
			}
			e.budget.Replenish(trust.DefaultReplenish)
			e.observer.OnCycleComplete(in, cycle, "verified")
			e.observer.OnIntentionComplete(in)
			logging.Engine("intention %s verified after %d cycle(s)", in.ID, cycle)
			return nil

		case outcome.decomposed != nil:
			e.observer.OnCycleComplete(in, cycle, "decomposed")
			return e.runDecomposition(ctx, in, outcome.decomposed, snapshotID)

		case outcome.failed != nil:
			e.observer.OnCycleComplete(in, cycle, "failed")
			e.failIntention(in, outcome.failed, snapshotID)
			return nil

		case outcome.retry != nil:
			e.observer.OnCycleComplete(in, cycle, "retry")
			e.metrics.RecordRetry()

			if lastFailure != nil && lastFailure.key() == outcome.retry.key() {
				// Repeated identical failure across two cycles.
				e.failIntention(in, &cycleFailure{
					kind:   outcome.retry.kind,
					layer:  outcome.retry.layer,
					reason: "repeated identical failure: " + outcome.retry.reason,
				}, snapshotID)
				return nil
			}
			if outcome.retry.kind == intention.FailureInfrastructure {
				infraFailures++
				if infraFailures > e.infraRetryCap {
					e.failIntention(in, &cycleFailure{
						kind:   intention.FailureInfrastructure,
						reason: "infrastructure failure retry cap exceeded: " + outcome.retry.reason,
					}, snapshotID)
					return nil
				}
			}
			lastFailure = outcome.retry
		}
	}

	// Cycle budget exhausted.
	e.failIntention(in, &cycleFailure{
		kind:   intention.FailureBudget,
		reason: fmt.Sprintf("max cycles (%d) exhausted", e.maxCycles),
	}, snapshotID)
	return nil
}

// runDecomposition creates ordered children and recurses left to right.
func (e *Engine) runDecomposition(ctx context.Context, in *intention.Intention, subtasks []proposer.Subtask, snapshotID string) error {
	// Decomposition boundary: settle deferred work first.
	if failure := e.settleBatchAtBoundary(ctx, in); failure != nil {
		logging.EngineWarn("batch failure at decomposition boundary of %s: %s", in.ID, failure.reason)
	}

	for _, sub := range subtasks {
		if _, err := e.tree.AddChild(in.ID, sub.What, sub.Criteria); err != nil {
			return err
		}
	}
	if err := in.Transition(intention.StatusDecomposed); err != nil {
		return err
	}
	e.metrics.RecordDecomposition(in.Depth + 1)
	logging.Engine("intention %s decomposed into %d children", in.ID, len(subtasks))

	for _, child := range e.tree.Children(in.ID) {
		if err := e.runIntention(ctx, child); err != nil {
			// Cancellation: abandon this parent on the way up.
			if !in.Status.IsTerminal() {
				_ = in.Transition(intention.StatusAbandoned)
			}
			return err
		}
		if child.Status == intention.StatusFailed {
			// Child i failed after its own budget: the parent fails without
			// executing children i+1..n.
			e.failIntention(in, &cycleFailure{
				kind:   intention.FailureBudget,
				reason: fmt.Sprintf("child intention failed: %s", child.Failure()),
			}, snapshotID)
			return nil
		}
	}

	if err := in.Transition(intention.StatusVerified); err != nil {
		return err
	}
	e.observer.OnIntentionComplete(in)
	logging.Engine("intention %s verified via children", in.ID)
	return nil
}

// failIntention records the aggregate reason and transitions to Failed,
// restoring the boundary snapshot.
func (e *Engine) failIntention(in *intention.Intention, failure *cycleFailure, snapshotID string) {
	in.SetFailure(failure.String())
	e.metrics.RecordFailure()
	if snapshotID != "" {
		if err := e.sandbox.Restore(snapshotID); err != nil {
			logging.EngineWarn("restore of %s failed: %v", snapshotID, err)
		}
	}
	if !in.Status.IsTerminal() {
		_ = in.Transition(intention.StatusFailed)
	}
	e.observer.OnIntentionComplete(in)
	logging.Engine("intention %s failed: %s", in.ID, failure)
}

// checkCancel abandons the intention on cooperative cancellation.
func (e *Engine) checkCancel(ctx context.Context, in *intention.Intention) error {
	if ctx.Err() == nil {
		return nil
	}
	if !in.Status.IsTerminal() {
		_ = in.Transition(intention.StatusAbandoned)
	}
	e.observer.OnIntentionComplete(in)
	logging.Engine("intention %s abandoned (cancelled)", in.ID)
	return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
}

// settleBatchAtBoundary flushes the batcher at an intention boundary. Any
// failure counts as caught; the first failure belonging to the active
// intention is returned so the caller can demote it to a retry cycle.
func (e *Engine) settleBatchAtBoundary(ctx context.Context, in *intention.Intention) *cycleFailure {
	if !e.batcher.HasPending() {
		return nil
	}
	result := e.batcher.Flush(ctx)
	if result.OverallPass {
		return nil
	}

	for range result.Failures {
		e.budget.RecordFailureCaught()
	}

	first := result.Failures[0]
	return &cycleFailure{
		kind:   intention.FailureIntent,
		layer:  intention.LayerIntent,
		reason: fmt.Sprintf("deferred verification failed for %s (expected: %s)", first.Action.String(), first.Expected),
	}
}

// settleBatchBestEffort flushes on cancellation without demotion.
func (e *Engine) settleBatchBestEffort() {
	if !e.batcher.HasPending() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result := e.batcher.Flush(ctx)
	for range result.Failures {
		e.budget.RecordFailureCaught()
	}
}

// =============================================================================
// ONE CYCLE
// =============================================================================

// runCycle performs one Recognize-Intend-Verify-Act iteration.
func (e *Engine) runCycle(ctx context.Context, in *intention.Intention, cycle int, lastFailure *cycleFailure) cycleOutcome {
	started := time.Now()

	proposal, failure := e.propose(ctx, in, lastFailure)
	if failure != nil {
		e.recordCycle(in, cycle, intention.Action{}, intention.ActionRisk{}, "", nil, false, failure, started)
		return cycleOutcome{retry: failure}
	}

	if proposal.Kind == proposer.KindDecomposition {
		if in.Depth+1 >= e.maxDepth {
			// Depth limit treated as unrecoverable.
			f := &cycleFailure{
				kind:   intention.FailureBudget,
				reason: fmt.Sprintf("max depth (%d) would be exceeded by decomposition", e.maxDepth),
			}
			e.recordCycle(in, cycle, intention.Action{}, intention.ActionRisk{}, "", nil, false, f, started)
			return cycleOutcome{failed: f}
		}
		if len(proposal.Subtasks) == 0 {
			f := &cycleFailure{kind: intention.FailureInfrastructure, reason: "empty decomposition proposed"}
			return cycleOutcome{retry: f}
		}
		for _, sub := range proposal.Subtasks {
			if len(sub.Criteria) == 0 {
				// Empty-criteria intentions are root-only.
				f := &cycleFailure{
					kind:    intention.FailureIntent,
					reason:  fmt.Sprintf("subtask %q proposed without acceptance criteria", sub.What),
					details: map[string]string{"error": ErrEmptyCriteria.Error()},
				}
				return cycleOutcome{retry: f}
			}
		}
		return cycleOutcome{decomposed: proposal.Subtasks}
	}

	action := *proposal.Action

	// Flush before an expected High-risk action, per the proposer's hint.
	if proposal.RiskHint == "high" && e.batcher.HasPending() {
		if failure := e.settleBatchAtBoundary(ctx, in); failure != nil {
			e.recordCycle(in, cycle, action, intention.ActionRisk{}, "", nil, false, failure, started)
			return cycleOutcome{retry: failure}
		}
	}

	actionRisk := risk.Assess(action)

	// The assessor's word beats the hint: flush before any High-risk action.
	if actionRisk.Level == intention.RiskHigh && e.batcher.HasPending() {
		if failure := e.settleBatchAtBoundary(ctx, in); failure != nil {
			e.recordCycle(in, cycle, action, actionRisk, "", nil, false, failure, started)
			return cycleOutcome{retry: failure}
		}
	}

	// Confirmation boundary for High-risk actions.
	if actionRisk.Level == intention.RiskHigh && e.cfg.RequireCheckpoint {
		ckResult, err := e.checkpoint.Ask(ctx, action, strings.Join(actionRisk.Factors, ", "))
		if err != nil {
			f := &cycleFailure{kind: intention.FailureInfrastructure, reason: fmt.Sprintf("checkpoint unavailable: %v", err)}
			return cycleOutcome{retry: f}
		}
		switch ckResult.Decision {
		case CheckpointReject:
			e.budget.RecordFailureCaught()
			f := &cycleFailure{
				kind:   intention.FailureSafety,
				reason: "high-risk action rejected at checkpoint",
				details: map[string]string{
					"action":  action.String(),
					"factors": strings.Join(actionRisk.Factors, ","),
				},
			}
			e.recordCycle(in, cycle, action, actionRisk, "", nil, false, f, started)
			return cycleOutcome{failed: f}
		case CheckpointModify:
			if ckResult.Replacement != nil {
				action = *ckResult.Replacement
				actionRisk = risk.Assess(action)
			}
		}
	}

	decision := e.budget.ShouldVerify(actionRisk)
	logging.EngineDebug("cycle %d of %s: %s risk=%s decision=%s", cycle, in.ID, action.Type, actionRisk.Level, decision)

	switch decision {
	case trust.VerifyNow:
		return e.verifyAndApply(ctx, in, cycle, action, actionRisk, started)
	case trust.Defer:
		return e.applyDeferred(ctx, in, cycle, action, actionRisk, started)
	default:
		return e.applySkipped(ctx, in, cycle, action, actionRisk, started)
	}
}

// propose asks the LLM for the next step, bounded by the cycle timeout.
func (e *Engine) propose(ctx context.Context, in *intention.Intention, lastFailure *cycleFailure) (*proposer.Proposal, *cycleFailure) {
	proposeCtx, cancel := context.WithTimeout(ctx, e.cycleTimeout)
	defer cancel()

	proposal, err := e.prop.Propose(proposeCtx, in, e.buildContext(in, lastFailure), proposer.PurposeAct)
	if err != nil {
		if ctx.Err() != nil {
			// Session cancellation surfaces at the cycle loop's next check.
			return nil, &cycleFailure{kind: intention.FailureInfrastructure, reason: "cancelled during proposal"}
		}
		kind := intention.FailureInfrastructure
		reason := fmt.Sprintf("proposer failed: %v", err)
		if proposeCtx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		return nil, &cycleFailure{kind: kind, reason: reason}
	}

	purpose := "action"
	if proposal.Kind == proposer.KindDecomposition {
		purpose = "decomposition"
	}
	e.metrics.RecordLLMCall(purpose, proposal.ElapsedMS)
	return proposal, nil
}

// buildContext assembles the retry context handed back to the proposer.
func (e *Engine) buildContext(in *intention.Intention, lastFailure *cycleFailure) string {
	var sb strings.Builder
	if lastFailure != nil {
		sb.WriteString("## Previous Attempt Failed\n")
		sb.WriteString(lastFailure.String())
		sb.WriteString("\n")
		for key, value := range lastFailure.details {
			fmt.Fprintf(&sb, "- %s: %s\n", key, value)
		}
	}
	if used := in.CyclesUsed(); used > 0 {
		fmt.Fprintf(&sb, "\n## Cycles Used\n%d of %d\n", used, e.maxCycles)
	}
	return sb.String()
}

// verifyAndApply runs the pre-apply gates, applies, then runs the
// post-apply gates, catching failures before they reach the repository.
func (e *Engine) verifyAndApply(ctx context.Context, in *intention.Intention, cycle int, action intention.Action, actionRisk intention.ActionRisk, started time.Time) cycleOutcome {
	vctx := &verification.Context{
		Intention: in,
		Sandbox:   e.sandbox,
		LSP:       e.lspPool,
		Judge:     e.prop,
	}

	verifyStart := time.Now()
	pre := e.pipeline.RunStages(ctx, action, vctx, verification.PreApplyLayers)
	e.metrics.RecordVerification(actionRisk.Level, time.Since(verifyStart).Milliseconds())
	e.metrics.RecordReport(pre)

	if !pre.Passed {
		e.budget.RecordFailureCaught()
		failure := failureFromReport(pre)
		e.recordCycle(in, cycle, action, actionRisk, string(trust.VerifyNow), &pre, false, failure, started)
		if isUnrecoverable(failure) {
			return cycleOutcome{failed: failure}
		}
		return cycleOutcome{retry: failure}
	}

	applied := e.sandbox.Apply(ctx, action)
	if !applied.Success {
		// The sandbox rejected a verified change: unrecoverable for this
		// intention.
		failure := &cycleFailure{
			kind:    intention.FailureInfrastructure,
			reason:  fmt.Sprintf("sandbox rejected the change: %s", applied.Error),
			details: map[string]string{"action": action.String()},
		}
		report := pre
		e.recordCycle(in, cycle, action, actionRisk, string(trust.VerifyNow), &report, false, failure, started)
		return cycleOutcome{failed: failure}
	}

	vctx.Produced = producedText(applied)
	vctx.TouchedPaths = touchedPaths(action)
	post := e.pipeline.RunStages(ctx, action, vctx, verification.PostApplyLayers)
	e.metrics.RecordReport(post)

	merged := verification.MergeReports(pre, post)
	if !post.Passed {
		e.budget.RecordFailureCaught()
		failure := failureFromReport(post)
		e.recordCycle(in, cycle, action, actionRisk, string(trust.VerifyNow), &merged, true, failure, started)
		if isUnrecoverable(failure) {
			return cycleOutcome{failed: failure}
		}
		return cycleOutcome{retry: failure}
	}

	e.recordCycle(in, cycle, action, actionRisk, string(trust.VerifyNow), &merged, true, nil, started)
	return cycleOutcome{verified: true}
}

// applyDeferred applies and queues the verification for the next boundary.
func (e *Engine) applyDeferred(ctx context.Context, in *intention.Intention, cycle int, action intention.Action, actionRisk intention.ActionRisk, started time.Time) cycleOutcome {
	applied := e.sandbox.Apply(ctx, action)
	if !applied.Success {
		// We trusted this action and it broke: a missed failure.
		e.budget.Deplete(trust.DefaultDeplete)
		failure := &cycleFailure{
			kind:    intention.FailureBehavioral,
			reason:  fmt.Sprintf("apply failed: %s", applied.Error),
			details: map[string]string{"action": action.String()},
		}
		e.recordCycle(in, cycle, action, actionRisk, string(trust.Defer), nil, false, failure, started)
		return cycleOutcome{retry: failure}
	}

	e.batcher.Defer(action, producedText(applied), expectedOutcome(in))
	e.metrics.RecordVerificationSkipped()
	e.recordCycle(in, cycle, action, actionRisk, string(trust.Defer), nil, true, nil, started)
	return cycleOutcome{verified: true}
}

// applySkipped applies with no verification record at all.
func (e *Engine) applySkipped(ctx context.Context, in *intention.Intention, cycle int, action intention.Action, actionRisk intention.ActionRisk, started time.Time) cycleOutcome {
	applied := e.sandbox.Apply(ctx, action)
	if !applied.Success {
		e.budget.Deplete(trust.DefaultDeplete)
		failure := &cycleFailure{
			kind:    intention.FailureBehavioral,
			reason:  fmt.Sprintf("apply failed: %s", applied.Error),
			details: map[string]string{"action": action.String()},
		}
		e.recordCycle(in, cycle, action, actionRisk, string(trust.Skip), nil, false, failure, started)
		return cycleOutcome{retry: failure}
	}

	e.metrics.RecordVerificationSkipped()
	e.recordCycle(in, cycle, action, actionRisk, string(trust.Skip), nil, true, nil, started)
	return cycleOutcome{verified: true}
}

// recordCycle appends the cycle record to the intention trace.
func (e *Engine) recordCycle(in *intention.Intention, cycle int, action intention.Action, actionRisk intention.ActionRisk, decision string, report *intention.VerificationReport, applied bool, failure *cycleFailure, started time.Time) {
	rec := intention.CycleRecord{
		Cycle:     cycle,
		Action:    action,
		Risk:      actionRisk,
		Decision:  decision,
		Report:    report,
		Applied:   applied,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if failure != nil {
		rec.Err = failure.String()
	}
	in.RecordCycle(rec)
}

// failureFromReport lifts a halting report into a cycle failure.
func failureFromReport(report intention.VerificationReport) *cycleFailure {
	failure := &cycleFailure{
		kind:   report.HaltingKind,
		layer:  report.HaltingLayer,
		reason: report.HaltingReason,
	}
	if lr, ok := report.Result(report.HaltingLayer); ok {
		failure.details = lr.Details
	}
	return failure
}

// isUnrecoverable applies the failure taxonomy: safety blocks and
// security-tagged reasons end the intention; parse/semantic/behavioral/intent
// failures retry.
func isUnrecoverable(failure *cycleFailure) bool {
	if failure.kind == intention.FailureSafety || failure.kind == intention.FailureBudget {
		return true
	}
	if strings.HasPrefix(failure.reason, "security_") {
		return true
	}
	for _, value := range failure.details {
		if strings.HasPrefix(value, "security_") {
			return true
		}
	}
	return false
}

// producedText is the result text fed to post-apply judging and deferral.
func producedText(applied sandbox.AppliedChange) string {
	if applied.Output != "" {
		return applied.Diff + "\n" + applied.Output
	}
	return applied.Diff
}

// expectedOutcome picks the expectation text for deferred verification.
func expectedOutcome(in *intention.Intention) string {
	if len(in.Criteria) > 0 {
		return in.Criteria[0]
	}
	return in.What
}

// touchedPaths lists the files an action affects.
func touchedPaths(action intention.Action) []string {
	if action.Target == "" {
		return nil
	}
	return []string{action.Target}
}
