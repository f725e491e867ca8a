package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"riva/internal/batch"
	"riva/internal/config"
	"riva/internal/intention"
	"riva/internal/metrics"
	"riva/internal/proposer"
	"riva/internal/sandbox"
	"riva/internal/trust"
	"riva/internal/verification"
)

// rejectingCheckpoint refuses every high-risk action.
type rejectingCheckpoint struct{ asked int }

func (c *rejectingCheckpoint) Ask(ctx context.Context, action intention.Action, reason string) (CheckpointResult, error) {
	c.asked++
	return CheckpointResult{Decision: CheckpointReject}, nil
}

type testHarness struct {
	engine  *Engine
	sandbox *sandbox.Workspace
	metrics *metrics.ExecutionMetrics
	root    string
}

func newHarness(t *testing.T, prop proposer.Proposer, checkpoint Checkpoint) *testHarness {
	t.Helper()
	root := t.TempDir()

	ws, err := sandbox.NewWorkspace(root, []string{"ls", "cat", "grep"}, 5*time.Second)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}

	m := metrics.NewExecutionMetrics("test-session")
	eng, err := New(Options{
		Config: config.EngineConfig{
			MaxDepth:              10,
			MaxCyclesPerIntention: 5,
			CycleTimeout:          "10s",
			RequireCheckpoint:     true,
		},
		Proposer:   prop,
		Pipeline:   verification.NewPipeline(config.DefaultConfig().Pipeline, nil),
		Sandbox:    ws,
		Budget:     trust.NewBudget(100, 20),
		Batcher:    batch.NewBatcher(nil),
		Metrics:    m,
		Checkpoint: checkpoint,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testHarness{engine: eng, sandbox: ws, metrics: m, root: root}
}

func (h *testHarness) writeFile(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(h.root, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestBoilerplateImportDefersAndVerifies(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionEdit,
			Target:  "utils.py",
			Content: "import json",
		}, "low"),
	)
	h := newHarness(t, prop, nil)
	h.writeFile(t, "utils.py", "x = 1\n")

	result, err := h.engine.Execute(context.Background(), "add import json to utils.py", []string{"utils.py imports json"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusVerified {
		t.Fatalf("status = %s, want verified (failure: %+v)", result.Status, result.Failure)
	}

	// Skip became Defer (batcher attached), the pipeline never ran, and the
	// boundary flush settled the deferred item.
	performed, skipped, _, _ := h.engine.Budget().Counters()
	if performed != 0 || skipped != 1 {
		t.Fatalf("counters performed=%d skipped=%d, want 0/1", performed, skipped)
	}
	snap := h.metrics.Snapshot()
	if snap.VerificationsTotal != 0 || snap.VerificationsSkipped != 1 {
		t.Fatalf("metrics = %d total, %d skipped", snap.VerificationsTotal, snap.VerificationsSkipped)
	}

	content, _ := h.sandbox.Read("utils.py")
	if content != "import json" {
		t.Fatalf("utils.py = %q", content)
	}
}

func TestDestructiveCommandRejectedAtCheckpoint(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCommand,
			Content: "rm -rf /tmp/test",
		}, "high"),
	)
	checkpoint := &rejectingCheckpoint{}
	h := newHarness(t, prop, checkpoint)

	result, err := h.engine.Execute(context.Background(), "clean temp dir", []string{"temp dir removed"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if checkpoint.asked != 1 {
		t.Fatalf("checkpoint asked %d times, want 1", checkpoint.asked)
	}
	if result.Failure == nil || !strings.Contains(result.Failure.Reason, "checkpoint") {
		t.Fatalf("failure = %+v", result.Failure)
	}

	_, _, caught, missed := h.engine.Budget().Counters()
	if caught != 1 || missed != 0 {
		t.Fatalf("caught=%d missed=%d, want 1/0", caught, missed)
	}
	if snap := h.metrics.Snapshot(); snap.FailureCount != 1 {
		t.Fatalf("failure count = %d, want 1", snap.FailureCount)
	}
}

func TestUndefinedNameRetriesWithContext(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		// First proposal references an undefined name...
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCreate,
			Target:  "main.py",
			Content: "def f():\n    return g()\n",
		}, "medium"),
		// ...the retry defines it.
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCreate,
			Target:  "main2.py",
			Content: "def g():\n    return 1\n\ndef f():\n    return g()\n",
		}, "medium"),
	)
	h := newHarness(t, prop, nil)

	// Drop trust below the medium-skip threshold so the pipeline runs.
	h.engine.Budget().Deplete(20) // 80 <= 85 -> VerifyNow for medium

	result, err := h.engine.Execute(context.Background(), "write function f that returns g()", []string{"f defined"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusVerified {
		t.Fatalf("status = %s (failure %+v)", result.Status, result.Failure)
	}

	root := result.Root
	if len(root.Trace) != 2 {
		t.Fatalf("trace length = %d, want 2", len(root.Trace))
	}
	first := root.Trace[0]
	if first.Report == nil || first.Report.HaltingLayer != intention.LayerSemantic {
		t.Fatalf("first cycle report = %+v", first.Report)
	}
	semantic, _ := first.Report.Result(intention.LayerSemantic)
	if !strings.Contains(semantic.Details["undefined_names"], "g") {
		t.Fatalf("details = %v", semantic.Details)
	}
	if snap := h.metrics.Snapshot(); snap.RetryCount != 1 {
		t.Fatalf("retries = %d, want 1", snap.RetryCount)
	}
}

func TestDecompositionRunsChildrenInOrderAndStopsOnFailure(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		proposer.DecompositionProposal(
			proposer.Subtask{What: "extract helper", Criteria: []string{"helper extracted"}},
			proposer.Subtask{What: "update callers", Criteria: []string{"callers updated"}},
			proposer.Subtask{What: "run tests", Criteria: []string{"tests pass"}},
		),
		// Child 1: boilerplate edit, defers, verifies.
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionEdit,
			Target:  "helper.py",
			Content: "import os",
		}, "low"),
		// Child 2: edit of a missing file. The first attempt is deferred and
		// its apply fails, which depletes trust; the retry verifies first and
		// the sandbox rejects the edit, which is unrecoverable, so the child
		// fails and the parent stops before child 3.
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionEdit,
			Target:  "ghost.py",
			Content: "x = 1",
		}, "medium"),
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionEdit,
			Target:  "ghost.py",
			Content: "x = 1",
		}, "medium"),
	)
	h := newHarness(t, prop, nil)
	h.writeFile(t, "helper.py", "pass\n")

	result, err := h.engine.Execute(context.Background(), "refactor module X", []string{"module refactored"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusFailed {
		t.Fatalf("root status = %s, want failed", result.Status)
	}

	children := h.engine.Tree().Children(result.Root.ID)
	if len(children) != 3 {
		t.Fatalf("children = %d, want 3", len(children))
	}
	if children[0].Status != intention.StatusVerified {
		t.Fatalf("child 1 status = %s, want verified", children[0].Status)
	}
	if children[1].Status != intention.StatusFailed {
		t.Fatalf("child 2 status = %s, want failed", children[1].Status)
	}
	// Child 3 never executed.
	if children[2].Status != intention.StatusPending {
		t.Fatalf("child 3 status = %s, want pending", children[2].Status)
	}
}

func TestBatchFlushFailureDemotesToRetry(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		// Deferred read whose output carries an error indicator.
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCommand,
			Content: "cat notes.txt",
		}, "low"),
		// Retry cycle succeeds with a boilerplate edit.
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionEdit,
			Target:  "utils.py",
			Content: "import json",
		}, "low"),
	)
	h := newHarness(t, prop, nil)
	h.writeFile(t, "notes.txt", "Traceback (most recent call last):\n  boom\n")
	h.writeFile(t, "utils.py", "x = 1\n")

	result, err := h.engine.Execute(context.Background(), "inspect notes", []string{"utils.py imports json"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusVerified {
		t.Fatalf("status = %s (failure %+v)", result.Status, result.Failure)
	}

	_, _, caught, _ := h.engine.Budget().Counters()
	if caught < 1 {
		t.Fatalf("caught = %d, want >= 1", caught)
	}
	if snap := h.metrics.Snapshot(); snap.RetryCount != 1 {
		t.Fatalf("retries = %d, want 1", snap.RetryCount)
	}
}

func TestSandboxRejectionIsUnrecoverable(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCommand,
			Content: "rm -rf build",
		}, "high"),
	)
	// Approving checkpoint lets the action through to the sandbox, which
	// rejects the disallowed binary.
	h := newHarness(t, prop, AutoApprove{})

	result, err := h.engine.Execute(context.Background(), "clean build dir", []string{"build dir removed"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.Failure == nil || !strings.Contains(result.Failure.Reason, "sandbox rejected") {
		t.Fatalf("failure = %+v", result.Failure)
	}
}

func TestCyclesExhaustedFailsIntention(t *testing.T) {
	// Five distinct semantic failures burn the whole cycle budget.
	var proposals []*proposer.Proposal
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		proposals = append(proposals, proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCreate,
			Target:  name + ".py",
			Content: "def f():\n    return " + name + "_missing()\n",
		}, "medium"))
	}
	h := newHarness(t, proposer.NewScriptedProposer(proposals...), nil)
	// 100 -> 60: five caught failures (+5 each) keep trust at or below 85,
	// so medium risk verifies now in every cycle.
	h.engine.Budget().Deplete(40)

	result, err := h.engine.Execute(context.Background(), "doomed goal", []string{"never satisfied"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Root.Failure(), "max cycles") {
		t.Fatalf("failure reason = %q", result.Root.Failure())
	}
	if snap := h.metrics.Snapshot(); snap.RetryCount != 5 {
		t.Fatalf("retries = %d, want 5", snap.RetryCount)
	}
}

func TestRepeatedIdenticalFailureIsUnrecoverable(t *testing.T) {
	same := func() *proposer.Proposal {
		return proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCreate,
			Target:  "same.py",
			Content: "def f():\n    return nope()\n",
		}, "medium")
	}
	h := newHarness(t, proposer.NewScriptedProposer(same(), same(), same(), same(), same()), nil)
	h.engine.Budget().Deplete(20)

	result, err := h.engine.Execute(context.Background(), "stuck goal", []string{"never"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Root.Failure(), "repeated identical failure") {
		t.Fatalf("failure reason = %q", result.Root.Failure())
	}
	// Failed on the second occurrence, not after the full budget.
	if len(result.Root.Trace) != 2 {
		t.Fatalf("trace length = %d, want 2", len(result.Root.Trace))
	}
}

func TestCancellationAbandons(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		proposer.ActionProposal(intention.Action{Type: intention.ActionCommand, Content: "ls"}, "low"),
	)
	h := newHarness(t, prop, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.engine.Execute(ctx, "anything", []string{"done"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusAbandoned {
		t.Fatalf("status = %s, want abandoned", result.Status)
	}
}

func TestEmptyCriteriaSubtaskIsRejected(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		proposer.DecompositionProposal(
			proposer.Subtask{What: "vague step"}, // No criteria: rejected
		),
		proposer.DecompositionProposal(
			proposer.Subtask{What: "precise step", Criteria: []string{"it is done"}},
		),
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionEdit,
			Target:  "utils.py",
			Content: "import json",
		}, "low"),
	)
	h := newHarness(t, prop, nil)
	h.writeFile(t, "utils.py", "x = 1\n")

	result, err := h.engine.Execute(context.Background(), "root goal", []string{"root done"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusVerified {
		t.Fatalf("status = %s (failure %+v)", result.Status, result.Failure)
	}
	// The first decomposition was rejected; the retry's child did the work.
	if snap := h.metrics.Snapshot(); snap.RetryCount != 1 {
		t.Fatalf("retries = %d, want 1", snap.RetryCount)
	}
}

func TestFailureRestoresSnapshot(t *testing.T) {
	prop := proposer.NewScriptedProposer(
		// Cycle 1: the create applies, then the intent judge fails it.
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCreate,
			Target:  "feature.py",
			Content: "def feature():\n    return 1\n",
		}, "medium"),
		proposer.VerdictProposal(proposer.VerdictFail, "does not greet the user"),
		// Cycle 2: the retry collides with the file cycle 1 left behind, the
		// sandbox rejects it, and the intention fails.
		proposer.ActionProposal(intention.Action{
			Type:    intention.ActionCreate,
			Target:  "feature.py",
			Content: "def feature():\n    return 2\n",
		}, "medium"),
	)
	h := newHarness(t, prop, nil)
	h.engine.Budget().Deplete(20) // Force VerifyNow for medium risk

	result, err := h.engine.Execute(context.Background(), "write a greeting feature", []string{"feature greets the user"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != intention.StatusFailed {
		t.Fatalf("status = %s, want failed (failure %+v)", result.Status, result.Failure)
	}

	// The boundary snapshot rewinds every change the failed intention made.
	if _, err := h.sandbox.Read("feature.py"); err == nil {
		t.Fatal("feature.py should be rolled back after the intention failed")
	}
}
