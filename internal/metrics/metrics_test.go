package metrics

import (
	"path/filepath"
	"testing"

	"riva/internal/intention"
)

func TestRecordLLMCalls(t *testing.T) {
	m := NewExecutionMetrics("sess-1")

	m.RecordLLMCall("decompose", 120)
	m.RecordLLMCall("act", 300)
	m.RecordLLMCall("act", 180)
	m.RecordLLMCall("judge", 90)

	snap := m.Snapshot()
	if snap.LLMCallsTotal != 4 {
		t.Fatalf("total = %d, want 4", snap.LLMCallsTotal)
	}
	if snap.LLMCallsDecomposition != 1 || snap.LLMCallsAction != 2 || snap.LLMCallsVerification != 1 {
		t.Fatalf("per purpose = %d/%d/%d", snap.LLMCallsDecomposition, snap.LLMCallsAction, snap.LLMCallsVerification)
	}
	if snap.LLMTimeMS != 690 {
		t.Fatalf("llm time = %d, want 690", snap.LLMTimeMS)
	}
}

func TestLayerCountsMatchVerifications(t *testing.T) {
	m := NewExecutionMetrics("sess-2")

	// Two pipeline runs, each recording its layers.
	reportA := intention.VerificationReport{
		Passed: true,
		Results: []intention.LayerResult{
			{Layer: intention.LayerSyntax, Passed: true, Confidence: 1.0},
			{Layer: intention.LayerSemantic, Passed: true, Confidence: 1.0},
		},
	}
	reportB := intention.VerificationReport{
		Passed: false,
		Results: []intention.LayerResult{
			{Layer: intention.LayerSyntax, Passed: true, Confidence: 1.0},
			{Layer: intention.LayerSemantic, Passed: false, Confidence: 0.9},
		},
	}
	m.RecordReport(reportA)
	m.RecordVerification(intention.RiskMedium, 5)
	m.RecordReport(reportB)
	m.RecordVerification(intention.RiskMedium, 7)

	snap := m.Snapshot()
	if snap.VerificationsTotal != 2 {
		t.Fatalf("verifications = %d", snap.VerificationsTotal)
	}
	if snap.LayerPasses[intention.LayerSyntax] != 2 {
		t.Fatalf("syntax passes = %d", snap.LayerPasses[intention.LayerSyntax])
	}
	if snap.LayerPasses[intention.LayerSemantic] != 1 || snap.LayerFailures[intention.LayerSemantic] != 1 {
		t.Fatalf("semantic counts = %d/%d", snap.LayerPasses[intention.LayerSemantic], snap.LayerFailures[intention.LayerSemantic])
	}
}

func TestCompleteSetsFirstTrySuccess(t *testing.T) {
	m := NewExecutionMetrics("sess-3")
	m.Complete(true)
	if snap := m.Snapshot(); !snap.FirstTrySuccess {
		t.Fatalf("first try success = false: %+v", snap)
	}

	m2 := NewExecutionMetrics("sess-4")
	m2.RecordRetry()
	m2.Complete(true)
	if snap := m2.Snapshot(); snap.FirstTrySuccess {
		t.Fatal("retried session cannot be first-try success")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewExecutionMetrics("sess-5")
	m.RecordLayerResult(intention.LayerResult{Layer: intention.LayerSyntax, Passed: true})

	snap := m.Snapshot()
	snap.LayerPasses[intention.LayerSyntax] = 99

	if m.Snapshot().LayerPasses[intention.LayerSyntax] != 1 {
		t.Fatal("snapshot mutation leaked back into the live metrics")
	}
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics", "riva.db")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	defer sink.Close()

	m := NewExecutionMetrics("sess-rt")
	m.RecordLLMCall("act", 42)
	m.RecordVerification(intention.RiskHigh, 10)
	m.RecordLayerResult(intention.LayerResult{Layer: intention.LayerSyntax, Passed: true})
	m.RecordLayerResult(intention.LayerResult{Layer: intention.LayerIntent, Passed: false})
	m.RecordRetry()
	m.Complete(false)

	if err := sink.Record(m.Snapshot()); err != nil {
		t.Fatalf("Record: %v", err)
	}

	loaded, err := sink.LoadSession("sess-rt")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.LLMCallsTotal != 1 || loaded.VerificationsTotal != 1 || loaded.RetryCount != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.LayerPasses[intention.LayerSyntax] != 1 || loaded.LayerFailures[intention.LayerIntent] != 1 {
		t.Fatalf("loaded layer counts = %+v / %+v", loaded.LayerPasses, loaded.LayerFailures)
	}
	if loaded.Success {
		t.Fatal("loaded success = true, want false")
	}
}

func TestSQLiteSinkUpsertsSameSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riva.db")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	defer sink.Close()

	m := NewExecutionMetrics("sess-up")
	m.Complete(false)
	if err := sink.Record(m.Snapshot()); err != nil {
		t.Fatalf("first record: %v", err)
	}

	m.mu.Lock()
	m.Success = true
	m.mu.Unlock()
	if err := sink.Record(m.Snapshot()); err != nil {
		t.Fatalf("second record: %v", err)
	}

	loaded, err := sink.LoadSession("sess-up")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if !loaded.Success {
		t.Fatal("upsert did not replace the row")
	}
}
