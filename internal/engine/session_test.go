package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"riva/internal/config"
	"riva/internal/intention"
	"riva/internal/metrics"
	"riva/internal/proposer"
)

func TestNewSessionRequiresProposerOrProvider(t *testing.T) {
	cfg := config.DefaultConfig() // Provider "none"
	if _, err := NewSession(t.TempDir(), cfg, SessionOptions{}); err == nil {
		t.Fatal("session without proposer or provider should fail")
	}
}

func TestSessionRunAndClose(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "utils.py"), []byte("x = 1\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Metrics.DatabasePath = "" // Discard sink

	session, err := NewSession(ws, cfg, SessionOptions{
		Proposer: proposer.NewScriptedProposer(
			proposer.ActionProposal(intention.Action{
				Type:    intention.ActionEdit,
				Target:  "utils.py",
				Content: "import json",
			}, "low"),
		),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	result, err := session.Run(context.Background(), "add import json", []string{"utils.py imports json"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != intention.StatusVerified {
		t.Fatalf("status = %s (failure %+v)", result.Status, result.Failure)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSessionRecordsMetricsOnClose(t *testing.T) {
	ws := t.TempDir()

	recorder := &recordingSink{}
	cfg := config.DefaultConfig()
	session, err := NewSession(ws, cfg, SessionOptions{
		Proposer: proposer.NewScriptedProposer(
			proposer.ActionProposal(intention.Action{Type: intention.ActionCommand, Content: "ls"}, "low"),
		),
		Sink: recorder,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if _, err := session.Run(context.Background(), "list files", []string{"listing produced"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(recorder.snapshots) != 1 {
		t.Fatalf("snapshots recorded = %d, want 1", len(recorder.snapshots))
	}
	if recorder.snapshots[0].SessionID != session.ID {
		t.Fatalf("snapshot session id = %s, want %s", recorder.snapshots[0].SessionID, session.ID)
	}
}

type recordingSink struct {
	snapshots []metrics.Snapshot
	closed    bool
}

func (r *recordingSink) Record(s metrics.Snapshot) error {
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestStatusSummary(t *testing.T) {
	if got := Status(nil); got != "no session" {
		t.Fatalf("Status(nil) = %q", got)
	}

	root := intention.New("refactor module", []string{"done"}, 0, "")
	tree := intention.NewTree(root)
	got := Status(tree)
	if !strings.Contains(got, "refactor module") || !strings.Contains(got, "1 intentions") {
		t.Fatalf("Status = %q", got)
	}
}
