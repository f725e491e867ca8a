package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"riva/internal/intention"
	"riva/internal/logging"
)

// undoEntry records how to reverse one file mutation.
type undoEntry struct {
	path    string
	existed bool
	content []byte
}

// Workspace is the local Sandbox implementation. File mutations are recorded
// in an undo journal so Restore can roll back to any snapshot mark; command
// actions are gated by an allowed-binary list.
type Workspace struct {
	mu              sync.Mutex
	root            string
	allowedBinaries map[string]bool
	commandTimeout  time.Duration

	journal   []undoEntry
	snapshots map[string]int // Snapshot id -> journal length at mark
}

// NewWorkspace creates a sandbox rooted at the given directory.
func NewWorkspace(root string, allowedBinaries []string, commandTimeout time.Duration) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}

	allowed := make(map[string]bool, len(allowedBinaries))
	for _, bin := range allowedBinaries {
		allowed[bin] = true
	}
	if commandTimeout <= 0 {
		commandTimeout = 30 * time.Second
	}

	return &Workspace{
		root:            abs,
		allowedBinaries: allowed,
		commandTimeout:  commandTimeout,
		snapshots:       make(map[string]int),
	}, nil
}

// Root returns the workspace root path.
func (w *Workspace) Root() string {
	return w.root
}

// resolve joins a relative path under the root and rejects escapes.
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	full := filepath.Join(w.root, path)
	rel, err := filepath.Rel(w.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return full, nil
}

// Read returns the content of a file by path relative to the root.
func (w *Workspace) Read(path string) (string, error) {
	full, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// Apply performs one action with an all-or-nothing guarantee. Failures are
// reported in the returned AppliedChange, never as panics.
func (w *Workspace) Apply(ctx context.Context, action intention.Action) AppliedChange {
	if err := action.Validate(); err != nil {
		return AppliedChange{Error: err.Error()}
	}

	switch action.Type {
	case intention.ActionCreate:
		return w.applyWrite(action, true)
	case intention.ActionEdit:
		return w.applyWrite(action, false)
	case intention.ActionDelete:
		return w.applyDelete(action)
	case intention.ActionCommand:
		return w.applyCommand(ctx, action)
	case intention.ActionQuery:
		// Queries never mutate the sandbox.
		return AppliedChange{Success: true, Diff: "query (no change)"}
	}
	return AppliedChange{Error: fmt.Sprintf("unsupported action type %s", action.Type)}
}

func (w *Workspace) applyWrite(action intention.Action, create bool) AppliedChange {
	full, err := w.resolve(action.Target)
	if err != nil {
		return AppliedChange{Error: err.Error()}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	old, readErr := os.ReadFile(full)
	existed := readErr == nil
	if create && existed {
		return AppliedChange{Error: fmt.Sprintf("create target %s already exists", action.Target)}
	}
	if !create && !existed {
		return AppliedChange{Error: fmt.Sprintf("edit target %s does not exist", action.Target)}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return AppliedChange{Error: fmt.Sprintf("failed to create parent directory: %v", err)}
	}
	if err := os.WriteFile(full, []byte(action.Content), 0644); err != nil {
		return AppliedChange{Error: fmt.Sprintf("failed to write %s: %v", action.Target, err)}
	}

	w.journal = append(w.journal, undoEntry{path: action.Target, existed: existed, content: old})

	verb := "edit applied to"
	if create {
		verb = "created"
	}
	diff := fmt.Sprintf("%s %s (%d -> %d lines, hash %s)",
		verb, action.Target, countLines(old), countLines([]byte(action.Content)), shortHash(action.Content))
	logging.Sandbox("%s", diff)
	return AppliedChange{Success: true, Diff: diff}
}

func (w *Workspace) applyDelete(action intention.Action) AppliedChange {
	full, err := w.resolve(action.Target)
	if err != nil {
		return AppliedChange{Error: err.Error()}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	old, readErr := os.ReadFile(full)
	if readErr != nil {
		return AppliedChange{Error: fmt.Sprintf("delete target %s does not exist", action.Target)}
	}
	if err := os.Remove(full); err != nil {
		return AppliedChange{Error: fmt.Sprintf("failed to delete %s: %v", action.Target, err)}
	}

	w.journal = append(w.journal, undoEntry{path: action.Target, existed: true, content: old})

	diff := fmt.Sprintf("deleted %s (%d lines)", action.Target, countLines(old))
	logging.Sandbox("%s", diff)
	return AppliedChange{Success: true, Diff: diff}
}

func (w *Workspace) applyCommand(ctx context.Context, action intention.Action) AppliedChange {
	fields := strings.Fields(action.Content)
	if len(fields) == 0 {
		return AppliedChange{Error: "empty command"}
	}
	binary := fields[0]
	if !w.allowedBinaries[binary] {
		return AppliedChange{Error: fmt.Sprintf("binary %q is not on the allowed list", binary)}
	}

	runCtx, cancel := context.WithTimeout(ctx, w.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, fields[1:]...)
	cmd.Dir = w.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n" + stderr.String()
	}

	if runCtx.Err() == context.DeadlineExceeded {
		logging.SandboxError("command timed out after %v: %s", elapsed, action.Content)
		return AppliedChange{Output: output, Error: fmt.Sprintf("command timed out after %v", w.commandTimeout)}
	}
	if err != nil {
		logging.Sandbox("command failed (%v): %s", err, action.Content)
		return AppliedChange{Output: output, Error: fmt.Sprintf("command failed: %v", err)}
	}

	logging.Sandbox("command ok in %v: %s", elapsed, action.Content)
	return AppliedChange{
		Success: true,
		Diff:    fmt.Sprintf("command done: %s", action.Content),
		Output:  output,
	}
}

// Snapshot marks the current state and returns its id.
func (w *Workspace) Snapshot() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := "snap-" + uuid.NewString()[:8]
	w.snapshots[id] = len(w.journal)
	logging.SandboxDebug("snapshot %s at journal mark %d", id, len(w.journal))
	return id, nil
}

// Restore rolls the workspace back to a snapshot by replaying the undo
// journal in reverse down to the snapshot's mark.
func (w *Workspace) Restore(snapshotID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	mark, ok := w.snapshots[snapshotID]
	if !ok {
		return fmt.Errorf("unknown snapshot %s", snapshotID)
	}

	for i := len(w.journal) - 1; i >= mark; i-- {
		entry := w.journal[i]
		full, err := w.resolve(entry.path)
		if err != nil {
			return err
		}
		if entry.existed {
			if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
				return fmt.Errorf("restore failed for %s: %w", entry.path, err)
			}
			if err := os.WriteFile(full, entry.content, 0644); err != nil {
				return fmt.Errorf("restore failed for %s: %w", entry.path, err)
			}
		} else {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("restore failed for %s: %w", entry.path, err)
			}
		}
	}
	w.journal = w.journal[:mark]

	// Later snapshots are now invalid.
	for id, m := range w.snapshots {
		if m > mark {
			delete(w.snapshots, id)
		}
	}

	logging.Sandbox("restored snapshot %s", snapshotID)
	return nil
}

// RunTests executes the test subset covering the given paths. The runner is
// chosen by file extension: pytest for Python, go test for Go. An empty or
// unrecognized path set yields a passing no-op outcome.
func (w *Workspace) RunTests(ctx context.Context, paths []string, timeout time.Duration) TestOutcome {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	args := w.testCommand(paths)
	if args == nil {
		return TestOutcome{Passed: true}
	}
	if !w.allowedBinaries[args[0]] {
		return TestOutcome{
			Passed: false,
			Stderr: fmt.Sprintf("test runner %q is not on the allowed list", args[0]),
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = w.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	outcome := TestOutcome{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: elapsed.Milliseconds(),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
		outcome.ExitCode = -1
		logging.SandboxError("test run timed out after %v", timeout)
		return outcome
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		outcome.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		outcome.ExitCode = -1
		outcome.Stderr += "\n" + err.Error()
	}
	outcome.Passed = err == nil

	logging.Sandbox("test run: passed=%v exit=%d in %v", outcome.Passed, outcome.ExitCode, elapsed)
	return outcome
}

// testCommand picks a runner for the test subset covering the touched
// paths. Paths with no covering test files yield nil (no-op pass).
func (w *Workspace) testCommand(paths []string) []string {
	var pyTests []string
	seen := make(map[string]bool)
	goTest := false

	for _, p := range paths {
		switch {
		case strings.HasSuffix(p, "_test.go"):
			goTest = true
		case filepath.Ext(p) == ".go":
			matches, _ := filepath.Glob(filepath.Join(w.root, filepath.Dir(p), "*_test.go"))
			if len(matches) > 0 {
				goTest = true
			}
		case filepath.Ext(p) == ".py":
			base := filepath.Base(p)
			if strings.HasPrefix(base, "test_") {
				if !seen[p] {
					seen[p] = true
					pyTests = append(pyTests, p)
				}
				continue
			}
			candidate := filepath.Join(filepath.Dir(p), "test_"+base)
			if _, err := os.Stat(filepath.Join(w.root, candidate)); err == nil && !seen[candidate] {
				seen[candidate] = true
				pyTests = append(pyTests, candidate)
			}
		}
	}

	if len(pyTests) > 0 {
		return append([]string{"pytest", "-x", "-q"}, pyTests...)
	}
	if goTest {
		return []string{"go", "test", "./..."}
	}
	return nil
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	return bytes.Count(data, []byte("\n")) + 1
}

func shortHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:4])
}
