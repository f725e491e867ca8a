// Package sandbox defines the sandbox capability the engine consumes: read
// files, apply actions with an all-or-nothing guarantee, snapshot/restore at
// intention boundaries, and run bounded test subsets. A local workspace
// implementation is provided; errors surface as failed AppliedChange values,
// never as panics that cross the engine boundary.
package sandbox

import (
	"context"
	"time"

	"riva/internal/intention"
)

// AppliedChange is the outcome of applying one action.
type AppliedChange struct {
	Success bool
	Diff    string // Human-readable change summary (also fed to the batcher)
	Output  string // Command stdout+stderr, when the action was a command
	Error   string // Failure reason when Success is false
}

// TestOutcome is the result of one bounded test run.
type TestOutcome struct {
	Passed     bool
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMS int64
	TimedOut   bool
}

// Sandbox is the capability contract. Apply is all-or-nothing per action;
// Snapshot/Restore bracket intention boundaries.
type Sandbox interface {
	// Root returns the workspace root path.
	Root() string

	// Read returns the content of a file by path relative to the root.
	Read(path string) (string, error)

	// Apply performs one Create/Edit/Delete/Command action.
	Apply(ctx context.Context, action intention.Action) AppliedChange

	// Snapshot marks the current state and returns its id.
	Snapshot() (string, error)

	// Restore rolls the workspace back to a snapshot.
	Restore(snapshotID string) error

	// RunTests executes the test subset covering the given paths.
	RunTests(ctx context.Context, paths []string, timeout time.Duration) TestOutcome
}
