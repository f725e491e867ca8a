package intention

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// INTENTION - A node in the recursion tree
// =============================================================================

// Status is the lifecycle state of an intention.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusDecomposed Status = "decomposed"
	StatusVerified   Status = "verified"  // Terminal pass
	StatusFailed     Status = "failed"    // Terminal fail
	StatusAbandoned  Status = "abandoned" // Terminal fail (cancelled)
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}

// CycleRecord captures one Recognize-Intend-Verify-Act cycle against an
// intention. Records are append-only; the owning intention holds the trace.
type CycleRecord struct {
	Cycle     int
	Action    Action
	Risk      ActionRisk
	Decision  string // verify_now / defer / skip
	Report    *VerificationReport
	Applied   bool
	Err       string
	StartedAt time.Time
	Duration  time.Duration
}

// Intention is a node in the recursion tree. Mutated only by the owning
// engine; child references are id-valued (arena pattern).
type Intention struct {
	ID        string
	What      string   // Goal description
	Criteria  []string // Ordered acceptance criteria
	Status    Status
	Depth     int
	ParentID  string
	ChildIDs  []string
	CreatedAt time.Time
	Trace     []CycleRecord

	failure string // Aggregate failure reason once terminal-fail
}

// New creates a pending intention with a fresh id.
func New(what string, criteria []string, depth int, parentID string) *Intention {
	return &Intention{
		ID:        "intent-" + uuid.NewString()[:8],
		What:      what,
		Criteria:  append([]string(nil), criteria...),
		Status:    StatusPending,
		Depth:     depth,
		ParentID:  parentID,
		CreatedAt: time.Now(),
	}
}

// Transition moves the intention to a new status, enforcing that terminal
// states are never left and that Decomposed requires at least one child.
func (in *Intention) Transition(to Status) error {
	if in.Status.IsTerminal() {
		return fmt.Errorf("intention %s is terminal (%s), cannot move to %s", in.ID, in.Status, to)
	}
	if to == StatusDecomposed && len(in.ChildIDs) == 0 {
		return fmt.Errorf("intention %s cannot decompose without children", in.ID)
	}
	in.Status = to
	return nil
}

// RecordCycle appends a cycle record to the trace.
func (in *Intention) RecordCycle(rec CycleRecord) {
	in.Trace = append(in.Trace, rec)
}

// CyclesUsed returns the number of recorded cycles.
func (in *Intention) CyclesUsed() int {
	return len(in.Trace)
}

// SetFailure attaches the aggregate failure reason.
func (in *Intention) SetFailure(reason string) {
	in.failure = reason
}

// Failure returns the aggregate failure reason, if any.
func (in *Intention) Failure() string {
	return in.failure
}

// =============================================================================
// TREE - Arena of intentions keyed by stable id
// =============================================================================

// Tree owns every intention of a session. Child references are ids, so deep
// object graphs never form; traversal goes through the arena.
type Tree struct {
	nodes  map[string]*Intention
	rootID string
}

// NewTree creates a tree with the given root intention.
func NewTree(root *Intention) *Tree {
	return &Tree{
		nodes:  map[string]*Intention{root.ID: root},
		rootID: root.ID,
	}
}

// Root returns the root intention.
func (t *Tree) Root() *Intention {
	return t.nodes[t.rootID]
}

// Get looks up an intention by id.
func (t *Tree) Get(id string) (*Intention, bool) {
	in, ok := t.nodes[id]
	return in, ok
}

// AddChild creates a child intention under the given parent and registers it
// in order.
func (t *Tree) AddChild(parentID, what string, criteria []string) (*Intention, error) {
	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, fmt.Errorf("unknown parent intention %s", parentID)
	}
	child := New(what, criteria, parent.Depth+1, parentID)
	t.nodes[child.ID] = child
	parent.ChildIDs = append(parent.ChildIDs, child.ID)
	return child, nil
}

// Children returns the ordered children of an intention.
func (t *Tree) Children(id string) []*Intention {
	in, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Intention, 0, len(in.ChildIDs))
	for _, cid := range in.ChildIDs {
		if c, ok := t.nodes[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Ancestors returns the chain from the intention's parent up to the root.
func (t *Tree) Ancestors(id string) []*Intention {
	var out []*Intention
	in, ok := t.nodes[id]
	if !ok {
		return nil
	}
	for in.ParentID != "" {
		parent, ok := t.nodes[in.ParentID]
		if !ok {
			break
		}
		out = append(out, parent)
		in = parent
	}
	return out
}

// Size returns the number of intentions in the arena.
func (t *Tree) Size() int {
	return len(t.nodes)
}
