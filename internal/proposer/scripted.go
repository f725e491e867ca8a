package proposer

import (
	"context"
	"fmt"
	"sync"

	"riva/internal/intention"
)

// ScriptedProposer replays a fixed sequence of proposals. Used by tests and
// by offline harness runs where no provider is configured.
type ScriptedProposer struct {
	mu    sync.Mutex
	queue []*Proposal

	// Calls records every (intention id, purpose) pair, in order.
	Calls []string
}

// NewScriptedProposer creates a proposer that returns the given proposals in
// order and errors once exhausted.
func NewScriptedProposer(proposals ...*Proposal) *ScriptedProposer {
	return &ScriptedProposer{queue: proposals}
}

// Push appends another proposal to the script.
func (s *ScriptedProposer) Push(p *Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, p)
}

// Propose pops the next scripted proposal.
func (s *ScriptedProposer) Propose(ctx context.Context, in *intention.Intention, workContext string, purpose Purpose) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, fmt.Sprintf("%s:%s", in.ID, purpose))

	if len(s.queue) == 0 {
		return nil, fmt.Errorf("scripted proposer exhausted after %d calls", len(s.Calls))
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next, nil
}

// ActionProposal builds a scripted action proposal.
func ActionProposal(a intention.Action, riskHint string) *Proposal {
	return &Proposal{Kind: KindAction, Action: &a, RiskHint: riskHint}
}

// DecompositionProposal builds a scripted decomposition proposal.
func DecompositionProposal(subtasks ...Subtask) *Proposal {
	return &Proposal{Kind: KindDecomposition, Subtasks: subtasks}
}

// VerdictProposal builds a scripted verdict proposal.
func VerdictProposal(outcome VerdictOutcome, reason string) *Proposal {
	return &Proposal{Kind: KindVerdict, Verdict: &Verdict{Outcome: outcome, Reason: reason}}
}
