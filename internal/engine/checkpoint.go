package engine

import (
	"context"

	"riva/internal/intention"
)

// CheckpointDecision is the confirmation boundary's answer for one
// High-risk action.
type CheckpointDecision string

const (
	CheckpointApprove CheckpointDecision = "approve"
	CheckpointReject  CheckpointDecision = "reject"
	CheckpointModify  CheckpointDecision = "modify"
)

// CheckpointResult carries the decision and, for Modify, the replacement.
type CheckpointResult struct {
	Decision    CheckpointDecision
	Replacement *intention.Action // Set when Decision == CheckpointModify
}

// Checkpoint is the human-confirmation capability consulted before High-risk
// actions when the engine is configured to require approval. Collaborators
// own the UX; the core only consumes the decision.
type Checkpoint interface {
	Ask(ctx context.Context, action intention.Action, reason string) (CheckpointResult, error)
}

// AutoApprove is the default checkpoint for unattended runs.
type AutoApprove struct{}

// Ask implements Checkpoint.
func (AutoApprove) Ask(ctx context.Context, action intention.Action, reason string) (CheckpointResult, error) {
	return CheckpointResult{Decision: CheckpointApprove}, nil
}
