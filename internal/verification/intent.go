package verification

import (
	"context"

	"riva/internal/intention"
	"riva/internal/logging"
	"riva/internal/proposer"
)

// intentLayer compares the produced artifact against the intention's
// acceptance criteria via an LLM judge. Unclear counts as a 0.5-confidence
// pass; so does a missing judge or an empty criteria list.
type intentLayer struct{}

func (l *intentLayer) Tag() intention.Layer {
	return intention.LayerIntent
}

func (l *intentLayer) Run(ctx context.Context, action intention.Action, vctx *Context) intention.LayerResult {
	if vctx == nil || vctx.Intention == nil || len(vctx.Intention.Criteria) == 0 {
		return intention.LayerResult{
			Layer:      intention.LayerIntent,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "no acceptance criteria to judge",
		}
	}
	if vctx.Judge == nil {
		return intention.LayerResult{
			Layer:      intention.LayerIntent,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "no judge configured",
		}
	}

	produced := vctx.Produced
	if produced == "" {
		produced = action.Content
	}

	proposal, err := vctx.Judge.Propose(ctx, vctx.Intention, produced, proposer.PurposeJudge)
	if err != nil {
		// Judge trouble is infrastructure, advisory at this confidence.
		logging.PipelineWarn("intent judge failed: %v", err)
		return intention.LayerResult{
			Layer:      intention.LayerIntent,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "judge unavailable",
			Details:    map[string]string{"error": err.Error()},
		}
	}
	if proposal.Kind != proposer.KindVerdict || proposal.Verdict == nil {
		return intention.LayerResult{
			Layer:      intention.LayerIntent,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "judge returned no verdict",
		}
	}

	verdict := proposal.Verdict
	switch verdict.Outcome {
	case proposer.VerdictPass:
		return intention.LayerResult{
			Layer:      intention.LayerIntent,
			Passed:     true,
			Confidence: 0.9,
			Reason:     "acceptance criteria satisfied",
		}
	case proposer.VerdictFail:
		details := map[string]string{"reason": verdict.Reason}
		if verdict.Criterion != "" {
			details["criterion_missed"] = verdict.Criterion
		}
		return intention.LayerResult{
			Layer:      intention.LayerIntent,
			Passed:     false,
			Confidence: 0.9,
			Reason:     verdict.Reason,
			Kind:       intention.FailureIntent,
			Details:    details,
		}
	default:
		// Unclear counts as pass with reduced confidence.
		return intention.LayerResult{
			Layer:      intention.LayerIntent,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "judge verdict unclear",
		}
	}
}
