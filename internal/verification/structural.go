package verification

import (
	"context"

	"riva/internal/intention"
)

// structuralLayer assembles and statically verifies an action's structural
// IR when one is present. Without an IR (or without a verifier hook) the
// layer yields the non-blocking pass-through.
type structuralLayer struct {
	verifier StructuralVerifier
}

func (l *structuralLayer) Tag() intention.Layer {
	return intention.LayerStructural
}

func (l *structuralLayer) Run(ctx context.Context, action intention.Action, vctx *Context) intention.LayerResult {
	if action.IR == nil {
		return intention.LayerResult{
			Layer:      intention.LayerStructural,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "no structural IR",
		}
	}
	if l.verifier == nil {
		return intention.LayerResult{
			Layer:      intention.LayerStructural,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "no structural verifier configured",
		}
	}

	if err := l.verifier.VerifyIR(ctx, action.IR); err != nil {
		return intention.LayerResult{
			Layer:      intention.LayerStructural,
			Passed:     false,
			Confidence: 1.0,
			Reason:     "structural verification rejected the IR",
			Kind:       intention.FailureStructural,
			Details:    map[string]string{"error": err.Error(), "ir": action.IR.Text},
		}
	}

	return intention.LayerResult{
		Layer:      intention.LayerStructural,
		Passed:     true,
		Confidence: 1.0,
		Reason:     "structural IR verified",
	}
}
