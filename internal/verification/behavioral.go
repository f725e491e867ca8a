package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"riva/internal/intention"
	"riva/internal/logging"
)

// behavioralLayer executes the project's test-suite subset covering the files
// the action touched, within a time budget. Any non-zero exit blocks.
type behavioralLayer struct {
	testTimeout time.Duration
}

func (l *behavioralLayer) Tag() intention.Layer {
	return intention.LayerBehavioral
}

func (l *behavioralLayer) Run(ctx context.Context, action intention.Action, vctx *Context) intention.LayerResult {
	if vctx == nil || vctx.Sandbox == nil {
		return intention.LayerResult{
			Layer:      intention.LayerBehavioral,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "no sandbox available",
		}
	}

	paths := vctx.TouchedPaths
	if len(paths) == 0 && action.Target != "" {
		paths = []string{action.Target}
	}
	if len(paths) == 0 {
		return intention.LayerResult{
			Layer:      intention.LayerBehavioral,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "no files touched",
		}
	}

	outcome := vctx.Sandbox.RunTests(ctx, paths, l.testTimeout)
	if outcome.TimedOut {
		logging.PipelineWarn("behavioral: test run timed out")
		return intention.LayerResult{
			Layer:      intention.LayerBehavioral,
			Passed:     false,
			Confidence: 1.0,
			Reason:     "timeout",
			Kind:       intention.FailureInfrastructure,
			Details: map[string]string{
				"timeout": l.testTimeout.String(),
				"paths":   strings.Join(paths, ","),
			},
		}
	}

	if !outcome.Passed {
		return intention.LayerResult{
			Layer:      intention.LayerBehavioral,
			Passed:     false,
			Confidence: 1.0,
			Reason:     fmt.Sprintf("tests failed (exit %d)", outcome.ExitCode),
			Kind:       intention.FailureBehavioral,
			Details: map[string]string{
				"exit_code": fmt.Sprintf("%d", outcome.ExitCode),
				"stdout":    tail(outcome.Stdout, 2000),
				"stderr":    tail(outcome.Stderr, 2000),
			},
		}
	}

	return intention.LayerResult{
		Layer:      intention.LayerBehavioral,
		Passed:     true,
		Confidence: 1.0,
		Reason:     fmt.Sprintf("tests passed in %dms", outcome.DurationMS),
	}
}

// tail keeps the last max bytes of a string: test failures live at the end.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
