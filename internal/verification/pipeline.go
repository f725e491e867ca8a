// Package verification implements the layered verification pipeline:
// structural, syntax, semantic, behavioral, and intent gates run in order
// against a proposed action. The pipeline short-circuits on the first failing
// layer whose confidence exceeds the blocking threshold; lower-confidence
// failures are advisory and never halt execution.
package verification

import (
	"context"
	"fmt"

	"riva/internal/config"
	"riva/internal/intention"
	"riva/internal/logging"
	"riva/internal/lsp"
	"riva/internal/proposer"
	"riva/internal/sandbox"
)

// Context carries everything a layer may need beyond the action itself.
// Layers are stateless; they read from this and return a result.
type Context struct {
	Intention *intention.Intention
	Sandbox   sandbox.Sandbox
	LSP       *lsp.Manager
	Judge     proposer.Proposer

	// Produced is the artifact or result text the action yielded, available
	// to post-state layers (behavioral ran the suite, intent judges this).
	Produced string

	// TouchedPaths are the files affected by the action, for behavioral
	// test selection.
	TouchedPaths []string
}

// StructuralVerifier assembles and statically verifies a structural IR.
// Payload semantics belong to the sandbox/proposer contract, so the hook is
// optional; without it the structural layer passes through.
type StructuralVerifier interface {
	VerifyIR(ctx context.Context, ir *intention.StructuralIR) error
}

// Layer is one pipeline gate.
type Layer interface {
	Tag() intention.Layer
	Run(ctx context.Context, action intention.Action, vctx *Context) intention.LayerResult
}

// PreApplyLayers are the gates that run against the proposed action before
// the sandbox applies it.
var PreApplyLayers = []intention.Layer{intention.LayerStructural, intention.LayerSyntax, intention.LayerSemantic}

// PostApplyLayers are the gates that need the post-apply state.
var PostApplyLayers = []intention.Layer{intention.LayerBehavioral, intention.LayerIntent}

// Pipeline is the fixed ordered sequence of verification layers.
type Pipeline struct {
	layers                 []Layer
	blockingThreshold      float64
	skipBehavioralForQuery bool
	skipIntentForQuery     bool
}

// NewPipeline builds the standard five-layer pipeline.
func NewPipeline(cfg config.PipelineConfig, structural StructuralVerifier) *Pipeline {
	threshold := cfg.BlockingThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Pipeline{
		layers: []Layer{
			&structuralLayer{verifier: structural},
			&syntaxLayer{},
			&semanticLayer{},
			&behavioralLayer{testTimeout: config.ParseDuration(cfg.TestTimeout, 0)},
			&intentLayer{},
		},
		blockingThreshold:      threshold,
		skipBehavioralForQuery: cfg.SkipBehavioralForQuery,
		skipIntentForQuery:     cfg.SkipIntentForQuery,
	}
}

// BlockingThreshold returns the confidence above which a failure halts.
func (p *Pipeline) BlockingThreshold() float64 {
	return p.blockingThreshold
}

// Run executes every layer in order. Equivalent to RunStages with all tags.
func (p *Pipeline) Run(ctx context.Context, action intention.Action, vctx *Context) intention.VerificationReport {
	all := make([]intention.Layer, 0, len(p.layers))
	for _, layer := range p.layers {
		all = append(all, layer.Tag())
	}
	return p.RunStages(ctx, action, vctx, all)
}

// RunStages executes the named layers in pipeline order, short-circuiting on
// the first blocking failure. Infrastructure panics inside a layer are
// translated into Infrastructure-kind failures at this edge.
func (p *Pipeline) RunStages(ctx context.Context, action intention.Action, vctx *Context, stages []intention.Layer) intention.VerificationReport {
	wanted := make(map[intention.Layer]bool, len(stages))
	for _, s := range stages {
		wanted[s] = true
	}

	report := intention.VerificationReport{Passed: true}
	for _, layer := range p.layers {
		if !wanted[layer.Tag()] {
			continue
		}
		if p.skipForQuery(layer.Tag(), action) {
			continue
		}

		result := p.runLayer(ctx, layer, action, vctx)
		report.Results = append(report.Results, result)

		if result.Passed {
			continue
		}

		if result.Confidence > p.blockingThreshold {
			// Blocking failure: halt and name the layer.
			report.Passed = false
			report.HaltingLayer = result.Layer
			report.HaltingReason = result.Reason
			report.HaltingKind = result.Kind
			logging.Pipeline("halted at %s: %s", result.Layer, result.Reason)
			return report
		}
		// Advisory failure: surfaced in the report, execution continues.
		logging.Pipeline("advisory failure at %s (confidence %.2f): %s", result.Layer, result.Confidence, result.Reason)
	}

	return report
}

// runLayer executes one layer, converting panics into infrastructure results.
func (p *Pipeline) runLayer(ctx context.Context, layer Layer, action intention.Action, vctx *Context) (result intention.LayerResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.PipelineError("layer %s panicked: %v", layer.Tag(), r)
			result = intention.LayerResult{
				Layer:      layer.Tag(),
				Passed:     false,
				Confidence: 1.0,
				Reason:     fmt.Sprintf("layer crashed: %v", r),
				Kind:       intention.FailureInfrastructure,
			}
		}
	}()

	timer := logging.StartTimer(logging.CategoryPipeline, string(layer.Tag()))
	defer timer.Stop()
	return layer.Run(ctx, action, vctx)
}

// skipForQuery applies the configured exemptions for query actions.
func (p *Pipeline) skipForQuery(tag intention.Layer, action intention.Action) bool {
	if action.Type != intention.ActionQuery {
		return false
	}
	switch tag {
	case intention.LayerBehavioral:
		return p.skipBehavioralForQuery
	case intention.LayerIntent:
		return p.skipIntentForQuery
	}
	return false
}

// MergeReports combines a pre-apply and a post-apply report into the cycle's
// single record: results concatenate, the verdict is the conjunction, and the
// halting fields come from the first failing report.
func MergeReports(pre, post intention.VerificationReport) intention.VerificationReport {
	merged := intention.VerificationReport{
		Results: append(append([]intention.LayerResult(nil), pre.Results...), post.Results...),
		Passed:  pre.Passed && post.Passed,
	}
	switch {
	case !pre.Passed:
		merged.HaltingLayer = pre.HaltingLayer
		merged.HaltingReason = pre.HaltingReason
		merged.HaltingKind = pre.HaltingKind
	case !post.Passed:
		merged.HaltingLayer = post.HaltingLayer
		merged.HaltingReason = post.HaltingReason
		merged.HaltingKind = post.HaltingKind
	}
	return merged
}
