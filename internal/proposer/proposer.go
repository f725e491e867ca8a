package proposer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"riva/internal/intention"
	"riva/internal/logging"
)

// Purpose identifies why the engine is calling the LLM. Reported to metrics.
type Purpose string

const (
	PurposeDecompose Purpose = "decompose"
	PurposeAct       Purpose = "act"
	PurposeJudge     Purpose = "judge"
)

// Kind tags the proposal payload.
type Kind string

const (
	KindDecomposition Kind = "decomposition"
	KindAction        Kind = "action"
	KindVerdict       Kind = "verdict"
)

// Subtask is one child goal in a decomposition proposal.
type Subtask struct {
	What     string   `json:"what"`
	Criteria []string `json:"criteria"`
}

// VerdictOutcome is the judge's three-valued answer.
type VerdictOutcome string

const (
	VerdictPass    VerdictOutcome = "pass"
	VerdictFail    VerdictOutcome = "fail"
	VerdictUnclear VerdictOutcome = "unclear"
)

// Verdict is the judge's assessment of an artifact against criteria.
type Verdict struct {
	Outcome   VerdictOutcome `json:"outcome"`
	Reason    string         `json:"reason"`
	Criterion string         `json:"criterion,omitempty"` // The criterion missed, if identifiable
}

// Proposal is the tagged result of one proposer call.
type Proposal struct {
	Kind      Kind
	Subtasks  []Subtask         // Set when Kind == KindDecomposition
	Action    *intention.Action // Set when Kind == KindAction
	RiskHint  string            // Proposer's own risk guess: low/medium/high
	Verdict   *Verdict          // Set when Kind == KindVerdict
	ElapsedMS int64
}

// Proposer is the capability the engine consumes to obtain the next action,
// a decomposition, or a judgment.
type Proposer interface {
	Propose(ctx context.Context, in *intention.Intention, workContext string, purpose Purpose) (*Proposal, error)
}

// LLMProposer implements Proposer on top of a Client.
type LLMProposer struct {
	client Client
}

// NewLLMProposer wraps a client.
func NewLLMProposer(client Client) *LLMProposer {
	return &LLMProposer{client: client}
}

const actSystemPrompt = `You are driving one step of a code-change loop. Given a goal and its
acceptance criteria, respond with JSON only, in one of two shapes:

To act:
{"action": {"type": "create|edit|delete|command|query", "target": "path or empty", "content": "file content or command"}, "risk_hint": "low|medium|high"}

To break the goal into smaller steps (only when the goal genuinely needs it):
{"decompose": [{"what": "subgoal", "criteria": ["assertion", ...]}, ...]}

Only return the JSON object, no other text.`

const judgeSystemPrompt = `You judge whether a produced artifact satisfies acceptance criteria.
Respond with JSON only:
{"outcome": "pass|fail|unclear", "reason": "short explanation", "criterion": "the first criterion not met, or empty"}
Only return the JSON object, no other text.`

// Propose sends one request and parses the tagged result.
func (p *LLMProposer) Propose(ctx context.Context, in *intention.Intention, workContext string, purpose Purpose) (*Proposal, error) {
	if p.client == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}

	start := time.Now()

	var systemPrompt, userPrompt string
	switch purpose {
	case PurposeJudge:
		systemPrompt = judgeSystemPrompt
		userPrompt = fmt.Sprintf("## Acceptance Criteria\n%s\n\n## Produced Artifact\n%s",
			strings.Join(in.Criteria, "\n"), workContext)
	case PurposeDecompose:
		systemPrompt = actSystemPrompt
		userPrompt = fmt.Sprintf("## Goal\n%s\n\n## Acceptance Criteria\n%s\n\n## Context\n%s\n\nThis goal should be decomposed into ordered subgoals.",
			in.What, strings.Join(in.Criteria, "\n"), workContext)
	default:
		systemPrompt = actSystemPrompt
		userPrompt = fmt.Sprintf("## Goal\n%s\n\n## Acceptance Criteria\n%s\n\n## Context\n%s",
			in.What, strings.Join(in.Criteria, "\n"), workContext)
	}

	response, err := p.client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("proposer call failed: %w", err)
	}

	var proposal *Proposal
	if purpose == PurposeJudge {
		proposal, err = ParseVerdict(response)
	} else {
		proposal, err = ParseProposal(response)
	}
	if err != nil {
		return nil, err
	}
	proposal.ElapsedMS = time.Since(start).Milliseconds()

	logging.Proposer("purpose=%s kind=%s elapsed=%dms", purpose, proposal.Kind, proposal.ElapsedMS)
	return proposal, nil
}

// ParseProposal parses an act/decompose JSON reply into a tagged Proposal.
func ParseProposal(response string) (*Proposal, error) {
	cleaned := StripFences(response)

	var raw struct {
		Action *struct {
			Type    string `json:"type"`
			Target  string `json:"target"`
			Content string `json:"content"`
		} `json:"action"`
		RiskHint  string    `json:"risk_hint"`
		Decompose []Subtask `json:"decompose"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse proposal JSON: %w", err)
	}

	if len(raw.Decompose) > 0 {
		return &Proposal{Kind: KindDecomposition, Subtasks: raw.Decompose}, nil
	}

	if raw.Action != nil {
		action := intention.Action{
			Type:    intention.ActionType(strings.ToLower(raw.Action.Type)),
			Target:  raw.Action.Target,
			Content: raw.Action.Content,
		}
		if err := action.Validate(); err != nil {
			return nil, fmt.Errorf("proposed action invalid: %w", err)
		}
		return &Proposal{Kind: KindAction, Action: &action, RiskHint: strings.ToLower(raw.RiskHint)}, nil
	}

	return nil, fmt.Errorf("proposal JSON has neither action nor decompose")
}

// ParseVerdict parses a judge JSON reply into a verdict Proposal. Unknown
// outcomes map to unclear.
func ParseVerdict(response string) (*Proposal, error) {
	cleaned := StripFences(response)

	var v Verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("failed to parse verdict JSON: %w", err)
	}
	switch v.Outcome {
	case VerdictPass, VerdictFail, VerdictUnclear:
	default:
		v.Outcome = VerdictUnclear
	}
	return &Proposal{Kind: KindVerdict, Verdict: &v}, nil
}
