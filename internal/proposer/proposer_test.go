package proposer

import (
	"context"
	"strings"
	"testing"

	"riva/internal/intention"
)

func TestParseProposalAction(t *testing.T) {
	response := "```json\n" +
		`{"action": {"type": "edit", "target": "utils.py", "content": "import json"}, "risk_hint": "low"}` +
		"\n```"

	p, err := ParseProposal(response)
	if err != nil {
		t.Fatalf("ParseProposal: %v", err)
	}
	if p.Kind != KindAction {
		t.Fatalf("kind = %s, want action", p.Kind)
	}
	if p.Action.Type != intention.ActionEdit || p.Action.Target != "utils.py" {
		t.Fatalf("action = %+v", p.Action)
	}
	if p.RiskHint != "low" {
		t.Fatalf("risk hint = %q, want low", p.RiskHint)
	}
}

func TestParseProposalDecomposition(t *testing.T) {
	response := `{"decompose": [{"what": "extract helper", "criteria": ["helper exists"]}, {"what": "update callers", "criteria": ["callers compile"]}]}`

	p, err := ParseProposal(response)
	if err != nil {
		t.Fatalf("ParseProposal: %v", err)
	}
	if p.Kind != KindDecomposition {
		t.Fatalf("kind = %s, want decomposition", p.Kind)
	}
	if len(p.Subtasks) != 2 || p.Subtasks[0].What != "extract helper" {
		t.Fatalf("subtasks = %+v", p.Subtasks)
	}
}

func TestParseProposalInvalidAction(t *testing.T) {
	response := `{"action": {"type": "edit", "content": "x = 1"}}`

	_, err := ParseProposal(response)
	if err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("expected invalid-action error, got %v", err)
	}
}

func TestParseProposalGarbage(t *testing.T) {
	if _, err := ParseProposal("not json at all"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseProposal(`{"note": "empty"}`); err == nil {
		t.Fatal("expected neither-action-nor-decompose error")
	}
}

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     VerdictOutcome
	}{
		{name: "pass", response: `{"outcome": "pass", "reason": "all criteria met"}`, want: VerdictPass},
		{name: "fail", response: `{"outcome": "fail", "reason": "missing test", "criterion": "tests pass"}`, want: VerdictFail},
		{name: "unclear", response: `{"outcome": "unclear", "reason": "cannot tell"}`, want: VerdictUnclear},
		{name: "unknown_maps_to_unclear", response: `{"outcome": "maybe", "reason": "?"}`, want: VerdictUnclear},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParseVerdict(tc.response)
			if err != nil {
				t.Fatalf("ParseVerdict: %v", err)
			}
			if p.Kind != KindVerdict || p.Verdict.Outcome != tc.want {
				t.Fatalf("verdict = %+v, want outcome %s", p.Verdict, tc.want)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	if got := StripFences("```json\n{\"a\":1}\n```"); got != `{"a":1}` {
		t.Fatalf("StripFences = %q", got)
	}
	if got := StripFences(`{"a":1}`); got != `{"a":1}` {
		t.Fatalf("StripFences plain = %q", got)
	}
}

func TestScriptedProposer(t *testing.T) {
	in := intention.New("goal", []string{"done"}, 0, "")
	s := NewScriptedProposer(
		ActionProposal(intention.Action{Type: intention.ActionCommand, Content: "ls"}, "low"),
		VerdictProposal(VerdictPass, "ok"),
	)

	p1, err := s.Propose(context.Background(), in, "", PurposeAct)
	if err != nil || p1.Kind != KindAction {
		t.Fatalf("first propose = %+v, %v", p1, err)
	}
	p2, err := s.Propose(context.Background(), in, "", PurposeJudge)
	if err != nil || p2.Verdict.Outcome != VerdictPass {
		t.Fatalf("second propose = %+v, %v", p2, err)
	}
	if _, err := s.Propose(context.Background(), in, "", PurposeAct); err == nil {
		t.Fatal("exhausted proposer should error")
	}
	if len(s.Calls) != 3 {
		t.Fatalf("calls = %v", s.Calls)
	}
}
