package intention

import (
	"strings"
	"testing"
)

func TestActionValidate(t *testing.T) {
	cases := []struct {
		name    string
		action  Action
		wantErr string
	}{
		{name: "create_ok", action: Action{Type: ActionCreate, Target: "a.py", Content: "x = 1"}},
		{name: "create_no_target", action: Action{Type: ActionCreate, Content: "x = 1"}, wantErr: "requires a target"},
		{name: "edit_no_content", action: Action{Type: ActionEdit, Target: "a.py"}, wantErr: "non-empty content"},
		{name: "delete_ok", action: Action{Type: ActionDelete, Target: "a.py"}},
		{name: "command_ok", action: Action{Type: ActionCommand, Content: "ls"}},
		{name: "command_whitespace", action: Action{Type: ActionCommand, Content: "   "}, wantErr: "non-empty content"},
		{name: "query_empty_ok", action: Action{Type: ActionQuery}},
		{name: "unknown_type", action: Action{Type: "mystery"}, wantErr: "unknown action type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestStatusTerminality(t *testing.T) {
	in := New("add import json", []string{"utils.py imports json"}, 0, "")

	if in.Status != StatusPending {
		t.Fatalf("new intention status = %s, want pending", in.Status)
	}
	if err := in.Transition(StatusActive); err != nil {
		t.Fatalf("pending -> active: %v", err)
	}
	if err := in.Transition(StatusVerified); err != nil {
		t.Fatalf("active -> verified: %v", err)
	}

	// Terminal state must never be left.
	if err := in.Transition(StatusActive); err == nil {
		t.Fatal("verified -> active succeeded, want error")
	}
	if err := in.Transition(StatusFailed); err == nil {
		t.Fatal("verified -> failed succeeded, want error")
	}
}

func TestDecomposedRequiresChildren(t *testing.T) {
	root := New("refactor module", []string{"callers updated"}, 0, "")
	tree := NewTree(root)

	root.Status = StatusActive
	if err := root.Transition(StatusDecomposed); err == nil {
		t.Fatal("decompose with no children succeeded, want error")
	}

	if _, err := tree.AddChild(root.ID, "extract helper", []string{"helper exists"}); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := root.Transition(StatusDecomposed); err != nil {
		t.Fatalf("decompose with children: %v", err)
	}
}

func TestTreeArena(t *testing.T) {
	root := New("root", []string{"done"}, 0, "")
	tree := NewTree(root)

	c1, err := tree.AddChild(root.ID, "first", []string{"a"})
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	c2, err := tree.AddChild(root.ID, "second", []string{"b"})
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	g, err := tree.AddChild(c1.ID, "grandchild", []string{"c"})
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}

	if g.Depth != 2 {
		t.Fatalf("grandchild depth = %d, want 2", g.Depth)
	}

	kids := tree.Children(root.ID)
	if len(kids) != 2 || kids[0].ID != c1.ID || kids[1].ID != c2.ID {
		t.Fatalf("children out of order: %v", kids)
	}

	anc := tree.Ancestors(g.ID)
	if len(anc) != 2 || anc[0].ID != c1.ID || anc[1].ID != root.ID {
		t.Fatalf("ancestors = %v", anc)
	}

	if tree.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", tree.Size())
	}
}

func TestLayerResultPassThrough(t *testing.T) {
	lr := LayerResult{Layer: LayerStructural, Passed: true, Confidence: 0.5, Reason: "no structural IR"}
	if !lr.PassThrough() {
		t.Fatal("0.5-confidence pass should be a pass-through")
	}
	lr = LayerResult{Layer: LayerSyntax, Passed: true, Confidence: 1.0}
	if lr.PassThrough() {
		t.Fatal("1.0-confidence pass is not a pass-through")
	}
}
