package verification

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"riva/internal/intention"
	"riva/internal/logging"
)

// languageFor maps a file extension onto a tree-sitter grammar.
func languageFor(path string) (*sitter.Language, string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py", ".pyi":
		return python.GetLanguage(), "python"
	case ".js", ".jsx":
		return javascript.GetLanguage(), "javascript"
	case ".ts", ".tsx":
		return typescript.GetLanguage(), "typescript"
	case ".rs":
		return rust.GetLanguage(), "rust"
	case ".go":
		return golang.GetLanguage(), "go"
	}
	return nil, ""
}

// syntaxLayer parses the affected source with a language-appropriate
// tree-sitter grammar. An ERROR or missing node blocks; a language without a
// grammar passes through and the pipeline continues.
type syntaxLayer struct{}

func (l *syntaxLayer) Tag() intention.Layer {
	return intention.LayerSyntax
}

func (l *syntaxLayer) Run(ctx context.Context, action intention.Action, vctx *Context) intention.LayerResult {
	if action.Type != intention.ActionCreate && action.Type != intention.ActionEdit {
		return intention.LayerResult{
			Layer:      intention.LayerSyntax,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "not a source edit",
		}
	}

	if strings.TrimSpace(action.Content) == "" {
		return intention.LayerResult{
			Layer:      intention.LayerSyntax,
			Passed:     false,
			Confidence: 0.9,
			Reason:     "content is empty or pure whitespace",
			Kind:       intention.FailureSyntax,
			Details:    map[string]string{"target": action.Target},
		}
	}

	language, name := languageFor(action.Target)
	if language == nil {
		logging.PipelineDebug("syntax: no grammar for %s", action.Target)
		return intention.LayerResult{
			Layer:      intention.LayerSyntax,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "language not supported by any parser",
		}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language)

	tree, err := parser.ParseCtx(ctx, nil, []byte(action.Content))
	if err != nil {
		return intention.LayerResult{
			Layer:      intention.LayerSyntax,
			Passed:     false,
			Confidence: 1.0,
			Reason:     fmt.Sprintf("parser failed: %v", err),
			Kind:       intention.FailureInfrastructure,
		}
	}
	defer tree.Close()

	errors := collectParseErrors(tree.RootNode(), []byte(action.Content))
	if len(errors) > 0 {
		return intention.LayerResult{
			Layer:      intention.LayerSyntax,
			Passed:     false,
			Confidence: 0.9,
			Reason:     fmt.Sprintf("%s parse error: %s", name, errors[0]),
			Kind:       intention.FailureSyntax,
			Details: map[string]string{
				"language": name,
				"errors":   strings.Join(errors, "; "),
			},
		}
	}

	return intention.LayerResult{
		Layer:      intention.LayerSyntax,
		Passed:     true,
		Confidence: 1.0,
		Reason:     fmt.Sprintf("clean %s parse", name),
	}
}

// collectParseErrors walks the tree for ERROR and missing nodes.
func collectParseErrors(root *sitter.Node, source []byte) []string {
	var errors []string

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if len(errors) >= 10 {
			return
		}
		if n.Type() == "ERROR" {
			snippet := n.Content(source)
			if len(snippet) > 40 {
				snippet = snippet[:40] + "..."
			}
			errors = append(errors, fmt.Sprintf("line %d: unexpected %q", n.StartPoint().Row+1, snippet))
		} else if n.IsMissing() {
			errors = append(errors, fmt.Sprintf("line %d: missing %s", n.StartPoint().Row+1, n.Type()))
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	return errors
}
