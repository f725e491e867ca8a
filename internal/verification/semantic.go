package verification

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"riva/internal/intention"
	"riva/internal/logging"
	"riva/internal/lsp"
)

// semanticLayer checks that code makes sense beyond syntax: names referenced
// in load context must be defined, parameter-bound, imported, or built in;
// top-level imports must be discoverable. Python is analyzed natively with
// tree-sitter; other languages lean on the LSP pool and degrade to a
// pass-through when no server is available.
type semanticLayer struct{}

func (l *semanticLayer) Tag() intention.Layer {
	return intention.LayerSemantic
}

// semanticIssue is one finding, split by severity: errors fail the layer,
// warnings only surface in details.
type semanticIssue struct {
	severity string // "error" or "warning"
	message  string
	line     int
	code     string
}

func (l *semanticLayer) Run(ctx context.Context, action intention.Action, vctx *Context) intention.LayerResult {
	if action.Type != intention.ActionCreate && action.Type != intention.ActionEdit {
		return intention.LayerResult{
			Layer:      intention.LayerSemantic,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "not a source edit",
		}
	}

	ext := strings.ToLower(filepath.Ext(action.Target))
	if ext == ".py" || ext == ".pyi" {
		return l.runPython(ctx, action, vctx)
	}
	return l.runViaLSP(action, vctx)
}

// runPython performs the native analysis, then layers LSP diagnostics on top
// when a server happens to be available.
func (l *semanticLayer) runPython(ctx context.Context, action intention.Action, vctx *Context) intention.LayerResult {
	issues, err := analyzePython(ctx, action.Content, vctx)
	if err != nil {
		// Syntax problems belong to the syntax layer; an unparseable file
		// here is an analyzer fault, not a semantic verdict.
		return intention.LayerResult{
			Layer:      intention.LayerSemantic,
			Passed:     true,
			Confidence: 0.5,
			Reason:     fmt.Sprintf("analysis unavailable: %v", err),
		}
	}

	issues = append(issues, diagnosticsToIssues(l.lspDiagnostics(action, vctx))...)
	return buildSemanticResult(issues)
}

// runViaLSP serves languages the native analyzer does not cover.
func (l *semanticLayer) runViaLSP(action intention.Action, vctx *Context) intention.LayerResult {
	diags := l.lspDiagnostics(action, vctx)
	if diags == nil {
		logging.PipelineDebug("semantic: no analyzer for %s", action.Target)
		return intention.LayerResult{
			Layer:      intention.LayerSemantic,
			Passed:     true,
			Confidence: 0.5,
			Reason:     "lsp_unavailable",
		}
	}
	return buildSemanticResult(diagnosticsToIssues(diags))
}

// lspDiagnostics mirrors the content into the file's language server and
// collects its diagnostics. Returns nil when no client is available; absent
// data means "no error reported", never "no errors exist".
func (l *semanticLayer) lspDiagnostics(action intention.Action, vctx *Context) []lsp.Diagnostic {
	if vctx == nil || vctx.LSP == nil {
		return nil
	}
	client := vctx.LSP.ClientForFile(action.Target)
	if client == nil {
		return nil
	}

	path := action.Target
	if vctx.Sandbox != nil {
		path = filepath.Join(vctx.Sandbox.Root(), action.Target)
	}
	if err := client.Open(path, action.Content); err != nil {
		logging.LSPWarn("didOpen failed for %s: %v", path, err)
		return nil
	}
	defer func() {
		_ = client.Close(path)
	}()

	return client.WaitForDiagnostics(path, 2*time.Second)
}

func diagnosticsToIssues(diags []lsp.Diagnostic) []semanticIssue {
	var issues []semanticIssue
	for _, d := range diags {
		severity := "warning"
		if d.Severity == lsp.SeverityError {
			severity = "error"
		}
		issues = append(issues, semanticIssue{
			severity: severity,
			message:  d.Message,
			line:     d.Line + 1,
			code:     d.Code,
		})
	}
	return issues
}

// buildSemanticResult folds issues into the layer verdict: pass iff zero
// errors.
func buildSemanticResult(issues []semanticIssue) intention.LayerResult {
	var errors, warnings []string
	var undefined []string
	var unresolved []string
	for _, issue := range issues {
		formatted := fmt.Sprintf("line %d: %s", issue.line, issue.message)
		if issue.severity == "error" {
			errors = append(errors, formatted)
		} else {
			warnings = append(warnings, formatted)
		}
		switch issue.code {
		case "undefined-name":
			if name := quoted(issue.message); name != "" {
				undefined = append(undefined, name)
			}
		case "unresolved-import":
			unresolved = append(unresolved, formatted)
		}
	}

	details := map[string]string{}
	if len(undefined) > 0 {
		details["undefined_names"] = strings.Join(undefined, ",")
	}
	if len(unresolved) > 0 {
		details["unresolved_imports"] = strings.Join(unresolved, "; ")
	}
	if len(warnings) > 0 {
		details["warnings"] = strings.Join(warnings, "; ")
	}

	if len(errors) > 0 {
		details["errors"] = strings.Join(errors, "; ")
		return intention.LayerResult{
			Layer:      intention.LayerSemantic,
			Passed:     false,
			Confidence: 0.9,
			Reason:     errors[0],
			Kind:       intention.FailureSemantic,
			Details:    details,
		}
	}

	result := intention.LayerResult{
		Layer:      intention.LayerSemantic,
		Passed:     true,
		Confidence: 1.0,
		Reason:     "no semantic errors",
	}
	if len(details) > 0 {
		result.Details = details
	}
	return result
}

// quoted extracts the first single-quoted span of a message.
func quoted(message string) string {
	first := strings.Index(message, "'")
	if first < 0 {
		return ""
	}
	end := strings.Index(message[first+1:], "'")
	if end < 0 {
		return ""
	}
	return message[first+1 : first+1+end]
}

// =============================================================================
// PYTHON ANALYSIS - undefined names and unresolved imports via tree-sitter
// =============================================================================

// analyzePython returns semantic issues for one Python source.
func analyzePython(ctx context.Context, source string, vctx *Context) ([]semanticIssue, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(source))
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	src := []byte(source)
	root := tree.RootNode()

	a := &pythonAnalysis{
		src:      src,
		defined:  make(map[string]bool),
		defSites: make(map[uint32]bool),
	}
	a.collectDefinitions(root)

	var issues []semanticIssue
	issues = append(issues, a.checkUsages(root)...)
	issues = append(issues, a.checkImports(root, vctx)...)

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].line < issues[j].line })
	return issues, nil
}

type pythonAnalysis struct {
	src      []byte
	defined  map[string]bool
	defSites map[uint32]bool // Start bytes of identifiers that define rather than use
	imports  []importedModule
}

type importedModule struct {
	module string
	line   int
}

func (a *pythonAnalysis) text(n *sitter.Node) string {
	return n.Content(a.src)
}

// define records an identifier node as a definition site.
func (a *pythonAnalysis) define(n *sitter.Node) {
	if n == nil {
		return
	}
	if n.Type() == "identifier" {
		a.defined[a.text(n)] = true
		a.defSites[n.StartByte()] = true
		return
	}
	// Tuple/list patterns and the like: every identifier inside defines.
	for i := 0; i < int(n.NamedChildCount()); i++ {
		a.define(n.NamedChild(i))
	}
}

// collectDefinitions walks the whole tree recording every binding form.
func (a *pythonAnalysis) collectDefinitions(n *sitter.Node) {
	switch n.Type() {
	case "assignment", "augmented_assignment":
		a.define(n.ChildByFieldName("left"))
	case "named_expression":
		a.define(n.ChildByFieldName("name"))
	case "function_definition":
		a.define(n.ChildByFieldName("name"))
		a.defineParameters(n.ChildByFieldName("parameters"))
	case "lambda":
		a.defineParameters(n.ChildByFieldName("parameters"))
	case "class_definition":
		a.define(n.ChildByFieldName("name"))
	case "for_statement":
		a.define(n.ChildByFieldName("left"))
	case "for_in_clause":
		a.define(n.ChildByFieldName("left"))
	case "as_pattern":
		if alias := n.ChildByFieldName("alias"); alias != nil {
			a.define(alias)
		}
	case "with_item":
		// Older grammars carry the alias on the with_item itself.
		if alias := n.ChildByFieldName("alias"); alias != nil {
			a.define(alias)
		}
	case "except_clause":
		// except E as name: the alias is the second named child in grammars
		// without as_pattern.
		if n.NamedChildCount() >= 2 {
			if alias := n.NamedChild(1); alias.Type() == "identifier" {
				a.define(alias)
			}
		}
	case "global_statement", "nonlocal_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			a.define(n.NamedChild(i))
		}
	case "import_statement", "import_from_statement":
		a.collectImport(n)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		a.collectDefinitions(n.Child(i))
	}
}

// defineParameters handles every parameter shape.
func (a *pythonAnalysis) defineParameters(params *sitter.Node) {
	if params == nil {
		return
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			a.define(p)
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			if p.NamedChildCount() > 0 {
				a.define(p.NamedChild(0))
			}
		case "default_parameter", "typed_default_parameter":
			a.define(p.ChildByFieldName("name"))
		}
	}
}

// collectImport records bound names and top-level modules for one import.
func (a *pythonAnalysis) collectImport(n *sitter.Node) {
	line := int(n.StartPoint().Row) + 1
	markSubtree := func(node *sitter.Node) {
		var walk func(*sitter.Node)
		walk = func(x *sitter.Node) {
			if x.Type() == "identifier" {
				a.defSites[x.StartByte()] = true
			}
			for i := 0; i < int(x.ChildCount()); i++ {
				walk(x.Child(i))
			}
		}
		walk(node)
	}
	markSubtree(n)

	if n.Type() == "import_statement" {
		// import foo.bar [as baz] -> binds foo (or baz), module foo
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dotted_name":
				top := strings.SplitN(a.text(c), ".", 2)[0]
				a.defined[top] = true
				a.imports = append(a.imports, importedModule{module: top, line: line})
			case "aliased_import":
				if name := c.ChildByFieldName("name"); name != nil {
					top := strings.SplitN(a.text(name), ".", 2)[0]
					a.imports = append(a.imports, importedModule{module: top, line: line})
				}
				if alias := c.ChildByFieldName("alias"); alias != nil {
					a.defined[a.text(alias)] = true
				}
			}
		}
		return
	}

	// from foo.bar import x [as y], * -> binds x (or y), module foo
	if module := n.ChildByFieldName("module_name"); module != nil {
		top := strings.SplitN(a.text(module), ".", 2)[0]
		if top != "" && top != "." {
			a.imports = append(a.imports, importedModule{module: top, line: line})
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "dotted_name":
			if module := n.ChildByFieldName("module_name"); module != nil && module.StartByte() == c.StartByte() {
				continue
			}
			a.defined[strings.SplitN(a.text(c), ".", 2)[0]] = true
		case "aliased_import":
			if alias := c.ChildByFieldName("alias"); alias != nil {
				a.defined[a.text(alias)] = true
			} else if name := c.ChildByFieldName("name"); name != nil {
				a.defined[strings.SplitN(a.text(name), ".", 2)[0]] = true
			}
		}
	}
}

// checkUsages walks identifiers in load context and flags the undefined.
func (a *pythonAnalysis) checkUsages(root *sitter.Node) []semanticIssue {
	var issues []semanticIssue
	reported := make(map[string]bool)

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "identifier" && !a.defSites[n.StartByte()] && a.isLoadContext(n) {
			name := a.text(n)
			if !a.defined[name] && !pythonBuiltins[name] && !reported[name] {
				reported[name] = true
				issues = append(issues, semanticIssue{
					severity: "error",
					message:  fmt.Sprintf("name '%s' is not defined", name),
					line:     int(n.StartPoint().Row) + 1,
					code:     "undefined-name",
				})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	return issues
}

// isLoadContext filters out identifier positions that never read a binding.
func (a *pythonAnalysis) isLoadContext(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return true
	}
	switch parent.Type() {
	case "attribute":
		// obj.attr: only the object side is a load of a name.
		attr := parent.ChildByFieldName("attribute")
		if attr != nil && attr.StartByte() == n.StartByte() {
			return false
		}
	case "keyword_argument":
		name := parent.ChildByFieldName("name")
		if name != nil && name.StartByte() == n.StartByte() {
			return false
		}
	case "dotted_name", "aliased_import", "import_statement", "import_from_statement", "relative_import":
		return false
	case "decorator":
		// Treated as a load; decorators reference real names.
	}
	return true
}

// checkImports flags top-level modules that are neither standard library nor
// present in the sandbox.
func (a *pythonAnalysis) checkImports(root *sitter.Node, vctx *Context) []semanticIssue {
	var issues []semanticIssue
	seen := make(map[string]bool)
	for _, imp := range a.imports {
		if seen[imp.module] {
			continue
		}
		seen[imp.module] = true
		if pythonStdlib[imp.module] {
			continue
		}
		if vctx != nil && vctx.Sandbox != nil && moduleInSandbox(vctx, imp.module) {
			continue
		}
		issues = append(issues, semanticIssue{
			severity: "warning",
			message:  fmt.Sprintf("cannot resolve import '%s'", imp.module),
			line:     imp.line,
			code:     "unresolved-import",
		})
	}
	return issues
}

// moduleInSandbox checks for <mod>.py or <mod>/ at the sandbox root.
func moduleInSandbox(vctx *Context, module string) bool {
	if _, err := vctx.Sandbox.Read(module + ".py"); err == nil {
		return true
	}
	if _, err := vctx.Sandbox.Read(filepath.Join(module, "__init__.py")); err == nil {
		return true
	}
	return false
}
