package lsp

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	var buf bytes.Buffer
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Content-Length: 46\r\n\r\n") {
		t.Fatalf("frame header = %q", buf.String()[:30])
	}

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip = %s", got)
	}
}

func TestReadFrameRejectsMissingHeader(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("\r\n{}"))
	if _, err := readFrame(reader); err == nil {
		t.Fatal("missing Content-Length should fail")
	}
}

func TestDispatchPublishDiagnostics(t *testing.T) {
	c := NewClient("python", "python", nil, "/ws", 0)

	payload := []byte(`{
		"jsonrpc": "2.0",
		"method": "textDocument/publishDiagnostics",
		"params": {
			"uri": "file:///ws/main.py",
			"diagnostics": [
				{"range": {"start": {"line": 2, "character": 4}}, "severity": 1, "message": "name 'g' is not defined", "code": "undefined-name"}
			]
		}
	}`)
	c.dispatch(payload)

	diags := c.Diagnostics("/ws/main.py")
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %v", diags)
	}
	d := diags[0]
	if d.Severity != SeverityError || d.Line != 2 || d.Column != 4 {
		t.Fatalf("diagnostic = %+v", d)
	}
	if d.Code != "undefined-name" {
		t.Fatalf("code = %q", d.Code)
	}
}

func TestDispatchReplacesDiagnostics(t *testing.T) {
	// A fresh publish for the same document replaces, not appends: the same
	// content always yields the same diagnostic sequence.
	c := NewClient("python", "python", nil, "/ws", 0)

	push := func(msgs ...string) {
		var items []string
		for _, m := range msgs {
			items = append(items, `{"range": {"start": {"line": 0, "character": 0}}, "severity": 2, "message": "`+m+`"}`)
		}
		c.dispatch([]byte(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///ws/a.py","diagnostics":[` + strings.Join(items, ",") + `]}}`))
	}

	push("first", "second")
	push("only")

	diags := c.Diagnostics("/ws/a.py")
	if len(diags) != 1 || diags[0].Message != "only" {
		t.Fatalf("diagnostics = %v", diags)
	}
}

func TestParseLocations(t *testing.T) {
	// Single Location.
	locs := parseLocations([]byte(`{"uri": "file:///ws/a.py", "range": {"start": {"line": 3, "character": 1}}}`))
	if len(locs) != 1 || locs[0].Path != "/ws/a.py" || locs[0].Line != 3 {
		t.Fatalf("single = %v", locs)
	}

	// Location list.
	locs = parseLocations([]byte(`[{"uri": "file:///ws/a.py", "range": {"start": {"line": 1, "character": 0}}}, {"uri": "file:///ws/b.py", "range": {"start": {"line": 9, "character": 2}}}]`))
	if len(locs) != 2 || locs[1].Path != "/ws/b.py" || locs[1].Line != 9 {
		t.Fatalf("list = %v", locs)
	}

	// LocationLink list.
	locs = parseLocations([]byte(`[{"targetUri": "file:///ws/c.py", "targetRange": {"start": {"line": 7, "character": 0}}}]`))
	if len(locs) != 1 || locs[0].Path != "/ws/c.py" || locs[0].Line != 7 {
		t.Fatalf("links = %v", locs)
	}

	if locs := parseLocations([]byte(`null`)); len(locs) != 0 {
		t.Fatalf("null = %v", locs)
	}
}

func TestURIConversion(t *testing.T) {
	if got := uriToPath("file:///ws/some%20dir/a.py"); got != "/ws/some dir/a.py" {
		t.Fatalf("uriToPath = %q", got)
	}
	if got := pathToURI("/ws/a.py"); got != "file:///ws/a.py" {
		t.Fatalf("pathToURI = %q", got)
	}
}
