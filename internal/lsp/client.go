package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"riva/internal/logging"
)

// Client speaks the Language Server Protocol to one child process over
// stdio. Document state is mirrored into the server; diagnostics pushed by
// the server are collected into a per-path table.
type Client struct {
	language   string
	languageID string
	serverCmd  []string
	rootPath   string
	timeout    time.Duration

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	health      Health
	nextID      int
	pending     map[int]chan json.RawMessage
	docVersions map[string]int
	diagnostics map[string][]Diagnostic
	done        chan struct{}
}

// NewClient prepares (but does not start) a client for one language.
func NewClient(language, languageID string, serverCmd []string, rootPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		language:    language,
		languageID:  languageID,
		serverCmd:   serverCmd,
		rootPath:    rootPath,
		timeout:     timeout,
		health:      HealthStarting,
		pending:     make(map[int]chan json.RawMessage),
		docVersions: make(map[string]int),
		diagnostics: make(map[string][]Diagnostic),
	}
}

// Health returns the client's lifecycle state.
func (c *Client) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// IsRunning reports whether the child process is alive and handshaken.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.health != HealthRunning || c.cmd == nil || c.cmd.Process == nil {
		return false
	}
	// ProcessState is set once Wait has observed exit.
	return c.cmd.ProcessState == nil
}

// Start launches the server process and performs the initialize handshake.
func (c *Client) Start() error {
	if len(c.serverCmd) == 0 {
		return fmt.Errorf("no server command configured for %s", c.language)
	}

	cmd := exec.Command(c.serverCmd[0], c.serverCmd[1:]...)
	cmd.Dir = c.rootPath

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		c.mu.Lock()
		c.health = HealthFailed
		c.mu.Unlock()
		return fmt.Errorf("failed to start %s server: %w", c.language, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(bufio.NewReader(stdout))
	go func() {
		// Reap the child so IsRunning sees its exit.
		_ = cmd.Wait()
	}()

	initParams := map[string]interface{}{
		"processId": nil,
		"rootUri":   pathToURI(c.rootPath),
		"capabilities": map[string]interface{}{
			"textDocument": map[string]interface{}{
				"publishDiagnostics": map[string]interface{}{},
				"hover":              map[string]interface{}{"contentFormat": []string{"plaintext", "markdown"}},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.request(ctx, "initialize", initParams); err != nil {
		c.mu.Lock()
		c.health = HealthFailed
		c.mu.Unlock()
		c.kill()
		return fmt.Errorf("initialize handshake failed for %s: %w", c.language, err)
	}
	if err := c.notify("initialized", map[string]interface{}{}); err != nil {
		c.mu.Lock()
		c.health = HealthFailed
		c.mu.Unlock()
		c.kill()
		return fmt.Errorf("initialized notification failed for %s: %w", c.language, err)
	}

	c.mu.Lock()
	c.health = HealthRunning
	c.mu.Unlock()
	logging.LSP("started %s server: %s", c.language, strings.Join(c.serverCmd, " "))
	return nil
}

// readLoop parses Content-Length framed messages until the pipe closes.
func (c *Client) readLoop(reader *bufio.Reader) {
	defer func() {
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	for {
		payload, err := readFrame(reader)
		if err != nil {
			if err != io.EOF {
				logging.LSPDebug("%s read loop ended: %v", c.language, err)
			}
			return
		}
		c.dispatch(payload)
	}
}

// readFrame reads one Content-Length framed JSON-RPC payload.
func readFrame(reader *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("bad Content-Length %q", v)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes one Content-Length framed payload.
func writeFrame(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// dispatch routes one incoming message: responses resolve pending requests,
// publishDiagnostics notifications update the diagnostics table.
func (c *Client) dispatch(payload []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logging.LSPDebug("%s unparseable message: %v", c.language, err)
		return
	}

	if msg.ID != nil && msg.Method == "" {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()
		if ok {
			if msg.Error != nil {
				errPayload, _ := json.Marshal(map[string]string{"__error": msg.Error.Message})
				ch <- errPayload
			} else {
				ch <- msg.Result
			}
		}
		return
	}

	if msg.Method == "textDocument/publishDiagnostics" {
		var params struct {
			URI         string `json:"uri"`
			Diagnostics []struct {
				Range struct {
					Start struct {
						Line      int `json:"line"`
						Character int `json:"character"`
					} `json:"start"`
				} `json:"range"`
				Severity int             `json:"severity"`
				Message  string          `json:"message"`
				Code     json.RawMessage `json:"code"`
			} `json:"diagnostics"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		path := uriToPath(params.URI)
		diags := make([]Diagnostic, 0, len(params.Diagnostics))
		for _, d := range params.Diagnostics {
			diags = append(diags, Diagnostic{
				Severity: DiagnosticSeverity(d.Severity),
				Message:  d.Message,
				Line:     d.Range.Start.Line,
				Column:   d.Range.Start.Character,
				Code:     strings.Trim(string(d.Code), `"`),
			})
		}
		c.mu.Lock()
		c.diagnostics[path] = diags
		c.mu.Unlock()
		logging.LSPDebug("%s diagnostics for %s: %d", c.language, path, len(diags))
	}
}

// request sends a JSON-RPC request and waits for its response.
func (c *Client) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan json.RawMessage, 1)
	c.pending[id] = ch
	stdin := c.stdin
	c.mu.Unlock()

	if stdin == nil {
		return nil, fmt.Errorf("%s server not started", c.language)
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(rpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: rawParams})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	err = writeFrame(stdin, payload)
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write to %s server failed: %w", c.language, err)
	}

	select {
	case result := <-ch:
		var check map[string]string
		if json.Unmarshal(result, &check) == nil {
			if msg, ok := check["__error"]; ok {
				return nil, fmt.Errorf("%s server error: %s", c.language, msg)
			}
		}
		return result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s request %s timed out: %w", c.language, method, ctx.Err())
	}
}

// notify sends a JSON-RPC notification.
func (c *Client) notify(method string, params interface{}) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("%s server not started", c.language)
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rpcMessage{JSONRPC: "2.0", Method: method, Params: rawParams})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(stdin, payload)
}

// Open mirrors a document into the server.
func (c *Client) Open(path, content string) error {
	c.mu.Lock()
	c.docVersions[path] = 1
	c.mu.Unlock()
	return c.notify("textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":        pathToURI(path),
			"languageId": c.languageID,
			"version":    1,
			"text":       content,
		},
	})
}

// Update pushes new full content for an open document.
func (c *Client) Update(path, content string) error {
	c.mu.Lock()
	c.docVersions[path]++
	version := c.docVersions[path]
	c.mu.Unlock()
	return c.notify("textDocument/didChange", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":     pathToURI(path),
			"version": version,
		},
		"contentChanges": []map[string]interface{}{{"text": content}},
	})
}

// Close closes a document in the server and drops its diagnostics.
func (c *Client) Close(path string) error {
	c.mu.Lock()
	delete(c.docVersions, path)
	delete(c.diagnostics, path)
	c.mu.Unlock()
	return c.notify("textDocument/didClose", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": pathToURI(path)},
	})
}

// Diagnostics returns the latest pushed diagnostics for a path. Absent data
// means "no error reported", never "no errors exist".
func (c *Client) Diagnostics(path string) []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Diagnostic(nil), c.diagnostics[path]...)
}

// WaitForDiagnostics polls until diagnostics for a path arrive or the
// timeout lapses, returning whatever is present.
func (c *Client) WaitForDiagnostics(path string, timeout time.Duration) []Diagnostic {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		diags, ok := c.diagnostics[path]
		c.mu.Unlock()
		if ok {
			return append([]Diagnostic(nil), diags...)
		}
		time.Sleep(25 * time.Millisecond)
	}
	return c.Diagnostics(path)
}

// positionParams builds the common textDocument/position payload.
func positionParams(path string, line, col int) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": pathToURI(path)},
		"position":     map[string]interface{}{"line": line, "character": col},
	}
}

// Definition resolves the definition locations for a position.
func (c *Client) Definition(ctx context.Context, path string, line, col int) ([]Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	result, err := c.request(ctx, "textDocument/definition", positionParams(path, line, col))
	if err != nil {
		return nil, err
	}
	return parseLocations(result), nil
}

// References resolves all reference locations for a position.
func (c *Client) References(ctx context.Context, path string, line, col int) ([]Location, error) {
	params := positionParams(path, line, col)
	params["context"] = map[string]interface{}{"includeDeclaration": true}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	result, err := c.request(ctx, "textDocument/references", params)
	if err != nil {
		return nil, err
	}
	return parseLocations(result), nil
}

// Hover returns hover content for a position.
func (c *Client) Hover(ctx context.Context, path string, line, col int) (*HoverInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	result, err := c.request(ctx, "textDocument/hover", positionParams(path, line, col))
	if err != nil {
		return nil, err
	}

	var hover struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(result, &hover); err != nil || hover.Contents == nil {
		return nil, nil
	}

	// Contents may be a string, a MarkupContent, or a list.
	var asString string
	if json.Unmarshal(hover.Contents, &asString) == nil {
		return &HoverInfo{Contents: asString}, nil
	}
	var asMarkup struct {
		Value string `json:"value"`
	}
	if json.Unmarshal(hover.Contents, &asMarkup) == nil && asMarkup.Value != "" {
		return &HoverInfo{Contents: asMarkup.Value}, nil
	}
	return &HoverInfo{Contents: string(hover.Contents)}, nil
}

// parseLocations accepts Location | Location[] | LocationLink[] results.
func parseLocations(raw json.RawMessage) []Location {
	type lspRange struct {
		Start struct {
			Line      int `json:"line"`
			Character int `json:"character"`
		} `json:"start"`
	}
	type lspLocation struct {
		URI         string   `json:"uri"`
		TargetURI   string   `json:"targetUri"`
		Range       lspRange `json:"range"`
		TargetRange struct {
			Start struct {
				Line      int `json:"line"`
				Character int `json:"character"`
			} `json:"start"`
		} `json:"targetRange"`
	}

	var list []lspLocation
	if err := json.Unmarshal(raw, &list); err != nil {
		var single lspLocation
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		list = []lspLocation{single}
	}

	out := make([]Location, 0, len(list))
	for _, loc := range list {
		if loc.URI != "" {
			out = append(out, Location{Path: uriToPath(loc.URI), Line: loc.Range.Start.Line, Column: loc.Range.Start.Character})
		} else if loc.TargetURI != "" {
			out = append(out, Location{Path: uriToPath(loc.TargetURI), Line: loc.TargetRange.Start.Line, Column: loc.TargetRange.Start.Character})
		}
	}
	return out
}

// Shutdown sends the shutdown/exit sequence and kills the process if it
// lingers. Safe to call more than once.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.health == HealthFailed && c.cmd == nil {
		c.mu.Unlock()
		return
	}
	done := c.done
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = c.request(ctx, "shutdown", nil)
	_ = c.notify("exit", nil)

	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			c.kill()
		}
	} else {
		c.kill()
	}

	c.mu.Lock()
	c.health = HealthFailed
	c.mu.Unlock()
	logging.LSP("shut down %s server", c.language)
}

func (c *Client) kill() {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// pathToURI converts an absolute path into a file:// URI.
func pathToURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs
}

// uriToPath converts a file:// URI back into a path.
func uriToPath(uri string) string {
	trimmed := strings.TrimPrefix(uri, "file://")
	if decoded, err := url.PathUnescape(trimmed); err == nil {
		return decoded
	}
	return trimmed
}
