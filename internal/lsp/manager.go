package lsp

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"riva/internal/config"
	"riva/internal/logging"
)

// Manager keeps at most one running language-server client per configured
// language. Servers start lazily on first request; a language that fails to
// start is remembered for the session and never retried unless explicitly
// restarted. All map mutations happen under one pool-level lock.
type Manager struct {
	rootPath string
	servers  map[string]config.LSPServer
	timeout  time.Duration

	mu      sync.Mutex
	clients map[string]*Client
	failed  map[string]bool
}

// NewManager creates a manager for the workspace root. A nil server map uses
// the configured defaults.
func NewManager(rootPath string, cfg config.LSPConfig) *Manager {
	servers := cfg.Servers
	if servers == nil {
		servers = config.DefaultConfig().LSP.Servers
	}
	return &Manager{
		rootPath: rootPath,
		servers:  servers,
		timeout:  config.ParseDuration(cfg.RequestTimeout, 30*time.Second),
		clients:  make(map[string]*Client),
		failed:   make(map[string]bool),
	}
}

// languageForFile maps a file extension onto a configured language.
func (m *Manager) languageForFile(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	for language, server := range m.servers {
		for _, e := range server.Extensions {
			if e == ext {
				return language
			}
		}
	}
	return ""
}

// ClientForFile lazily starts and returns the client for the file's
// language. Returns nil for unconfigured or failed languages; callers
// degrade gracefully.
func (m *Manager) ClientForFile(path string) *Client {
	language := m.languageForFile(path)
	if language == "" {
		logging.LSPDebug("no server configured for %s", path)
		return nil
	}
	return m.ClientForLanguage(language)
}

// ClientForLanguage lazily starts and returns the client for a language.
func (m *Manager) ClientForLanguage(language string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[language]; ok {
		if client.IsRunning() {
			return client
		}
		// Server died; replace it transparently on next use.
		logging.LSPWarn("%s server died, restarting", language)
		delete(m.clients, language)
	}

	if m.failed[language] {
		return nil
	}

	server, ok := m.servers[language]
	if !ok {
		return nil
	}

	client := NewClient(language, server.LanguageID, server.Command, m.rootPath, m.timeout)
	if err := client.Start(); err != nil {
		logging.LSPWarn("failed to start %s server: %v", language, err)
		m.failed[language] = true
		return nil
	}

	m.clients[language] = client
	return client
}

// Restart clears the failed mark for a language so the next request retries.
func (m *Manager) Restart(language string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failed, language)
	if client, ok := m.clients[language]; ok {
		delete(m.clients, language)
		go client.Shutdown()
	}
}

// Open mirrors a document into the file's server, if one is available.
func (m *Manager) Open(path, content string) error {
	client := m.ClientForFile(path)
	if client == nil {
		return nil
	}
	return client.Open(path, content)
}

// Update pushes new content for a document.
func (m *Manager) Update(path, content string) error {
	client := m.ClientForFile(path)
	if client == nil {
		return nil
	}
	return client.Update(path, content)
}

// Close closes a document in its server.
func (m *Manager) Close(path string) error {
	client := m.ClientForFile(path)
	if client == nil {
		return nil
	}
	return client.Close(path)
}

// Diagnostics returns the latest diagnostics for a path, or nil when no
// server is available. Nil means "no error reported", not "no errors exist".
func (m *Manager) Diagnostics(path string) []Diagnostic {
	client := m.ClientForFile(path)
	if client == nil {
		return nil
	}
	return client.Diagnostics(path)
}

// Languages returns the configured language set.
func (m *Manager) Languages() []string {
	out := make([]string, 0, len(m.servers))
	for language := range m.servers {
		out = append(out, language)
	}
	return out
}

// FailedLanguages returns languages that failed to start this session.
func (m *Manager) FailedLanguages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.failed))
	for language := range m.failed {
		out = append(out, language)
	}
	return out
}

// ShutdownAll terminates every running server concurrently. Idempotent and
// safe at process exit.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	if len(clients) == 0 {
		return
	}

	var g errgroup.Group
	for _, client := range clients {
		client := client
		g.Go(func() error {
			client.Shutdown()
			return nil
		})
	}
	_ = g.Wait()
	logging.LSP("shut down %d language servers", len(clients))
}
