package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"riva/internal/batch"
	"riva/internal/config"
	"riva/internal/intention"
	"riva/internal/logging"
	"riva/internal/lsp"
	"riva/internal/metrics"
	"riva/internal/proposer"
	"riva/internal/sandbox"
	"riva/internal/trust"
	"riva/internal/verification"
)

// Session bundles one workspace-scoped RIVA run: the engine plus every
// collaborator it owns for the session's duration. There is no global state;
// the session value is threaded explicitly.
type Session struct {
	ID        string
	Workspace string

	cfg     *config.Config
	engine  *Engine
	lspPool *lsp.Manager
	sink    metrics.Sink
	metrics *metrics.ExecutionMetrics
}

// SessionOptions override collaborator defaults.
type SessionOptions struct {
	Proposer   proposer.Proposer // Required unless LLM provider configured
	Sandbox    sandbox.Sandbox   // Defaults to a local Workspace sandbox
	Checkpoint Checkpoint
	Observer   Observer
	Sink       metrics.Sink
}

// NewSession wires a session for a workspace from configuration.
func NewSession(workspace string, cfg *config.Config, opts SessionOptions) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	sessionID := "exec-" + uuid.NewString()[:8]

	prop := opts.Proposer
	var client proposer.Client
	if prop == nil {
		client = clientFromConfig(cfg.LLM)
		if client == nil {
			return nil, fmt.Errorf("no proposer supplied and no LLM provider configured")
		}
		prop = proposer.NewLLMProposer(client)
	}

	sb := opts.Sandbox
	if sb == nil {
		ws, err := sandbox.NewWorkspace(
			workspace,
			cfg.Sandbox.AllowedBinaries,
			config.ParseDuration(cfg.Sandbox.CommandTimeout, 0),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace sandbox: %w", err)
		}
		sb = ws
	}

	sink := opts.Sink
	if sink == nil {
		if cfg.Metrics.DatabasePath == "" {
			sink = metrics.DiscardSink{}
		} else {
			path := cfg.Metrics.DatabasePath
			if !filepath.IsAbs(path) {
				path = filepath.Join(workspace, ".riva", path)
			}
			sqlite, err := metrics.NewSQLiteSink(path)
			if err != nil {
				logging.MetricsError("metrics sink unavailable, discarding: %v", err)
				sink = metrics.DiscardSink{}
			} else {
				sink = sqlite
			}
		}
	}

	lspPool := lsp.NewManager(workspace, cfg.LSP)
	sessionMetrics := metrics.NewExecutionMetrics(sessionID)

	eng, err := New(Options{
		Config:     cfg.Engine,
		Proposer:   prop,
		Pipeline:   verification.NewPipeline(cfg.Pipeline, nil),
		Sandbox:    sb,
		Budget:     trust.NewBudget(cfg.Trust.Initial, cfg.Trust.Floor),
		Batcher:    batch.NewBatcher(client),
		LSP:        lspPool,
		Metrics:    sessionMetrics,
		Checkpoint: opts.Checkpoint,
		Observer:   opts.Observer,
	})
	if err != nil {
		return nil, err
	}

	logging.Session("session %s created for %s", sessionID, workspace)
	return &Session{
		ID:        sessionID,
		Workspace: workspace,
		cfg:       cfg,
		engine:    eng,
		lspPool:   lspPool,
		sink:      sink,
		metrics:   sessionMetrics,
	}, nil
}

// clientFromConfig builds the provider client named by configuration.
func clientFromConfig(cfg config.LLMConfig) proposer.Client {
	switch cfg.Provider {
	case "openai":
		conf := proposer.DefaultOpenAIConfig(os.Getenv("RIVA_API_KEY"))
		if cfg.BaseURL != "" {
			conf.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			conf.Model = cfg.Model
		}
		conf.Timeout = config.ParseDuration(cfg.Timeout, conf.Timeout)
		return proposer.NewOpenAIClientWithConfig(conf)
	case "gemini":
		conf := proposer.DefaultGeminiConfig(os.Getenv("RIVA_API_KEY"))
		if cfg.BaseURL != "" {
			conf.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			conf.Model = cfg.Model
		}
		conf.Timeout = config.ParseDuration(cfg.Timeout, conf.Timeout)
		return proposer.NewGeminiClientWithConfig(conf)
	}
	return nil
}

// Run drives one root intention to a terminal status.
func (s *Session) Run(ctx context.Context, what string, criteria []string) (*Result, error) {
	return s.engine.Execute(ctx, what, criteria)
}

// Engine exposes the underlying engine for inspection.
func (s *Session) Engine() *Engine {
	return s.engine
}

// Close ships the metrics snapshot and tears down the LSP pool. Idempotent.
func (s *Session) Close() error {
	if s.lspPool != nil {
		s.lspPool.ShutdownAll()
	}

	var firstErr error
	if s.sink != nil {
		if err := s.sink.Record(s.metrics.Snapshot()); err != nil {
			firstErr = err
		}
		if err := s.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.sink = nil
	}

	logging.Session("session %s closed", s.ID)
	return firstErr
}

// Status summarizes an intention tree for display.
func Status(tree *intention.Tree) string {
	if tree == nil || tree.Root() == nil {
		return "no session"
	}
	root := tree.Root()
	return fmt.Sprintf("%s: %s (%d intentions, %d cycles on root)",
		root.Status, root.What, tree.Size(), root.CyclesUsed())
}
