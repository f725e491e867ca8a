// Package config holds all RIVA configuration. Everything the core needs is
// injected at construction from this structure; collaborators own CLI flags
// and environment plumbing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all RIVA configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Engine bounds
	Engine EngineConfig `yaml:"engine"`

	// Trust budget tuning
	Trust TrustConfig `yaml:"trust"`

	// Verification pipeline tuning
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Language server pool
	LSP LSPConfig `yaml:"lsp"`

	// Sandbox execution settings
	Sandbox SandboxConfig `yaml:"sandbox"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Metrics persistence
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig bounds the recursion governor.
type EngineConfig struct {
	MaxDepth              int    `yaml:"max_depth"`
	MaxCyclesPerIntention int    `yaml:"max_cycles_per_intention"`
	CycleTimeout          string `yaml:"cycle_timeout"`
	RequireCheckpoint     bool   `yaml:"require_checkpoint"` // Ask before High-risk actions
}

// TrustConfig tunes the trust budget.
type TrustConfig struct {
	Initial int `yaml:"initial"`
	Floor   int `yaml:"floor"`
}

// PipelineConfig tunes the verification pipeline.
type PipelineConfig struct {
	BlockingThreshold      float64 `yaml:"blocking_threshold"` // Confidence above which a failure halts
	SkipBehavioralForQuery bool    `yaml:"skip_behavioral_for_query"`
	SkipIntentForQuery     bool    `yaml:"skip_intent_for_query"`
	TestTimeout            string  `yaml:"test_timeout"`
}

// LSPServer configures one language server.
type LSPServer struct {
	Command    []string `yaml:"command"`
	Extensions []string `yaml:"extensions"`
	LanguageID string   `yaml:"language_id"`
}

// LSPConfig configures the language server pool.
type LSPConfig struct {
	Servers        map[string]LSPServer `yaml:"servers"`
	RequestTimeout string               `yaml:"request_timeout"`
}

// SandboxConfig controls the local sandbox implementation.
type SandboxConfig struct {
	AllowedBinaries []string `yaml:"allowed_binaries"`
	CommandTimeout  string   `yaml:"command_timeout"`
}

// LLMConfig selects and tunes the provider client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai / gemini / none
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// MetricsConfig controls the metrics sink.
type MetricsConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "RIVA",
		Version: "0.3.0",

		Engine: EngineConfig{
			MaxDepth:              10,
			MaxCyclesPerIntention: 5,
			CycleTimeout:          "120s",
			RequireCheckpoint:     true,
		},

		Trust: TrustConfig{
			Initial: 100,
			Floor:   20,
		},

		Pipeline: PipelineConfig{
			BlockingThreshold:      0.7,
			SkipBehavioralForQuery: true,
			SkipIntentForQuery:     true,
			TestTimeout:            "120s",
		},

		LSP: LSPConfig{
			RequestTimeout: "30s",
			Servers: map[string]LSPServer{
				"python": {
					Command:    []string{"pyright-langserver", "--stdio"},
					Extensions: []string{".py", ".pyi"},
					LanguageID: "python",
				},
				"typescript": {
					Command:    []string{"typescript-language-server", "--stdio"},
					Extensions: []string{".ts", ".tsx"},
					LanguageID: "typescript",
				},
				"javascript": {
					Command:    []string{"typescript-language-server", "--stdio"},
					Extensions: []string{".js", ".jsx"},
					LanguageID: "javascript",
				},
				"rust": {
					Command:    []string{"rust-analyzer"},
					Extensions: []string{".rs"},
					LanguageID: "rust",
				},
				"go": {
					Command:    []string{"gopls", "serve"},
					Extensions: []string{".go"},
					LanguageID: "go",
				},
			},
		},

		Sandbox: SandboxConfig{
			AllowedBinaries: []string{
				"go", "git", "grep", "ls", "cat", "head", "tail", "find", "wc",
				"python", "python3", "pytest", "pip",
				"npm", "npx", "node",
				"cargo", "rustc", "make",
			},
			CommandTimeout: "30s",
		},

		LLM: LLMConfig{
			Provider: "none",
			Timeout:  "120s",
		},

		Metrics: MetricsConfig{
			DatabasePath: "data/riva.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .riva/config.yaml under the workspace, layered over defaults.
// A missing file yields the defaults.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".riva", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers RIVA_* environment variables over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RIVA_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("RIVA_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("RIVA_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("RIVA_METRICS_DB"); v != "" {
		cfg.Metrics.DatabasePath = v
	}
}

// ParseDuration parses a duration string field, falling back to the given
// default when the field is empty or malformed.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
