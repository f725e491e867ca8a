package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Engine.MaxDepth)
	assert.Equal(t, 5, cfg.Engine.MaxCyclesPerIntention)
	assert.Equal(t, 100, cfg.Trust.Initial)
	assert.Equal(t, 20, cfg.Trust.Floor)
	assert.Equal(t, 0.7, cfg.Pipeline.BlockingThreshold)
	assert.Contains(t, cfg.LSP.Servers, "python")
	assert.Equal(t, []string{"pyright-langserver", "--stdio"}, cfg.LSP.Servers["python"].Command)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine.MaxDepth, cfg.Engine.MaxDepth)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".riva"), 0755))
	body := "engine:\n  max_depth: 4\ntrust:\n  initial: 60\n  floor: 10\n"
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".riva", "config.yaml"), []byte(body), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.MaxDepth)
	assert.Equal(t, 60, cfg.Trust.Initial)
	assert.Equal(t, 10, cfg.Trust.Floor)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.7, cfg.Pipeline.BlockingThreshold)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".riva"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".riva", "config.yaml"), []byte("engine: ["), 0644))

	_, err := Load(ws)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RIVA_LLM_PROVIDER", "gemini")
	t.Setenv("RIVA_LLM_MODEL", "gemini-2.5-flash")

	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".riva"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".riva", "config.yaml"), []byte("llm:\n  provider: openai\n"), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseDuration("30s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute))
}
