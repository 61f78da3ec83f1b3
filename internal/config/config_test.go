package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angleyanalbedo/generatestcode/internal/llm"
	"github.com/angleyanalbedo/generatestcode/internal/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, llm.BackendVLLM, cfg.Generation.BackendType)
	assert.Equal(t, 8, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, 3, cfg.Dispatch.SelfCorrectionDepth)
	assert.Equal(t, "whitespace", cfg.Dedup.Mode)
	assert.Equal(t, GoldenSQLite, cfg.Golden.Backend)
	assert.Equal(t, 50, cfg.Golden.Capacity)
	assert.Equal(t, 10*time.Second, cfg.Verdict.Timeout)
	assert.Equal(t, "iec2c", cfg.Verdict.Compiler)
	assert.Empty(t, cfg.Status.Addr)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromPath_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, Default().Dispatch, cfg.Dispatch)

	cfg2, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Generation, cfg2.Generation, "config values changed on reload")
}

func TestLoadFromPath_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
dispatch:
  max_concurrency: 2
  backoff_max: 5s
seeds:
  target_count: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.BackoffMax)
	assert.Equal(t, time.Second, cfg.Dispatch.BackoffInitial)
	assert.Equal(t, 10, cfg.Seeds.TargetCount)
	assert.Equal(t, "iec2c", cfg.Verdict.Compiler)
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Default().SaveToPath(path))

	t.Setenv("STDISTILL_DISPATCH_MAX_CONCURRENCY", "16")
	t.Setenv("STDISTILL_GENERATION_MODEL", "deepseek-coder")
	t.Setenv("STDISTILL_STATUS_ADDR", ":9999")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, "deepseek-coder", cfg.Generation.Model)
	assert.Equal(t, ":9999", cfg.Status.Addr)
}

func TestLoadFromPath_OpenAIKeyFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Generation.APIKey)

	t.Setenv("STDISTILL_GENERATION_API_KEY", "sk-explicit")
	cfg, err = LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-explicit", cfg.Generation.APIKey)
}

func TestSaveToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")

	cfg := Default()
	cfg.Generation.BackendType = llm.BackendTGI
	cfg.Evolution.MaxDepth = 4
	cfg.Verdict.ExtraArgs = []string{"-p"}
	require.NoError(t, cfg.SaveToPath(path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, llm.BackendTGI, loaded.Generation.BackendType)
	assert.Equal(t, 4, loaded.Evolution.MaxDepth)
	assert.Equal(t, []string{"-p"}, loaded.Verdict.ExtraArgs)
	assert.Equal(t, 2*time.Minute, loaded.Generation.Timeout)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data", "sft.jsonl"), expandPath("~/data/sft.jsonl"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
	assert.Equal(t, "rel/path", expandPath("rel/path"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no sft output", func(c *Config) { c.Project.Output.SFT = "" }, "project.output.sft"},
		{"bad backend", func(c *Config) { c.Generation.BackendType = "ollama" }, "invalid backend_type"},
		{"no endpoint", func(c *Config) { c.Generation.Endpoint = "" }, "generation.endpoint"},
		{"zero concurrency", func(c *Config) { c.Dispatch.MaxConcurrency = 0 }, "max_concurrency"},
		{"zero depth", func(c *Config) { c.Dispatch.SelfCorrectionDepth = 0 }, "self_correction_depth"},
		{"negative evolution", func(c *Config) { c.Evolution.MaxDepth = -1 }, "max_depth"},
		{"endless brainstorm", func(c *Config) {
			c.Seeds.Brainstorm = true
			c.Seeds.TargetCount = 0
			c.Seeds.BrainstormRounds = 0
		}, "target_count"},
		{"bad dedup mode", func(c *Config) { c.Dedup.Mode = "fuzzy" }, "dedup.mode"},
		{"postgres without url", func(c *Config) { c.Golden.Backend = GoldenPostgres }, "golden"},
		{"postgres with url", func(c *Config) {
			c.Golden.Backend = GoldenPostgres
			c.Golden.PostgresURL = "postgres://u:p@localhost:5432/golden"
		}, ""},
		{"bad golden backend", func(c *Config) { c.Golden.Backend = "mongo" }, "invalid golden.backend"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"zero compiler timeout", func(c *Config) { c.Verdict.Timeout = 0 }, "verdict.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Project.DataDir = filepath.Join(dir, "data")
	cfg.Project.Output.SFT = filepath.Join(dir, "out", "sft.jsonl")
	cfg.Project.Output.History = filepath.Join(dir, "hist", "history.jsonl")
	cfg.Logging.File = filepath.Join(dir, "logs", "run.log")

	require.NoError(t, cfg.EnsureDirectories())
	for _, sub := range []string{"data", "out", "hist", "logs"} {
		assert.DirExists(t, filepath.Join(dir, sub))
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Generation.APIKey = "sk-test"
	cfg.Generation.RequestsPerMinute = 120
	cfg.Verdict.IncludePath = "/opt/matiec/lib"

	p := cfg.ProviderConfig()
	assert.Equal(t, llm.BackendVLLM, p.BackendType)
	assert.Equal(t, "sk-test", p.APIKey)
	assert.Equal(t, 120, p.RequestsPerMinute)
	assert.Equal(t, cfg.Generation.Model, p.Model)

	d := cfg.DispatchConfig()
	assert.Equal(t, 8, d.MaxConcurrency)
	assert.Equal(t, cfg.Generation.MaxTokens, d.MaxTokens)

	m := cfg.MatiecConfig()
	assert.Equal(t, "/opt/matiec/lib", m.IncludePath)
	assert.Equal(t, 10*time.Second, m.Timeout)

	f := cfg.FastOptions()
	assert.Equal(t, "FUNCTION_BLOCK", f.RequiredPOU)
	assert.True(t, f.RequireVar)

	assert.Equal(t, "stdistill:incidents", cfg.RedisConfig().Stream)
	assert.Equal(t, "stdistill", cfg.UploaderConfig().Bucket)

	assert.Equal(t, logging.LevelInfo, cfg.LoggingConfig(false).Level)
	assert.Equal(t, logging.LevelDebug, cfg.LoggingConfig(true).Level)
}
