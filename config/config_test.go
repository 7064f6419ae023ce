package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graphlocal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tool:", cfg.Graph.ToolPrefix)
	assert.Equal(t, 300*time.Millisecond, cfg.Graph.ToolProcessingDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Graph.ResponseDelay)
	assert.Equal(t, "fake_search", cfg.Graph.FakeToolName)
	assert.Equal(t, 25, cfg.Graph.MaxSteps)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, DefaultGraphName, cfg.Server.DefaultGraph)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, BackendMemory, cfg.Checkpoint.Backend)
	assert.Equal(t, "checkpoints", cfg.Checkpoint.Table)
	assert.Equal(t, "graphlocal:", cfg.Checkpoint.RedisPrefix)

	assert.False(t, cfg.Debug)
	assert.Equal(t, "INFO", cfg.Level())
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TOOL_PREFIX", "search:")
	t.Setenv("TOOL_PROCESSING_DELAY", "0s")
	t.Setenv("RESPONSE_DELAY", "50ms")
	t.Setenv("FAKE_TOOL_NAME", "web_search")
	t.Setenv("DEBUG", "true")
	t.Setenv("SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("CHECKPOINT_BACKEND", "sqlite")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "search:", cfg.Graph.ToolPrefix)
	assert.Equal(t, time.Duration(0), cfg.Graph.ToolProcessingDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.Graph.ResponseDelay)
	assert.Equal(t, "web_search", cfg.Graph.FakeToolName)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "DEBUG", cfg.Level())
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, BackendSQLite, cfg.Checkpoint.Backend)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
}

func TestLoad_ExplicitLogLevelWinsOverDebug(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEBUG", "true")
	t.Setenv("LOG_LEVEL", "WARNING")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "WARNING", cfg.Level())
}

func TestLoad_FileWithNamedGraphs(t *testing.T) {
	path := writeConfig(t, `
graph:
  response_delay: 10ms
graphs:
  fast:
    tool_processing_delay: 0s
    response_delay: 0s
  lookup:
    tool_prefix: "lookup:"
server:
  default_graph: default
checkpoint:
  backend: redis
  redis_addr: redis:6379
  redis_ttl: 1h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.Graph.ResponseDelay)
	require.Contains(t, cfg.Graphs, "fast")
	require.Contains(t, cfg.Graphs, "lookup")

	fast := cfg.Graphs["fast"]
	assert.Equal(t, time.Duration(0), fast.ToolProcessingDelay)
	assert.Equal(t, time.Duration(0), fast.ResponseDelay)
	assert.Equal(t, "tool:", fast.ToolPrefix, "missing keys inherit graph.*")

	lookup := cfg.Graphs["lookup"]
	assert.Equal(t, "lookup:", lookup.ToolPrefix)
	assert.Equal(t, 10*time.Millisecond, lookup.ResponseDelay)
	assert.Equal(t, "fake_search", lookup.FakeToolName)

	assert.Equal(t, BackendRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, "redis:6379", cfg.Checkpoint.RedisAddr)
	assert.Equal(t, time.Hour, cfg.Checkpoint.RedisTTL)

	named := cfg.NamedGraphs()
	assert.Len(t, named, 3)
	assert.Equal(t, cfg.Graph, named[DefaultGraphName])
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHECKPOINT_BACKEND", "etcd")

	_, err := Load("")
	assert.ErrorContains(t, err, `unknown backend "etcd"`)
}

func TestGraphConfig_Validate(t *testing.T) {
	valid := GraphConfig{ToolPrefix: "tool:", FakeToolName: "fake_search", MaxSteps: 25}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*GraphConfig)
	}{
		{"empty prefix", func(g *GraphConfig) { g.ToolPrefix = "  " }},
		{"negative tool delay", func(g *GraphConfig) { g.ToolProcessingDelay = -time.Second }},
		{"negative response delay", func(g *GraphConfig) { g.ResponseDelay = -time.Second }},
		{"empty tool name", func(g *GraphConfig) { g.FakeToolName = "" }},
		{"zero max steps", func(g *GraphConfig) { g.MaxSteps = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := valid
			tt.mutate(&g)
			assert.Error(t, g.Validate())
		})
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := Config{
		Graph:      GraphConfig{ToolPrefix: "tool:", FakeToolName: "x", MaxSteps: 1},
		Server:     ServerConfig{DefaultGraph: "default"},
		Checkpoint: CheckpointConfig{Backend: BackendPostgres},
	}
	assert.ErrorContains(t, cfg.Validate(), "postgres_dsn")

	cfg.Checkpoint.PostgresDSN = "postgres://localhost/graphlocal"
	assert.NoError(t, cfg.Validate())
}
