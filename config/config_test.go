package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.InDelta(t, 0.35, cfg.Router.SemanticThreshold, 1e-9)
	assert.True(t, cfg.Server.EchoToSender)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, "agentroom.yaml", `
server:
  addr: ":9090"
  echo_to_sender: false
  reorder_window: 25ms
  rate_limit:
    rps: 2
    burst: 4
storage:
  driver: pebble
  path: /tmp/agentroom
router:
  semantic_threshold: 0.5
  synonyms:
    code: [golang, bug]
orchestrator:
  turn_timeout: 30s
models:
  default: fast
  providers:
    - name: fast
      provider: openai
      model: gpt-4o-mini
      api_key_env: OPENAI_API_KEY
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.False(t, cfg.Server.EchoToSender)
	assert.True(t, cfg.Server.CancelOnDisconnect, "unset fields keep their default")
	assert.Equal(t, 25*time.Millisecond, cfg.Server.ReorderWindow)
	assert.Equal(t, RateLimitConfig{RPS: 2, Burst: 4}, cfg.Server.RateLimit)
	assert.Equal(t, StoragePebble, cfg.Storage.Driver)
	assert.InDelta(t, 0.5, cfg.Router.SemanticThreshold, 1e-9)
	assert.True(t, cfg.Router.DefaultSingleAgent)
	assert.Equal(t, []string{"golang", "bug"}, cfg.Router.Synonyms["code"])
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.TurnTimeout)
	require.Len(t, cfg.Models.Providers, 1)
	assert.Equal(t, "gpt-4o-mini", cfg.Models.Providers[0].Model)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "server: ["))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"AGENTROOM_ADDR":                 ":7000",
		"AGENTROOM_STORAGE_DRIVER":       "pebble",
		"AGENTROOM_LOG_LEVEL":            "debug",
		"AGENTROOM_ALLOWED_ORIGINS":      "https://a.example, https://b.example",
		"AGENTROOM_CANCEL_ON_DISCONNECT": "false",
		"AGENTROOM_RATE_LIMIT_RPS":       "0",
		"AGENTROOM_TURN_TIMEOUT":         "45s",
		"AGENTROOM_SEMANTIC_THRESHOLD":   "0.2",
		"UNRELATED":                      "x",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, StoragePebble, cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Server.CancelOnDisconnect)
	assert.Zero(t, cfg.Server.RateLimit.RPS)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.TurnTimeout)
	assert.InDelta(t, 0.2, cfg.Router.SemanticThreshold, 1e-9)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"AGENTROOM_ECHO_TO_SENDER": "maybe",
		"AGENTROOM_TURN_TIMEOUT":   "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTROOM_ECHO_TO_SENDER")
	assert.Contains(t, err.Error(), "AGENTROOM_TURN_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"pebble without path", func(c *Config) { c.Storage.Driver = StoragePebble; c.Storage.Path = "" }, "storage.path"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad backend", func(c *Config) { c.Logging.Backend = "logrus" }, "logging.backend"},
		{"threshold range", func(c *Config) { c.Router.SemanticThreshold = 1.5 }, "semantic_threshold"},
		{"window", func(c *Config) { c.Context.WindowSize = 0 }, "window_size"},
		{"tool rounds", func(c *Config) { c.Orchestrator.MaxToolRounds = 0 }, "max_tool_rounds"},
		{"unknown provider", func(c *Config) { c.Models.Providers[0].Provider = "llama" }, "unknown provider"},
		{"duplicate provider", func(c *Config) {
			c.Models.Providers = append(c.Models.Providers, c.Models.Providers[0])
		}, "duplicate name"},
		{"dangling default", func(c *Config) { c.Models.Default = "gone" }, "models.default"},
		{"embedding provider", func(c *Config) { c.Embedding.Provider = "word2vec" }, "embedding.provider"},
		{"burst", func(c *Config) { c.Server.RateLimit.Burst = 0 }, "burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "AGENTROOM_TEST_DOTENV=from-file\n")
	t.Setenv("AGENTROOM_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("AGENTROOM_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env"), path))
	assert.Equal(t, "from-file", os.Getenv("AGENTROOM_TEST_DOTENV"))
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("AGENTROOM_TEST_KEY", "secret")
	assert.Equal(t, "inline", ProviderConfig{APIKey: "inline", APIKeyEnv: "AGENTROOM_TEST_KEY"}.ResolveAPIKey())
	assert.Equal(t, "secret", ProviderConfig{APIKeyEnv: "AGENTROOM_TEST_KEY"}.ResolveAPIKey())
	assert.Equal(t, "secret", EmbeddingConfig{APIKeyEnv: "AGENTROOM_TEST_KEY"}.ResolveAPIKey())
	assert.Empty(t, ProviderConfig{}.ResolveAPIKey())
}

func TestNewLogger(t *testing.T) {
	l, err := LoggingConfig{Backend: "slog", Level: "warn", Format: "text"}.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = LoggingConfig{Level: "loud"}.NewLogger()
	require.Error(t, err)
}
