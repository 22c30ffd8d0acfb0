// Package config loads the agentroomd configuration: built-in defaults, an
// optional YAML file, an optional .env file and AGENTROOM_* environment
// overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/agentroom/logging"
	"github.com/hupe1980/agentroom/router"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTROOM_"

// Storage drivers.
const (
	StorageMemory = "memory"
	StoragePebble = "pebble"
)

// Model providers.
const (
	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Embedding providers.
const (
	EmbeddingNone   = "none"
	EmbeddingHash   = "hash"
	EmbeddingOpenAI = "openai"
	EmbeddingGenAI  = "genai"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
	Router       router.Config      `yaml:"router"`
	Context      ContextConfig      `yaml:"context"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Models       ModelsConfig       `yaml:"models"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
}

type ServerConfig struct {
	Addr               string          `yaml:"addr"`
	IdentityHeader     string          `yaml:"identity_header"`
	AllowedOrigins     []string        `yaml:"allowed_origins"`
	EchoToSender       bool            `yaml:"echo_to_sender"`
	CancelOnDisconnect bool            `yaml:"cancel_on_disconnect"`
	ReorderWindow      time.Duration   `yaml:"reorder_window"`
	SendBuffer         int             `yaml:"send_buffer"`
	RequestTimeout     time.Duration   `yaml:"request_timeout"`
	HistoryLimit       int             `yaml:"history_limit"`
	ShutdownTimeout    time.Duration   `yaml:"shutdown_timeout"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is the per-connection token bucket. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	NoSync bool   `yaml:"no_sync"`
}

type LoggingConfig struct {
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

type ContextConfig struct {
	Preamble     string `yaml:"preamble"`
	WindowSize   int    `yaml:"window_size"`
	LongTermTopK int    `yaml:"long_term_top_k"`
	// MinScore drops recalled memories scoring below it.
	MinScore float64 `yaml:"min_score"`
}

type OrchestratorConfig struct {
	MaxToolRounds           int           `yaml:"max_tool_rounds"`
	TurnTimeout             time.Duration `yaml:"turn_timeout"`
	PersistPartialOnFailure bool          `yaml:"persist_partial_on_failure"`
	DispatchTTL             time.Duration `yaml:"dispatch_ttl"`
}

type ModelsConfig struct {
	// Default names the provider used by agent definitions without a model.
	Default   string           `yaml:"default"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig registers one model under Name.
type ProviderConfig struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// ResolveAPIKey returns APIKey, falling back to the APIKeyEnv variable.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	APIKeyEnv  string `yaml:"api_key_env"`
	TaskType   string `yaml:"task_type"`
}

// ResolveAPIKey returns APIKey, falling back to the APIKeyEnv variable.
func (e EmbeddingConfig) ResolveAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.APIKeyEnv != "" {
		return os.Getenv(e.APIKeyEnv)
	}
	return ""
}

// Default returns a configuration that runs fully in memory with the mock
// model and the hashing embedder.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			IdentityHeader:     "X-Actor-ID",
			EchoToSender:       true,
			CancelOnDisconnect: true,
			ReorderWindow:      50 * time.Millisecond,
			SendBuffer:         256,
			RequestTimeout:     10 * time.Second,
			HistoryLimit:       100,
			ShutdownTimeout:    15 * time.Second,
			RateLimit:          RateLimitConfig{RPS: 5, Burst: 10},
		},
		Storage: StorageConfig{Driver: StorageMemory, Path: "./data"},
		Logging: LoggingConfig{Backend: "slog", Level: "info", Format: "json"},
		Router:  router.DefaultConfig(),
		Context: ContextConfig{WindowSize: 20, LongTermTopK: 5},
		Orchestrator: OrchestratorConfig{
			MaxToolRounds: 8,
			TurnTimeout:   2 * time.Minute,
			DispatchTTL:   10 * time.Minute,
		},
		Models: ModelsConfig{
			Default:   "mock",
			Providers: []ProviderConfig{{Name: "mock", Provider: ProviderMock}},
		},
		Embedding: EmbeddingConfig{Provider: EmbeddingHash, Dimensions: 256},
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files without overriding
// variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv applies AGENTROOM_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(name string, fn func(v string) error) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			}
		}
	}

	str("ADDR", &c.Server.Addr)
	str("IDENTITY_HEADER", &c.Server.IdentityHeader)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("STORAGE_PATH", &c.Storage.Path)
	str("LOG_BACKEND", &c.Logging.Backend)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("DEFAULT_MODEL", &c.Models.Default)
	str("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("EMBEDDING_MODEL", &c.Embedding.Model)

	parse("ALLOWED_ORIGINS", func(v string) error {
		c.Server.AllowedOrigins = splitList(v)
		return nil
	})
	parse("ECHO_TO_SENDER", func(v string) (err error) {
		c.Server.EchoToSender, err = strconv.ParseBool(v)
		return err
	})
	parse("CANCEL_ON_DISCONNECT", func(v string) (err error) {
		c.Server.CancelOnDisconnect, err = strconv.ParseBool(v)
		return err
	})
	parse("RATE_LIMIT_RPS", func(v string) (err error) {
		c.Server.RateLimit.RPS, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("RATE_LIMIT_BURST", func(v string) (err error) {
		c.Server.RateLimit.Burst, err = strconv.Atoi(v)
		return err
	})
	parse("TURN_TIMEOUT", func(v string) (err error) {
		c.Orchestrator.TurnTimeout, err = time.ParseDuration(v)
		return err
	})
	parse("SEMANTIC_THRESHOLD", func(v string) (err error) {
		c.Router.SemanticThreshold, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("STORAGE_NO_SYNC", func(v string) (err error) {
		c.Storage.NoSync, err = strconv.ParseBool(v)
		return err
	})
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr is required")
	}
	if c.Server.IdentityHeader == "" {
		add("server.identity_header is required")
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst <= 0 {
		add("server.rate_limit.burst must be positive when rps is set")
	}
	if c.Server.ReorderWindow < 0 {
		add("server.reorder_window must not be negative")
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePebble:
		if c.Storage.Path == "" {
			add("storage.path is required for the pebble driver")
		}
	default:
		add("storage.driver %q is not one of memory, pebble", c.Storage.Driver)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	switch c.Logging.Backend {
	case "", "slog", "zap":
	default:
		add("logging.backend %q is not one of slog, zap", c.Logging.Backend)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		add("logging.format %q is not one of json, text", c.Logging.Format)
	}

	if t := c.Router.SemanticThreshold; t < 0 || t > 1 {
		add("router.semantic_threshold %.2f is outside [0, 1]", t)
	}
	if c.Context.WindowSize <= 0 {
		add("context.window_size must be positive")
	}
	if c.Context.LongTermTopK < 0 {
		add("context.long_term_top_k must not be negative")
	}
	if c.Orchestrator.MaxToolRounds <= 0 {
		add("orchestrator.max_tool_rounds must be positive")
	}
	if c.Orchestrator.TurnTimeout < 0 {
		add("orchestrator.turn_timeout must not be negative")
	}

	names := map[string]bool{}
	for i, p := range c.Models.Providers {
		if p.Name == "" {
			add("models.providers[%d].name is required", i)
			continue
		}
		if names[p.Name] {
			add("models.providers[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true
		switch p.Provider {
		case ProviderMock, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		default:
			add("models.providers[%d]: unknown provider %q", i, p.Provider)
		}
	}
	if len(c.Models.Providers) == 0 {
		add("models.providers must not be empty")
	}
	if c.Models.Default != "" && !names[c.Models.Default] {
		add("models.default %q names no provider", c.Models.Default)
	}

	switch c.Embedding.Provider {
	case EmbeddingNone, "":
	case EmbeddingHash, EmbeddingOpenAI, EmbeddingGenAI:
		if c.Embedding.Dimensions < 0 {
			add("embedding.dimensions must not be negative")
		}
	default:
		add("embedding.provider %q is not one of none, hash, openai, genai", c.Embedding.Provider)
	}
	return errors.Join(errs...)
}

// NewLogger builds the configured logger.
func (l LoggingConfig) NewLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{Level: level, Format: l.Format, Backend: l.Backend})
}
