// Package agentroom wires the room server, router, orchestrator, context
// assembler, tools, memory and persistence into one App built from a
// config.Config. Most embedders only need New, App.Handler and App.Shutdown:
//
//	cfg, _ := config.Load("agentroom.yaml")
//	app, err := agentroom.New(ctx, cfg)
//	...
//	http.ListenAndServe(cfg.Server.Addr, app.Handler())
//
// Every collaborator can be replaced through Options, which is how tests
// inject in-memory stores and scripted models.
package agentroom

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/agentroom/config"
	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/embedding"
	"github.com/hupe1980/agentroom/logging"
	"github.com/hupe1980/agentroom/memory"
	"github.com/hupe1980/agentroom/metrics"
	"github.com/hupe1980/agentroom/model"
	anthropicmodel "github.com/hupe1980/agentroom/model/anthropic"
	"github.com/hupe1980/agentroom/model/gemini"
	"github.com/hupe1980/agentroom/model/openai"
	"github.com/hupe1980/agentroom/orchestrator"
	"github.com/hupe1980/agentroom/prompt"
	"github.com/hupe1980/agentroom/router"
	"github.com/hupe1980/agentroom/server"
	"github.com/hupe1980/agentroom/store/memstore"
	"github.com/hupe1980/agentroom/store/pebblestore"
	"github.com/hupe1980/agentroom/tool"
	"github.com/hupe1980/agentroom/tool/builtin"
)

// Options override collaborators that New would otherwise build from the
// configuration.
type Options struct {
	Gateway     core.Gateway
	Embedder    embedding.Embedder
	VectorIndex core.VectorIndex
	Models      *model.Registry
	// Toolsets are registered next to the built-in room and memory toolsets.
	Toolsets []tool.Toolset
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

// App is a fully wired agentroom instance.
type App struct {
	Config       *config.Config
	Gateway      core.Gateway
	Models       *model.Registry
	Memory       *memory.LongTerm
	Tools        *tool.Runner
	Router       *router.Router
	Orchestrator *orchestrator.Orchestrator
	Server       *server.Server
	Metrics      *metrics.Metrics
	Logger       logging.Logger

	closeGateway bool
}

// New builds an App from cfg. The caller owns the App and must call Shutdown.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	app := &App{Config: cfg, Metrics: opts.Metrics, Logger: opts.Logger}
	if app.Logger == nil {
		l, err := cfg.Logging.NewLogger()
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		app.Logger = l
	}
	if app.Metrics == nil {
		app.Metrics = metrics.New()
	}

	app.Gateway = opts.Gateway
	if app.Gateway == nil {
		gw, err := OpenGateway(cfg.Storage, app.Logger)
		if err != nil {
			return nil, err
		}
		app.Gateway = gw
		app.closeGateway = true
	}

	if err := app.wire(ctx, opts); err != nil {
		if app.closeGateway {
			_ = app.Gateway.Close()
		}
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config

	embedder := opts.Embedder
	if embedder == nil {
		e, err := NewEmbedder(ctx, cfg.Embedding)
		if err != nil {
			return err
		}
		embedder = e
	}

	var recaller prompt.Recaller
	toolsets := []tool.Toolset{builtin.Room(a.Gateway)}
	if embedder != nil {
		index := opts.VectorIndex
		if index == nil {
			index = memory.NewInMemoryIndex()
		}
		a.Memory = memory.NewLongTerm(index, embedder, func(o *memory.LongTermOptions) {
			o.MinScore = cfg.Context.MinScore
		})
		recaller = a.Memory
		toolsets = append(toolsets, builtin.Memory(a.Memory))
	}
	toolsets = append(toolsets, opts.Toolsets...)

	a.Models = opts.Models
	if a.Models == nil {
		models, err := NewModels(ctx, cfg.Models)
		if err != nil {
			return err
		}
		a.Models = models
	}

	registry, err := tool.NewRegistry(toolsets...)
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	a.Tools = tool.NewRunner(registry, func(o *tool.RunnerOptions) {
		o.Logger = logging.With(a.Logger, "component", "tool")
	})

	assembler, err := prompt.New(a.Gateway, recaller, func(o *prompt.Options) {
		if cfg.Context.Preamble != "" {
			o.Preamble = cfg.Context.Preamble
		}
		o.WindowSize = cfg.Context.WindowSize
		o.LongTermTopK = cfg.Context.LongTermTopK
		o.Logger = logging.With(a.Logger, "component", "prompt")
	})
	if err != nil {
		return fmt.Errorf("create assembler: %w", err)
	}

	deps := orchestrator.Dependencies{
		Store:     a.Gateway,
		Assembler: assembler,
		Models:    a.Models,
		Tools:     a.Tools,
	}
	if a.Memory != nil {
		deps.Memory = a.Memory
	}
	a.Orchestrator = orchestrator.New(deps, func(o *orchestrator.Options) {
		o.MaxToolRounds = cfg.Orchestrator.MaxToolRounds
		o.TurnTimeout = cfg.Orchestrator.TurnTimeout
		o.PersistPartialOnFailure = cfg.Orchestrator.PersistPartialOnFailure
		if cfg.Orchestrator.DispatchTTL > 0 {
			o.DispatchTTL = cfg.Orchestrator.DispatchTTL
		}
		o.Logger = logging.With(a.Logger, "component", "orchestrator")
		o.Metrics = a.Metrics
	})

	a.Router = router.New(func(o *router.Options) {
		o.Config = cfg.Router
		o.Embedder = embedder
		o.Logger = logging.With(a.Logger, "component", "router")
		o.Metrics = a.Metrics
	})

	sdeps := server.Dependencies{Gateway: a.Gateway, Router: a.Router, Orchestrator: a.Orchestrator}
	if a.Memory != nil {
		sdeps.Memory = a.Memory
	}
	a.Server, err = server.New(sdeps, func(o *server.Options) {
		sc := cfg.Server
		o.IdentityHeader = sc.IdentityHeader
		o.AllowedOrigins = sc.AllowedOrigins
		o.EchoToSender = sc.EchoToSender
		o.CancelOnDisconnect = sc.CancelOnDisconnect
		o.ReorderWindow = sc.ReorderWindow
		o.SendBuffer = sc.SendBuffer
		o.RateLimit = sc.RateLimit.RPS
		o.RateBurst = sc.RateLimit.Burst
		if sc.RequestTimeout > 0 {
			o.RequestTimeout = sc.RequestTimeout
		}
		o.HistoryLimit = sc.HistoryLimit
		o.Logger = logging.With(a.Logger, "component", "server")
		o.Metrics = a.Metrics
	})
	if err != nil {
		a.shutdownOrchestrator()
		return fmt.Errorf("create server: %w", err)
	}
	return nil
}

func (a *App) shutdownOrchestrator() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Orchestrator.Shutdown(ctx)
}

// Handler serves /ws, /healthz and /metrics.
func (a *App) Handler() http.Handler { return a.Server }

// Shutdown closes client connections, cancels running turns and waits for
// them, then closes the gateway if New opened it.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Orchestrator.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.closeGateway {
		if err := a.Gateway.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gateway: %w", err))
		}
	}
	return errors.Join(errs...)
}

// OpenGateway opens the configured persistence gateway.
func OpenGateway(cfg config.StorageConfig, logger logging.Logger) (core.Gateway, error) {
	switch cfg.Driver {
	case config.StorageMemory, "":
		return memstore.New(), nil
	case config.StoragePebble:
		s, err := pebblestore.Open(cfg.Path, func(o *pebblestore.Options) {
			o.NoSync = cfg.NoSync
			o.Logger = logging.With(logger, "component", "pebblestore")
		})
		if err != nil {
			return nil, fmt.Errorf("open pebble store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// NewEmbedder builds the configured embedder. It returns nil when embeddings
// are disabled, which turns off semantic routing and long-term memory.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingNone, "":
		return nil, nil
	case config.EmbeddingHash:
		return embedding.NewHashEmbedder(cfg.Dimensions), nil
	case config.EmbeddingOpenAI:
		return embedding.NewOpenAIEmbedder(cfg.ResolveAPIKey(), cfg.Model, cfg.Dimensions), nil
	case config.EmbeddingGenAI:
		e, err := embedding.NewGenAIEmbedder(ctx, cfg.ResolveAPIKey(), cfg.Model, cfg.TaskType, cfg.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("create genai embedder: %w", err)
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// NewModels registers every configured provider.
func NewModels(ctx context.Context, cfg config.ModelsConfig) (*model.Registry, error) {
	reg := model.NewRegistry()
	for _, p := range cfg.Providers {
		m, err := newModel(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", p.Name, err)
		}
		reg.Register(p.Name, m)
	}
	if cfg.Default != "" {
		if err := reg.SetDefault(cfg.Default); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newModel(ctx context.Context, p config.ProviderConfig) (model.Model, error) {
	key := p.ResolveAPIKey()
	switch p.Provider {
	case config.ProviderMock:
		return model.NewMockModel(p.Name), nil
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if p.Model != "" {
				o.Model = p.Model
			}
			if p.Temperature > 0 {
				o.Temperature = p.Temperature
			}
			if p.MaxTokens > 0 {
				o.MaxCompletionTokens = p.MaxTokens
			}
			o.APIKey = key
			o.BaseURL = p.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if p.Model != "" {
				o.Model = anthropic.Model(p.Model)
			}
			if p.Temperature > 0 {
				o.Temperature = p.Temperature
			}
			if p.MaxTokens > 0 {
				o.MaxTokens = p.MaxTokens
			}
			o.APIKey = key
		}), nil
	case config.ProviderGemini:
		return gemini.NewModel(ctx, func(o *gemini.Options) {
			if p.Model != "" {
				o.Model = p.Model
			}
			if p.Temperature > 0 {
				o.Temperature = float32(p.Temperature)
			}
			if p.MaxTokens > 0 {
				o.MaxOutputTokens = int32(p.MaxTokens)
			}
			o.APIKey = key
		})
	}
	return nil, fmt.Errorf("unknown provider %q", p.Provider)
}
