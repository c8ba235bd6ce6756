// Package app constructs every external client from configuration and tears
// them down again. Nothing in the pipeline reaches for a global handle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/repoqa/internal/config"
	"github.com/efebarandurmaz/repoqa/internal/content"
	"github.com/efebarandurmaz/repoqa/internal/llm"
	"github.com/efebarandurmaz/repoqa/internal/llmutil"
	"github.com/efebarandurmaz/repoqa/internal/observability"
	"github.com/efebarandurmaz/repoqa/internal/rag"
	"github.com/efebarandurmaz/repoqa/internal/server"
	"github.com/efebarandurmaz/repoqa/internal/source"
	"github.com/efebarandurmaz/repoqa/internal/vector"
	"github.com/efebarandurmaz/repoqa/internal/vector/memory"
	"github.com/efebarandurmaz/repoqa/internal/vector/qdrant"
)

// Version is reported by health endpoints and traces.
var Version = "0.1.0"

// App holds the constructed pipeline and the clients it owns.
type App struct {
	Config    *config.Config
	Service   *rag.Service
	Store     vector.Store
	Snapshots *content.RedisStore // nil unless content.snapshots = redis
	Metrics   *observability.Metrics
	Tracing   *observability.TracerProvider
	Embedder  llm.Provider
	Completer llm.Provider

	logger *slog.Logger
}

// Options lets callers substitute capabilities, mainly in tests.
type Options struct {
	Embedder  llm.Embedder
	Completer llm.Completer
	Store     vector.Store
	Fetcher   rag.Fetcher
	Logger    *slog.Logger
}

// Build validates cfg and wires the pipeline. Missing credentials fail here,
// before any request is served.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Require(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Metrics: observability.NewMetrics(), logger: logger}

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "repoqa",
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.Tracing = tp

	embedder, completer, err := a.providers(opts)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	store := opts.Store
	if store == nil {
		if store, err = openStore(ctx, cfg); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	a.Store = store

	var loader content.Loader = content.FSLoader{}
	var saver content.Saver
	if cfg.Content.Snapshots == "redis" {
		snap, err := content.NewRedisStore(ctx, content.RedisOptions{
			Addr:     cfg.Content.RedisAddr,
			Password: cfg.Content.RedisPassword,
			DB:       cfg.Content.RedisDB,
			TTL:      cfg.Content.SnapshotTTL,
		})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("%w: content snapshots: %v", config.ErrInvalid, err)
		}
		a.Snapshots = snap
		loader = content.Chain{snap, content.FSLoader{}}
		saver = snap
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = source.New(source.Config{Workdir: cfg.Ingest.Workdir, Timeout: cfg.Ingest.CloneTimeout}, logger)
	}

	dims := cfg.Embedding.Dimensions
	gateway := rag.NewGateway(embedder, rag.GatewayConfig{
		Dimensions:    dims,
		MaxInputChars: cfg.Embedding.MaxInputChars,
		Timeout:       cfg.Embedding.Timeout,
		Retry: llm.RetryConfig{
			MaxRetries: cfg.Embedding.MaxRetries,
			RetryDelay: cfg.Embedding.RetryDelay,
			MaxDelay:   llm.DefaultRetryConfig().MaxDelay,
		},
	}, a.Metrics)

	ingestor := rag.NewIngestor(
		rag.NewFilter(cfg.Ingest.MaxFileChars, cfg.Ingest.Extensions),
		gateway,
		rag.NewWriter(store, dims, a.Metrics),
		saver,
		rag.IngestConfig{Workers: cfg.Ingest.Workers, SkipDirs: cfg.Ingest.SkipDirs},
		a.Metrics,
	).WithLogger(logger)

	querier := rag.NewQuerier(
		rag.NewRetriever(gateway, store, a.Metrics),
		rag.NewAssembler(loader, cfg.Prompt.MaxChars, a.Metrics),
		rag.NewGenerator(completer, rag.GeneratorConfig{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, a.Metrics),
		a.Metrics,
	)

	a.Service = rag.NewService(fetcher, ingestor, querier, cfg.Namespace.Default, cfg.Retrieval.TopK)
	logger.Info("pipeline ready",
		"embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model,
		"llm", cfg.LLM.Provider+"/"+cfg.LLM.Model,
		"vector", cfg.Vector.Backend,
		"snapshots", cfg.Content.Snapshots,
		"dimensions", dims,
	)
	return a, nil
}

func (a *App) providers(opts Options) (llm.Embedder, llm.Completer, error) {
	cfg := a.Config
	factory := llm.NewFactory()
	llmutil.RegisterDefaultProviders(factory)

	embedder := opts.Embedder
	if embedder == nil {
		p, err := factory.Create(llm.ProviderConfig{
			Provider:          cfg.Embedding.Provider,
			APIKey:            cfg.Embedding.APIKey,
			Model:             cfg.Embedding.Model,
			BaseURL:           cfg.Embedding.BaseURL,
			EmbedModel:        cfg.Embedding.Model,
			Dimensions:        cfg.Embedding.Dimensions,
			Timeout:           cfg.Embedding.Timeout,
			RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: embedding provider: %v", config.ErrInvalid, err)
		}
		a.Embedder = p
		embedder = p
	}

	completer := opts.Completer
	if completer == nil {
		p, err := factory.Create(llm.ProviderConfig{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
			BaseURL:  cfg.LLM.BaseURL,
			Timeout:  cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: llm provider: %v", config.ErrInvalid, err)
		}
		a.Completer = p
		completer = p
	}
	if embedder == nil || completer == nil {
		return nil, nil, fmt.Errorf("%w: embedding and llm providers are required", config.ErrInvalid)
	}
	return embedder, completer, nil
}

func openStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.Vector.Backend {
	case "memory":
		return memory.New(cfg.Embedding.Dimensions), nil
	default:
		s, err := qdrant.New(ctx, qdrant.Options{
			Host:       cfg.Vector.Host,
			Port:       cfg.Vector.Port,
			APIKey:     cfg.Vector.APIKey,
			UseTLS:     cfg.Vector.UseTLS,
			Collection: cfg.Vector.Collection,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: vector store: %v", config.ErrInvalid, err)
		}
		return s, nil
	}
}

// RegisterHealthChecks adds one check per external dependency.
func (a *App) RegisterHealthChecks(h *server.HealthServer) {
	cfg := a.Config
	var ping func(context.Context) error
	if p, ok := a.Store.(interface{ Ping(context.Context) error }); ok {
		ping = p.Ping
	}
	h.RegisterCheck("vector-store", server.VectorStoreHealthChecker(cfg.Vector.Backend, ping))
	h.RegisterCheck("embedding", server.ProviderHealthChecker("embedding", cfg.Embedding.Provider, cfg.Embedding.Model))
	h.RegisterCheck("completion", server.ProviderHealthChecker("completion", cfg.LLM.Provider, cfg.LLM.Model))
	if a.Snapshots != nil {
		h.RegisterCheck("snapshots", server.ContentStoreHealthChecker(a.Snapshots.Ping))
	}
}

// RegisterShutdownHooks closes owned clients after the HTTP server drains.
func (a *App) RegisterShutdownHooks(h *server.ShutdownHandler) {
	if a.Store != nil {
		h.Add(server.StoreShutdownHook("vector-store", a.Store.Close))
	}
	if a.Snapshots != nil {
		h.Add(server.StoreShutdownHook("snapshots", a.Snapshots.Close))
	}
	if a.Tracing != nil {
		h.Add(server.TracingShutdownHook(a.Tracing.Shutdown))
	}
}

// Close releases every client the app owns.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Snapshots != nil {
		errs = append(errs, a.Snapshots.Close())
	}
	if a.Tracing != nil {
		errs = append(errs, a.Tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
