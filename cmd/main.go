package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	rediscache "github.com/davidbz/conductor/internal/cache/redis"
	"github.com/davidbz/conductor/internal/config"
	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/http"
	"github.com/davidbz/conductor/internal/http/middleware"
	"github.com/davidbz/conductor/internal/observability"
	"github.com/davidbz/conductor/internal/provider/echo"
	"github.com/davidbz/conductor/internal/provider/openai"
	providerregistry "github.com/davidbz/conductor/internal/provider/registry"
	"github.com/davidbz/conductor/internal/registry"
	"github.com/davidbz/conductor/internal/storage/memory"
	"github.com/davidbz/conductor/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

// closers release storage connections on shutdown, in reverse order of opening.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Printf("Failed to close resource: %v", err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.closeAll()

	container := buildContainer(ctx, &cleanup)

	err := container.Invoke(func(server *http.Server) error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err != nil {
		cleanup.closeAll()
		log.Fatalf("Server failed: %v", err)
	}
}

func buildContainer(ctx context.Context, cleanup *closers) *dig.Container {
	container := dig.New()

	provide := func(name string, constructor interface{}) {
		if err := container.Provide(constructor); err != nil {
			log.Fatalf("Failed to provide %s: %v", name, err)
		}
	}

	// Configuration
	provide("config", config.Load)
	provide("config dependencies", config.ParseDependenciesConfig)
	provide("context", func() context.Context { return ctx })

	// Observability
	provide("logger", observability.InitLogger)
	if err := container.Invoke(func(*zap.Logger) {}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if err := container.Invoke(func(cfg *observability.MetricsConfig) error {
		shutdown, err := observability.InitMetrics(ctx, cfg)
		if err != nil {
			return err
		}
		cleanup.add(func() error {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return shutdown(flushCtx)
		})
		return nil
	}); err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	// Storage
	provide("stores", func(
		ctx context.Context,
		storage *config.StorageConfig,
		redisCfg *config.RedisConfig,
	) (stores, error) {
		return openStores(ctx, storage, redisCfg, cleanup)
	})

	// Model catalog and providers
	provide("model catalog", newCatalog)
	provide("model registry", func(catalog *registry.Registry) domain.ModelRegistry { return catalog })
	provide("provider registry", newProviders)
	provide("provider registry interface", func(r *providerregistry.Registry) domain.ProviderRegistry { return r })
	provide("event bus", func() domain.EventPublisher { return observability.NewEventBus() })

	// Domain services
	provide("circuit breaker", func(
		store domain.BreakerStateStore,
		cfg *config.BreakerConfig,
		events domain.EventPublisher,
	) *domain.CircuitBreakerService {
		return domain.NewCircuitBreakerService(store, cfg.Settings(), domain.WithBreakerEvents(events))
	})
	provide("performance tracker", func(store domain.MetricStore) *domain.PerformanceTracker {
		return domain.NewPerformanceTracker(store)
	})
	provide("cost tracker", domain.NewCostTracker)
	provide("embedding cache", func(store domain.EmbeddingStore, cfg *config.EmbeddingConfig) *domain.EmbeddingCache {
		return domain.NewEmbeddingCache(store, cfg.Dimension)
	})
	provide("model selector", func(
		models domain.ModelRegistry,
		breaker *domain.CircuitBreakerService,
		tracker *domain.PerformanceTracker,
		cfg *config.SelectorConfig,
	) *domain.ModelSelector {
		return domain.NewModelSelector(models, breaker, tracker, cfg.Settings())
	})
	provide("orchestrator", func(
		selector *domain.ModelSelector,
		models domain.ModelRegistry,
		providers domain.ProviderRegistry,
		breaker *domain.CircuitBreakerService,
		tracker *domain.PerformanceTracker,
		costs *domain.CostTracker,
		cache *domain.EmbeddingCache,
		events domain.EventPublisher,
	) *domain.Orchestrator {
		return domain.NewOrchestrator(selector, models, providers, breaker, tracker, costs, cache,
			domain.WithOrchestratorEvents(events))
	})
	provide("chunk embedder", domain.NewChunkEmbedder)

	// HTTP layer
	provide("middleware chain", middleware.BuildMiddlewareChain)
	provide("HTTP handler", http.NewHandler)
	provide("HTTP server", http.NewServer)

	return container
}

// stores exposes one backend under every store interface.
type stores struct {
	dig.Out

	Breakers   domain.BreakerStateStore
	Metrics    domain.MetricStore
	Costs      domain.CostStore
	Embeddings domain.EmbeddingStore
	Chunks     domain.ArtifactChunkStore
}

func openStores(
	ctx context.Context,
	storage *config.StorageConfig,
	redisCfg *config.RedisConfig,
	cleanup *closers,
) (stores, error) {
	logger := observability.FromContext(ctx)
	var out stores

	switch storage.Driver {
	case config.StorageSQLite:
		store, err := sqlite.Open(ctx, storage.SQLitePath)
		if err != nil {
			return out, err
		}
		cleanup.add(store.Close)
		out = stores{Breakers: store, Metrics: store, Costs: store, Embeddings: store, Chunks: store}
		logger.Info("using sqlite storage", observability.String("path", storage.SQLitePath))
	default:
		store := memory.NewStore()
		out = stores{Breakers: store, Metrics: store, Costs: store, Embeddings: store, Chunks: store}
		logger.Warn("using in-memory storage; state is lost on restart")
	}

	if redisCfg.URL != "" {
		client, err := rediscache.NewClient(ctx, redisCfg.URL, redisCfg.Password)
		if err != nil {
			return out, err
		}
		cleanup.add(client.Close)
		out.Embeddings = rediscache.NewEmbeddingStore(client, redisCfg.KeyPrefix)
		logger.Info("using redis embedding cache", observability.String("prefix", redisCfg.KeyPrefix))
	}

	return out, nil
}

// newCatalog builds the model registry from the built-in catalog or the configured file.
// The built-in catalog enables OpenAI models when a key is set and echo models otherwise.
func newCatalog(
	ctx context.Context,
	cfg *config.RegistryConfig,
	openaiCfg *openai.Config,
) (*registry.Registry, error) {
	echoModels, openaiModels := echo.Models(), openai.Models()
	configured := openaiCfg.APIKey != ""
	for i := range echoModels {
		echoModels[i].Enabled = !configured
	}
	for i := range openaiModels {
		openaiModels[i].Enabled = configured
	}

	catalog, err := registry.New(append(echoModels, openaiModels...))
	if err != nil {
		return nil, fmt.Errorf("failed to build default catalog: %w", err)
	}

	if cfg.CatalogPath == "" {
		return catalog, nil
	}
	if err := catalog.LoadFile(cfg.CatalogPath); err != nil {
		return nil, err
	}
	if cfg.Watch {
		if err := catalog.Watch(ctx, cfg.CatalogPath); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// newProviders registers the echo client and, when a key is configured, OpenAI.
func newProviders(
	ctx context.Context,
	openaiCfg *openai.Config,
	embedding *config.EmbeddingConfig,
	models domain.ModelRegistry,
) (*providerregistry.Registry, error) {
	providers := providerregistry.NewRegistry()

	if err := providers.Register(ctx, echo.NewProvider(echo.WithDimension(embedding.Dimension))); err != nil {
		return nil, fmt.Errorf("failed to register echo provider: %w", err)
	}

	if openaiCfg.APIKey != "" {
		client, err := openai.NewProvider(*openaiCfg)
		if err != nil {
			return nil, err
		}
		if err := providers.Register(ctx, client); err != nil {
			return nil, fmt.Errorf("failed to register OpenAI provider: %w", err)
		}
	}

	enabled, err := models.ListModels(ctx, domain.ModelFilter{EnabledOnly: true})
	if err != nil {
		return nil, err
	}
	if missing := providers.Unresolved(ctx, enabled); len(missing) > 0 {
		observability.FromContext(ctx).Warn("models without a provider client will fail at call time",
			observability.Strings("models", missing))
	}
	if len(enabled) == 0 {
		return nil, errors.New("catalog has no enabled models")
	}

	return providers, nil
}
