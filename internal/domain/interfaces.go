package domain

import "context"

// ProviderClient is the single capability every LLM provider variant implements.
type ProviderClient interface {
	// Name returns the provider identifier matched against ModelConfig.Provider.
	Name() string

	// Complete generates text with the given model.
	Complete(ctx context.Context, model, prompt string, params CompletionParams) (*Completion, error)

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, model, text string) (*Embedding, error)
}

// ProviderRegistry resolves provider clients by name.
type ProviderRegistry interface {
	// Register adds a provider client to the registry.
	Register(ctx context.Context, client ProviderClient) error

	// Get retrieves a provider client by name.
	Get(ctx context.Context, providerName string) (ProviderClient, error)

	// List returns all registered provider names.
	List(ctx context.Context) ([]string, error)
}

// ModelRegistry is the catalog of models.
type ModelRegistry interface {
	// ListModels returns models matching the filter, ordered by id.
	ListModels(ctx context.Context, filter ModelFilter) ([]ModelConfig, error)

	// GetModel returns a model by id or ErrModelNotFound.
	GetModel(ctx context.Context, id string) (ModelConfig, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// BreakerStateStore persists circuit breaker state per model.
type BreakerStateStore interface {
	// LoadBreakerState returns the stored state or ErrStateNotFound.
	LoadBreakerState(ctx context.Context, modelID string) (CircuitBreakerState, error)

	// SaveBreakerState upserts the state keyed by model id.
	SaveBreakerState(ctx context.Context, state CircuitBreakerState) error

	// ListBreakerStates returns every stored state ordered by model id.
	ListBreakerStates(ctx context.Context) ([]CircuitBreakerState, error)
}

// MetricStore is the append-only performance log.
type MetricStore interface {
	// AppendMetric stores a metric. Metrics are never updated.
	AppendMetric(ctx context.Context, metric PerformanceMetric) error

	// ListMetrics returns matching metrics newest first, windowed by page, plus the total match count.
	ListMetrics(ctx context.Context, filter MetricFilter, page Page) ([]PerformanceMetric, int, error)

	// SummarizeMetrics aggregates matching metrics.
	SummarizeMetrics(ctx context.Context, filter MetricFilter) (MetricSummary, error)
}

// CostStore holds accumulated cost records.
type CostStore interface {
	// AddCost atomically folds delta into the (model, user, date) record, creating it if absent.
	AddCost(ctx context.Context, delta CostDelta) (CostRecord, error)

	// ListCosts returns matching records ordered by date desc, model, user.
	ListCosts(ctx context.Context, filter CostFilter, page Page) ([]CostRecord, int, error)
}

// EmbeddingStore holds content-addressed embedding vectors.
type EmbeddingStore interface {
	// GetEmbedding returns the entry and records the access (count+1, last_accessed_at=now),
	// or returns ErrCacheMiss.
	GetEmbedding(ctx context.Context, contentHash string) (JobEmbeddingCacheEntry, error)

	// PutEmbeddingIfAbsent inserts entry unless its hash exists. It always returns the stored
	// (canonical) entry and whether this call created it.
	PutEmbeddingIfAbsent(ctx context.Context, entry JobEmbeddingCacheEntry) (JobEmbeddingCacheEntry, bool, error)

	// ListEmbeddings returns every entry without vectors.
	ListEmbeddings(ctx context.Context) ([]JobEmbeddingCacheEntry, error)
}

// ArtifactChunkStore holds embedded artifact chunks.
type ArtifactChunkStore interface {
	// FindChunkByHash returns the chunk of artifact with the given content hash, or ErrCacheMiss.
	FindChunkByHash(ctx context.Context, artifactID, contentHash string) (ArtifactChunk, error)

	// PutChunkIfAbsent inserts chunk unless (artifact, index) or (artifact, hash) exists and
	// returns the stored row with whether it was created.
	PutChunkIfAbsent(ctx context.Context, chunk ArtifactChunk) (ArtifactChunk, bool, error)

	// ListChunks returns the artifact's chunks ordered by index.
	ListChunks(ctx context.Context, artifactID string) ([]ArtifactChunk, error)
}
