package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davidbz/conductor/internal/observability"
)

// Orchestrator drives one task end to end: select a model, invoke it, fall back on
// failure and report every outcome to the breaker, the performance log and the cost ledger.
type Orchestrator struct {
	selector  *ModelSelector
	models    ModelRegistry
	providers ProviderRegistry
	breaker   *CircuitBreakerService
	tracker   *PerformanceTracker
	costs     *CostTracker
	cache     *EmbeddingCache
	events    EventPublisher
	now       func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorClock replaces time.Now, for tests.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithOrchestratorEvents publishes completed tasks.
func WithOrchestratorEvents(events EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.events = events
	}
}

// NewOrchestrator creates an orchestrator (DI constructor).
func NewOrchestrator(
	selector *ModelSelector,
	models ModelRegistry,
	providers ProviderRegistry,
	breaker *CircuitBreakerService,
	tracker *PerformanceTracker,
	costs *CostTracker,
	cache *EmbeddingCache,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		selector:  selector,
		models:    models,
		providers: providers,
		breaker:   breaker,
		tracker:   tracker,
		costs:     costs,
		cache:     cache,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GenerateRequest is a text generation task.
type GenerateRequest struct {
	TaskType   TaskType
	Complexity float64
	Budget     *float64
	Strategy   Strategy
	UserID     string
	Prompt     string
	Params     CompletionParams
	Metadata   map[string]string
}

// GenerateResult is the outcome of a successful Generate.
type GenerateResult struct {
	Completion   Completion `json:"completion"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider"`
	FallbackUsed bool       `json:"fallback_used"`
	CostUSD      float64    `json:"cost_usd"`
	LatencyMS    int64      `json:"latency_ms"`
	Selection    *Selection `json:"selection"`
}

// EmbedResult is the outcome of an embedding task.
type EmbedResult struct {
	Vector       []float64 `json:"vector"`
	CacheHit     bool      `json:"cache_hit"`
	Model        string    `json:"model,omitempty"`
	Tokens       int       `json:"tokens"`
	CostUSD      float64   `json:"cost_usd"`
	FallbackUsed bool      `json:"fallback_used"`
}

// usage is what one provider call consumed.
type usage struct {
	inputTokens  int
	outputTokens int
}

// callFunc performs one provider invocation against model.
type callFunc func(ctx context.Context, client ProviderClient, model ModelConfig) (usage, error)

// attempt is the outcome of a successful invocation.
type attempt struct {
	model        ModelConfig
	usage        usage
	costUSD      float64
	latency      time.Duration
	fallbackUsed bool
	selection    *Selection
}

// Generate runs a completion task on the selected model, then on each fallback in order.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", ErrInvalidSelection)
	}

	var completion Completion
	call := func(ctx context.Context, client ProviderClient, model ModelConfig) (usage, error) {
		params := req.Params
		if params.MaxTokens <= 0 || (model.MaxOutputTokens > 0 && params.MaxTokens > model.MaxOutputTokens) {
			params.MaxTokens = model.MaxOutputTokens
		}
		result, err := client.Complete(ctx, model.ID, req.Prompt, params)
		if err != nil {
			return usage{}, err
		}
		completion = *result
		return usage{inputTokens: result.InputTokens, outputTokens: result.OutputTokens}, nil
	}

	done, err := o.run(ctx, SelectionRequest{
		TaskType:   req.TaskType,
		Complexity: req.Complexity,
		Budget:     req.Budget,
		Strategy:   req.Strategy,
	}, req.UserID, req.Metadata, call)
	if err != nil {
		return nil, err
	}

	return &GenerateResult{
		Completion:   completion,
		Model:        done.model.ID,
		Provider:     done.model.Provider,
		FallbackUsed: done.fallbackUsed,
		CostUSD:      done.costUSD,
		LatencyMS:    done.latency.Milliseconds(),
		Selection:    done.selection,
	}, nil
}

// EmbedText embeds text with the best available embedding model. It does not consult the cache.
func (o *Orchestrator) EmbedText(ctx context.Context, text, userID string, complexity float64) (*EmbedResult, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidEmbedding)
	}

	var embedding Embedding
	call := func(ctx context.Context, client ProviderClient, model ModelConfig) (usage, error) {
		result, err := client.Embed(ctx, model.ID, text)
		if err != nil {
			return usage{}, err
		}
		if len(result.Vector) == 0 {
			return usage{}, fmt.Errorf("%w: provider returned an empty vector", ErrInvalidEmbedding)
		}
		embedding = *result
		return usage{inputTokens: result.Tokens}, nil
	}

	done, err := o.run(ctx, SelectionRequest{
		TaskType:   TaskEmbedding,
		Complexity: complexity,
	}, userID, nil, call)
	if err != nil {
		return nil, err
	}

	return &EmbedResult{
		Vector:       embedding.Vector,
		Model:        done.model.ID,
		Tokens:       embedding.Tokens,
		CostUSD:      done.costUSD,
		FallbackUsed: done.fallbackUsed,
	}, nil
}

// EmbedJob returns the embedding of a job posting, computing it only on a cache miss.
func (o *Orchestrator) EmbedJob(ctx context.Context, posting JobPosting, userID string) (*EmbedResult, error) {
	if NormalizeText(posting.Description) == "" {
		return nil, fmt.Errorf("%w: job description cannot be empty", ErrInvalidEmbedding)
	}

	var computed *EmbedResult
	vector, hit, err := o.cache.GetOrCompute(ctx, posting, func(ctx context.Context) ([]float64, error) {
		result, err := o.EmbedText(ctx, jobEmbeddingText(posting), userID, 0)
		if err != nil {
			return nil, err
		}
		computed = result
		return result.Vector, nil
	})
	if err != nil {
		return nil, err
	}

	if hit || computed == nil {
		// Either cached, or another goroutine computed it for us.
		return &EmbedResult{Vector: vector, CacheHit: hit}, nil
	}
	computed.Vector = vector
	return computed, nil
}

// run selects a model for req and walks the primary and fallbacks until one call succeeds.
func (o *Orchestrator) run(
	ctx context.Context,
	req SelectionRequest,
	userID string,
	metadata map[string]string,
	call callFunc,
) (*attempt, error) {
	if userID != "" {
		ctx = observability.WithUserID(ctx, userID)
	}
	logger := observability.FromContext(ctx)

	selection, err := o.selector.Select(ctx, req)
	if err != nil {
		return nil, err
	}

	order := append([]string{selection.SelectedModel}, selection.FallbackModels...)
	var lastErr error
	for i, modelID := range order {
		fallback := i > 0
		// The primary was admitted by Select; fallbacks need their own admission.
		if fallback {
			allowed, err := o.breaker.IsRequestAllowed(ctx, modelID)
			if err != nil {
				return nil, err
			}
			if !allowed {
				continue
			}
		}

		model, err := o.models.GetModel(ctx, modelID)
		if err != nil {
			if err := o.breaker.RecordFailure(ctx, modelID); err != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		client, err := o.providers.Get(ctx, model.Provider)
		if err != nil {
			// An admitted model that cannot be invoked still reports, or a half-open trial stays claimed.
			if err := o.breaker.RecordFailure(ctx, modelID); err != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("%w: %s", ErrProviderNotFound, model.Provider)
			logger.Warn("no provider client for model",
				observability.String("model", model.ID),
				observability.String("provider", model.Provider))
			continue
		}

		callCtx := observability.WithModel(observability.WithProvider(ctx, model.Provider), model.ID)
		start := o.now()
		used, callErr := call(callCtx, client, model)
		latency := o.now().Sub(start)

		if callErr != nil && ctx.Err() != nil {
			// The caller gave up; that says nothing about the model.
			return nil, ctx.Err()
		}

		result := &attempt{
			model:        model,
			usage:        used,
			latency:      latency,
			fallbackUsed: fallback,
			selection:    selection,
		}
		if callErr == nil {
			result.costUSD = CallCost(model, used.inputTokens, used.outputTokens)
		}

		if err := o.report(callCtx, req, userID, metadata, result, callErr); err != nil {
			return nil, err
		}
		if callErr == nil {
			return result, nil
		}

		lastErr = callErr
		observability.FromContext(callCtx).Warn("provider call failed",
			observability.Bool("fallback", fallback),
			observability.Error(callErr))
	}

	return nil, fmt.Errorf("%w for %s: %w", ErrAllModelsFailed, req.TaskType, lastErr)
}

// report feeds one call outcome to the breaker, the performance log and, on success, the
// cost ledger. Reporting failures are returned, never dropped.
func (o *Orchestrator) report(
	ctx context.Context,
	req SelectionRequest,
	userID string,
	metadata map[string]string,
	result *attempt,
	callErr error,
) error {
	success := callErr == nil
	observability.RecordProviderCall(ctx, result.model.ID, success)

	var breakerErr error
	if success {
		breakerErr = o.breaker.RecordSuccess(ctx, result.model.ID)
	} else {
		breakerErr = o.breaker.RecordFailure(ctx, result.model.ID)
	}

	strategy := req.Strategy
	if result.selection != nil {
		strategy = result.selection.Strategy
	}
	_, metricErr := o.tracker.Record(ctx, PerformanceMetric{
		ModelName:         result.model.ID,
		TaskType:          req.TaskType,
		ProcessingTimeMS:  result.latency.Milliseconds(),
		TokensUsed:        result.usage.inputTokens + result.usage.outputTokens,
		CostUSD:           result.costUSD,
		Success:           success,
		ComplexityScore:   clamp01(req.Complexity),
		SelectionStrategy: strategy,
		FallbackUsed:      result.fallbackUsed,
		Metadata:          metadata,
		UserID:            userID,
	})

	var costErr error
	if success && result.costUSD > 0 {
		_, costErr = o.costs.RecordCost(ctx, result.model.ID, userID, o.now(),
			result.costUSD, result.usage.inputTokens+result.usage.outputTokens)
	}

	if o.events != nil && success {
		o.events.Publish(ctx, "task.completed", map[string]interface{}{
			"task_type":     string(req.TaskType),
			"model":         result.model.ID,
			"fallback_used": result.fallbackUsed,
			"cost_usd":      result.costUSD,
			"latency_ms":    result.latency.Milliseconds(),
		})
	}

	return errors.Join(breakerErr, metricErr, costErr)
}

func jobEmbeddingText(posting JobPosting) string {
	return fmt.Sprintf("Role: %s\nCompany: %s\n\n%s", posting.RoleTitle, posting.CompanyName, posting.Description)
}
