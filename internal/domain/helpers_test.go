package domain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/observability"
	providerregistry "github.com/davidbz/conductor/internal/provider/registry"
	"github.com/davidbz/conductor/internal/registry"
	"github.com/davidbz/conductor/internal/storage/memory"
)

func init() {
	observability.SetLogger(zap.NewNop())
}

// jobParsingInputTokens is the job_parsing input estimate at complexity 0.
const jobParsingInputTokens = 800

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider returns canned completions and embeddings and fails models listed in fail.
type fakeProvider struct {
	mu         sync.Mutex
	fail       map[string]error
	calls      []string
	embedCalls int
	lastParams domain.CompletionParams
	onCall     func(ctx context.Context) error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{fail: make(map[string]error)}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(
	ctx context.Context,
	model, _ string,
	params domain.CompletionParams,
) (*domain.Completion, error) {
	p.mu.Lock()
	p.calls = append(p.calls, model)
	p.lastParams = params
	err := p.fail[model]
	hook := p.onCall
	p.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx); hookErr != nil {
			return nil, hookErr
		}
	}
	if err != nil {
		return nil, err
	}
	return &domain.Completion{Text: "ok:" + model, InputTokens: 100, OutputTokens: 50}, nil
}

func (p *fakeProvider) Embed(_ context.Context, model, text string) (*domain.Embedding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, model)
	p.embedCalls++
	if err := p.fail[model]; err != nil {
		return nil, err
	}
	return &domain.Embedding{Vector: []float64{float64(len(text)), 1, 0}, Tokens: 10}, nil
}

func (p *fakeProvider) setFailure(model string, err error) {
	p.mu.Lock()
	p.fail[model] = err
	p.mu.Unlock()
}

func (p *fakeProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) embedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls
}

// chatModel builds a job_parsing/cv_generation model whose estimated job_parsing cost at
// complexity 0 is estimatedCost.
func chatModel(id string, estimatedCost, quality float64) domain.ModelConfig {
	return domain.ModelConfig{
		ID:                id,
		Provider:          "fake",
		ContextWindow:     128000,
		MaxOutputTokens:   1000,
		InputCostPerToken: estimatedCost / jobParsingInputTokens,
		Capabilities:      []string{string(domain.TaskJobParsing), string(domain.TaskCVGeneration)},
		Enabled:           true,
		QualityPrior:      quality,
	}
}

func embedModel(id string, costPerToken float64) domain.ModelConfig {
	return domain.ModelConfig{
		ID:                id,
		Provider:          "fake",
		InputCostPerToken: costPerToken,
		Capabilities:      []string{string(domain.TaskEmbedding)},
		Enabled:           true,
	}
}

const (
	testThreshold = 2
	testTimeout   = time.Minute
)

type harness struct {
	clock        *fakeClock
	store        *memory.Store
	registry     *registry.Registry
	breaker      *domain.CircuitBreakerService
	tracker      *domain.PerformanceTracker
	costs        *domain.CostTracker
	cache        *domain.EmbeddingCache
	selector     *domain.ModelSelector
	provider     *fakeProvider
	orchestrator *domain.Orchestrator
}

func newHarness(t *testing.T, models ...domain.ModelConfig) *harness {
	t.Helper()

	clock := newFakeClock()
	store := memory.NewStore(memory.WithClock(clock.Now))
	reg, err := registry.New(models)
	require.NoError(t, err)

	breaker := domain.NewCircuitBreakerService(store, domain.BreakerSettings{
		FailureThreshold: testThreshold,
		Timeout:          testTimeout,
	}, domain.WithBreakerClock(clock.Now))
	tracker := domain.NewPerformanceTracker(store, domain.WithTrackerClock(clock.Now))
	costs := domain.NewCostTracker(store)
	cache := domain.NewEmbeddingCache(store, 0)
	selector := domain.NewModelSelector(reg, breaker, tracker, domain.SelectorSettings{
		DefaultStrategy: domain.StrategyBalanced,
		MinSamples:      2,
	})

	provider := newFakeProvider()
	providers := providerregistry.NewRegistry()
	require.NoError(t, providers.Register(context.Background(), provider))

	orchestrator := domain.NewOrchestrator(selector, reg, providers, breaker, tracker, costs, cache,
		domain.WithOrchestratorClock(clock.Now))

	return &harness{
		clock:        clock,
		store:        store,
		registry:     reg,
		breaker:      breaker,
		tracker:      tracker,
		costs:        costs,
		cache:        cache,
		selector:     selector,
		provider:     provider,
		orchestrator: orchestrator,
	}
}

// open trips modelID's breaker.
func (h *harness) open(t *testing.T, modelID string) {
	t.Helper()
	ctx := context.Background()
	for range testThreshold {
		require.NoError(t, h.breaker.RecordFailure(ctx, modelID))
	}
	state, err := h.breaker.State(ctx, modelID)
	require.NoError(t, err)
	require.Equal(t, domain.BreakerOpen, state.State)
}

func budget(v float64) *float64 {
	return &v
}
