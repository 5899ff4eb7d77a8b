package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/davidbz/conductor/internal/observability"
)

const (
	defaultHighComplexity = 0.7
	defaultHistoryWindow  = 30 * 24 * time.Hour
	defaultMinSamples     = 5
	defaultMaxFallbacks   = 2
	defaultQualityPrior   = 0.5
)

// Exclusion reasons reported on SelectionError.Excluded.
const (
	ExcludedByCaller  = "excluded"
	ExcludedByBreaker = "circuit_open"
	ExcludedByBudget  = "over_budget"
)

// SelectorSettings tunes ModelSelector.
type SelectorSettings struct {
	DefaultStrategy Strategy
	// HighComplexity is the complexity above which balanced scoring favors quality.
	HighComplexity float64
	// HistoryWindow bounds the performance history used for scoring. Zero selects the
	// default window and a negative value uses all history.
	HistoryWindow time.Duration
	// MinSamples is how many quality scores a model needs before history replaces its prior.
	MinSamples   int
	MaxFallbacks int
}

// SelectionRequest describes what a caller needs a model for.
type SelectionRequest struct {
	TaskType   TaskType
	Complexity float64
	// Budget caps the estimated cost in USD; nil means unlimited.
	Budget   *float64
	Strategy Strategy
	// Exclude lists model ids the caller already tried.
	Exclude []string
}

// Selection is the ranked outcome of a selection.
type Selection struct {
	SelectedModel    string           `json:"selected_model"`
	Provider         string           `json:"provider"`
	Reasoning        string           `json:"reasoning"`
	EstimatedCostUSD float64          `json:"estimated_cost_usd"`
	FallbackModels   []string         `json:"fallback_models"`
	Strategy         Strategy         `json:"strategy"`
	Candidates       []CandidateScore `json:"candidates"`
}

// ModelSelector picks a model for a task from the healthy, affordable catalog entries.
type ModelSelector struct {
	registry ModelRegistry
	breaker  *CircuitBreakerService
	tracker  *PerformanceTracker
	settings SelectorSettings
}

// NewModelSelector creates a selector.
func NewModelSelector(
	registry ModelRegistry,
	breaker *CircuitBreakerService,
	tracker *PerformanceTracker,
	settings SelectorSettings,
) *ModelSelector {
	if !settings.DefaultStrategy.Valid() {
		settings.DefaultStrategy = StrategyBalanced
	}
	if settings.HighComplexity <= 0 || settings.HighComplexity > 1 {
		settings.HighComplexity = defaultHighComplexity
	}
	if settings.HistoryWindow == 0 {
		settings.HistoryWindow = defaultHistoryWindow
	}
	if settings.MinSamples <= 0 {
		settings.MinSamples = defaultMinSamples
	}
	if settings.MaxFallbacks <= 0 {
		settings.MaxFallbacks = defaultMaxFallbacks
	}

	return &ModelSelector{
		registry: registry,
		breaker:  breaker,
		tracker:  tracker,
		settings: settings,
	}
}

// Select ranks the candidates for req. The selected model is admitted through the circuit
// breaker, so a half-open winner has its single trial claimed and the caller must report the
// outcome. Fallbacks are only peeked and must be admitted again before use.
func (s *ModelSelector) Select(ctx context.Context, req SelectionRequest) (*Selection, error) {
	return s.selectWith(ctx, req, s.breaker.IsRequestAllowed)
}

// Preview ranks the candidates for req without changing any breaker state.
func (s *ModelSelector) Preview(ctx context.Context, req SelectionRequest) (*Selection, error) {
	return s.selectWith(ctx, req, s.breaker.Peek)
}

type admitFunc func(ctx context.Context, modelID string) (bool, error)

func (s *ModelSelector) selectWith(ctx context.Context, req SelectionRequest, admit admitFunc) (*Selection, error) {
	req, rank, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	ctx = observability.WithTaskType(ctx, string(req.TaskType))
	logger := observability.FromContext(ctx)

	models, err := s.registry.ListModels(ctx, ModelFilter{Capability: string(req.TaskType), EnabledOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	excluded := make(map[string]string)
	skip := make(map[string]bool, len(req.Exclude))
	for _, id := range req.Exclude {
		skip[id] = true
	}

	var (
		survivors []CandidateScore
		cheapest  = math.Inf(1)
	)
	for _, model := range models {
		if skip[model.ID] {
			excluded[model.ID] = ExcludedByCaller
			continue
		}

		// Filtering only peeks; the half-open trial is claimed once a winner is ranked.
		allowed, err := s.breaker.Peek(ctx, model.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check circuit breaker for %s: %w", model.ID, err)
		}
		cost := EstimateCost(model, req.TaskType, req.Complexity)

		switch {
		case !allowed:
			excluded[model.ID] = ExcludedByBreaker
		case req.Budget != nil && cost > *req.Budget:
			excluded[model.ID] = ExcludedByBudget
			cheapest = min(cheapest, cost)
		default:
			survivors = append(survivors, CandidateScore{
				ModelID:          model.ID,
				Provider:         model.Provider,
				EstimatedCostUSD: cost,
				Quality:          qualityPrior(model),
			})
		}
	}

	if len(survivors) > 0 {
		selection, err := s.rankAndAdmit(ctx, req, survivors, excluded, rank, admit)
		if err != nil {
			return nil, err
		}
		if selection != nil {
			logger.Info("model selected",
				observability.String("selected_model", selection.SelectedModel),
				observability.String("strategy", string(selection.Strategy)),
				observability.Float64("complexity", req.Complexity),
				observability.Float64("estimated_cost_usd", selection.EstimatedCostUSD),
				observability.Strings("fallback_models", selection.FallbackModels))
			observability.RecordSelection(ctx, string(selection.Strategy), selection.SelectedModel)
			return selection, nil
		}
	}

	selErr := classify(req, excluded, cheapest)
	logger.Warn("model selection failed",
		observability.String("reason", selErr.Kind.Error()),
		observability.Int("candidates", len(models)),
		observability.Int("excluded", len(excluded)))
	observability.RecordSelectionError(ctx, string(req.TaskType), selErr.Kind.Error())
	return nil, selErr
}

// rankAndAdmit orders survivors and admits the best one. It returns nil when every survivor
// lost its half-open trial to a concurrent caller after the peek.
func (s *ModelSelector) rankAndAdmit(
	ctx context.Context,
	req SelectionRequest,
	survivors []CandidateScore,
	excluded map[string]string,
	rank ranker,
	admit admitFunc,
) (*Selection, error) {
	if err := s.applyHistory(ctx, req.TaskType, survivors); err != nil {
		return nil, err
	}
	weights := weightsFor(req.Complexity, s.settings.HighComplexity)
	rank(survivors, weights)

	for len(survivors) > 0 {
		allowed, err := admit(ctx, survivors[0].ModelID)
		if err != nil {
			return nil, fmt.Errorf("failed to admit %s: %w", survivors[0].ModelID, err)
		}
		if allowed {
			return s.buildSelection(req, survivors, excluded, weights), nil
		}
		excluded[survivors[0].ModelID] = ExcludedByBreaker
		survivors = survivors[1:]
	}
	return nil, nil
}

// classify names the failure. Any budget exclusion means relaxing the budget could help;
// otherwise breaker exclusions alone mean every capable model is unhealthy.
func classify(req SelectionRequest, excluded map[string]string, cheapest float64) *SelectionError {
	selErr := &SelectionError{
		Kind:     ErrNoAvailableModel,
		TaskType: req.TaskType,
		Budget:   req.Budget,
		Excluded: excluded,
	}

	var breaker, budget int
	for _, reason := range excluded {
		switch reason {
		case ExcludedByBreaker:
			breaker++
		case ExcludedByBudget:
			budget++
		}
	}

	switch {
	case budget > 0:
		selErr.Kind = ErrBudgetExceeded
		selErr.MinEstimatedCost = cheapest
	case breaker > 0:
		selErr.Kind = ErrAllCircuitsOpen
	}
	return selErr
}

func (s *ModelSelector) normalize(req SelectionRequest) (SelectionRequest, ranker, error) {
	if !req.TaskType.Valid() {
		return req, nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidSelection, req.TaskType)
	}
	if math.IsNaN(req.Complexity) || req.Complexity < 0 || req.Complexity > 1 {
		return req, nil, fmt.Errorf("%w: complexity must be within [0,1]", ErrInvalidSelection)
	}
	if req.Budget != nil && (math.IsNaN(*req.Budget) || *req.Budget < 0) {
		return req, nil, fmt.Errorf("%w: budget cannot be negative", ErrInvalidSelection)
	}
	if req.Strategy == "" {
		req.Strategy = s.settings.DefaultStrategy
	}
	rank, err := req.Strategy.ranker()
	if err != nil {
		return req, nil, err
	}
	return req, rank, nil
}

// applyHistory fills success rate and quality from the performance log.
func (s *ModelSelector) applyHistory(ctx context.Context, taskType TaskType, candidates []CandidateScore) error {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ModelID
	}

	stats, err := s.tracker.ModelStats(ctx, ids, taskType, s.settings.HistoryWindow)
	if err != nil {
		return fmt.Errorf("failed to load model history: %w", err)
	}

	for i := range candidates {
		summary := stats[i].Summary
		candidates[i].Samples = summary.Count
		candidates[i].SuccessRate = 1
		if summary.Count > 0 {
			candidates[i].SuccessRate = summary.SuccessRate
		}
		if summary.QualityCount >= s.settings.MinSamples {
			candidates[i].Quality = summary.AvgQuality
		}
	}
	return nil
}

func (s *ModelSelector) buildSelection(
	req SelectionRequest,
	ranked []CandidateScore,
	excluded map[string]string,
	weights balancedWeights,
) *Selection {
	primary := ranked[0]
	fallbacks := make([]string, 0, s.settings.MaxFallbacks)
	for _, c := range ranked[1:] {
		if len(fallbacks) == s.settings.MaxFallbacks {
			break
		}
		fallbacks = append(fallbacks, c.ModelID)
	}

	return &Selection{
		SelectedModel:    primary.ModelID,
		Provider:         primary.Provider,
		Reasoning:        reasoning(req, primary, len(ranked), excluded, weights),
		EstimatedCostUSD: primary.EstimatedCostUSD,
		FallbackModels:   fallbacks,
		Strategy:         req.Strategy,
		Candidates:       ranked,
	}
}

func reasoning(
	req SelectionRequest,
	primary CandidateScore,
	candidates int,
	excluded map[string]string,
	weights balancedWeights,
) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Selected %s using %s strategy for %s (complexity %.2f). ",
		primary.ModelID, req.Strategy, req.TaskType, req.Complexity)
	fmt.Fprintf(&b, "Estimated cost $%.6f, expected quality %.2f, success rate %.2f over %d samples.",
		primary.EstimatedCostUSD, primary.Quality, primary.SuccessRate, primary.Samples)

	if req.Strategy == StrategyBalanced {
		fmt.Fprintf(&b, " Weights cost %.1f / quality %.1f.", weights.cost, weights.quality)
	}
	if req.Budget != nil {
		fmt.Fprintf(&b, " Budget $%.6f.", *req.Budget)
	}

	var breaker, budget int
	for _, reason := range excluded {
		switch reason {
		case ExcludedByBreaker:
			breaker++
		case ExcludedByBudget:
			budget++
		}
	}
	fmt.Fprintf(&b, " %d candidates ranked; %d excluded by circuit breaker, %d over budget.",
		candidates, breaker, budget)

	return b.String()
}

func qualityPrior(model ModelConfig) float64 {
	if model.QualityPrior > 0 {
		return model.QualityPrior
	}
	return defaultQualityPrior
}

// IsSelectionFailure reports whether err is one of the selector's no-model outcomes.
func IsSelectionFailure(err error) bool {
	var selErr *SelectionError
	return errors.As(err, &selErr)
}
