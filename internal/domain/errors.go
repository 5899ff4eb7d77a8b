package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotFound indicates an unknown model id. Not retryable.
	ErrModelNotFound = errors.New("model not found")

	// ErrInvalidModelConfig indicates a catalog entry violating its invariants.
	ErrInvalidModelConfig = errors.New("invalid model config")

	// ErrAllCircuitsOpen indicates every capable model is currently breaker-open.
	ErrAllCircuitsOpen = errors.New("all circuits open")

	// ErrNoAvailableModel indicates filtering left no candidates.
	ErrNoAvailableModel = errors.New("no available model")

	// ErrBudgetExceeded indicates every healthy candidate costs more than the budget.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrCacheMiss indicates no cached entry was found.
	ErrCacheMiss = errors.New("cache miss")

	// ErrStateNotFound indicates no persisted breaker state exists for a model.
	ErrStateNotFound = errors.New("circuit breaker state not found")

	// ErrInvalidMetric indicates a performance metric failed validation.
	ErrInvalidMetric = errors.New("invalid performance metric")

	// ErrInvalidCost indicates a cost report failed validation.
	ErrInvalidCost = errors.New("invalid cost record")

	// ErrInvalidEmbedding indicates an empty or wrongly sized vector.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrInvalidSelection indicates a malformed selection request.
	ErrInvalidSelection = errors.New("invalid selection request")

	// ErrInvalidStrategy indicates an unknown selection strategy.
	ErrInvalidStrategy = errors.New("invalid selection strategy")

	// ErrProviderNotFound indicates no client is registered for a model's provider.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrChunkConflict indicates an artifact chunk index already holds different content.
	ErrChunkConflict = errors.New("artifact chunk conflict")

	// ErrAllModelsFailed indicates the primary and every fallback failed at invocation time.
	ErrAllModelsFailed = errors.New("all selected models failed")
)

// SelectionError is returned by ModelSelector when no model can be chosen.
// Kind is one of ErrAllCircuitsOpen, ErrNoAvailableModel or ErrBudgetExceeded.
type SelectionError struct {
	Kind     error
	TaskType TaskType
	Budget   *float64
	// MinEstimatedCost is the cheapest healthy candidate's estimate, set for budget failures.
	MinEstimatedCost float64
	Excluded         map[string]string
}

func (e *SelectionError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrBudgetExceeded) && e.Budget != nil:
		return fmt.Sprintf("%s for %s: cheapest estimate $%.6f exceeds budget $%.6f",
			e.Kind, e.TaskType, e.MinEstimatedCost, *e.Budget)
	default:
		return fmt.Sprintf("%s for %s", e.Kind, e.TaskType)
	}
}

func (e *SelectionError) Unwrap() error {
	return e.Kind
}
