package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davidbz/conductor/internal/observability"
)

// BreakerState is the position of a model's circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	defaultFailureThreshold = 5
	defaultBreakerTimeout   = 60 * time.Second
	defaultRecentFailures   = 10
)

// CircuitBreakerState is the persisted breaker record for one model.
type CircuitBreakerState struct {
	ModelID          string        `json:"model_id"`
	State            BreakerState  `json:"state"`
	FailureCount     int           `json:"failure_count"`
	LastFailure      *time.Time    `json:"last_failure,omitempty"`
	FailureThreshold int           `json:"failure_threshold"`
	TimeoutDuration  time.Duration `json:"timeout_duration"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// BreakerFailure is one entry of the recent failures list.
type BreakerFailure struct {
	ModelID      string       `json:"model_id"`
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	LastFailure  time.Time    `json:"last_failure"`
}

// BreakerHealth aggregates breaker states for observability.
type BreakerHealth struct {
	TotalModels    int              `json:"total_models"`
	Closed         int              `json:"closed"`
	Open           int              `json:"open"`
	HalfOpen       int              `json:"half_open"`
	RecentFailures []BreakerFailure `json:"recent_failures"`
}

// BreakerSettings are the defaults applied to newly created breaker states.
type BreakerSettings struct {
	FailureThreshold int
	Timeout          time.Duration
	RecentFailures   int
}

// BreakerOption configures a CircuitBreakerService.
type BreakerOption func(*CircuitBreakerService)

// WithBreakerClock replaces time.Now, for tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(s *CircuitBreakerService) {
		s.now = now
	}
}

// WithBreakerEvents publishes state transitions.
func WithBreakerEvents(events EventPublisher) BreakerOption {
	return func(s *CircuitBreakerService) {
		s.events = events
	}
}

// breakerEntry serializes every operation for one model.
type breakerEntry struct {
	mu     sync.Mutex
	loaded bool
	state  CircuitBreakerState
	// trialAt is when the current half-open trial was admitted; zero when none is in flight.
	trialAt time.Time
}

// CircuitBreakerService gates traffic per model.
type CircuitBreakerService struct {
	store    BreakerStateStore
	events   EventPublisher
	settings BreakerSettings
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*breakerEntry
}

// NewCircuitBreakerService creates a breaker service backed by store.
func NewCircuitBreakerService(
	store BreakerStateStore,
	settings BreakerSettings,
	opts ...BreakerOption,
) *CircuitBreakerService {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = defaultFailureThreshold
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultBreakerTimeout
	}
	if settings.RecentFailures <= 0 {
		settings.RecentFailures = defaultRecentFailures
	}

	s := &CircuitBreakerService{
		store:    store,
		settings: settings,
		now:      time.Now,
		entries:  make(map[string]*breakerEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsRequestAllowed reports whether modelID may receive a request now. An open breaker whose
// timeout has elapsed moves to half_open and admits exactly one trial.
func (s *CircuitBreakerService) IsRequestAllowed(ctx context.Context, modelID string) (bool, error) {
	entry, err := s.lock(ctx, modelID)
	if err != nil {
		return false, err
	}
	defer entry.mu.Unlock()

	now := s.now()
	switch entry.state.State {
	case BreakerClosed:
		return true, nil

	case BreakerOpen:
		if !s.timeoutElapsed(entry.state, now) {
			return false, nil
		}
		next := entry.state
		next.State = BreakerHalfOpen
		if err := s.commit(ctx, entry, next, now); err != nil {
			return false, err
		}
		entry.trialAt = now
		return true, nil

	case BreakerHalfOpen:
		// A trial that never reported back is abandoned after one timeout window.
		if !entry.trialAt.IsZero() && now.Sub(entry.trialAt) < entry.state.TimeoutDuration {
			return false, nil
		}
		entry.trialAt = now
		return true, nil
	}

	return false, fmt.Errorf("circuit breaker for %s in unknown state %q", modelID, entry.state.State)
}

// Peek reports what IsRequestAllowed would return without transitioning state or
// claiming the half-open trial.
func (s *CircuitBreakerService) Peek(ctx context.Context, modelID string) (bool, error) {
	entry, err := s.lock(ctx, modelID)
	if err != nil {
		return false, err
	}
	defer entry.mu.Unlock()

	now := s.now()
	switch entry.state.State {
	case BreakerClosed:
		return true, nil
	case BreakerOpen:
		return s.timeoutElapsed(entry.state, now), nil
	case BreakerHalfOpen:
		return entry.trialAt.IsZero() || now.Sub(entry.trialAt) >= entry.state.TimeoutDuration, nil
	}
	return false, nil
}

// RecordSuccess reports a successful call for modelID.
func (s *CircuitBreakerService) RecordSuccess(ctx context.Context, modelID string) error {
	entry, err := s.lock(ctx, modelID)
	if err != nil {
		return err
	}
	defer entry.mu.Unlock()

	now := s.now()
	next := entry.state
	switch entry.state.State {
	case BreakerHalfOpen:
		next.State = BreakerClosed
		next.FailureCount = 0
	case BreakerClosed:
		if entry.state.FailureCount == 0 {
			return nil
		}
		next.FailureCount = 0
	case BreakerOpen:
		// A call admitted before the breaker opened; the trial decides recovery.
		return nil
	}

	if err := s.commit(ctx, entry, next, now); err != nil {
		return err
	}
	entry.trialAt = time.Time{}
	return nil
}

// RecordFailure reports a failed call for modelID.
func (s *CircuitBreakerService) RecordFailure(ctx context.Context, modelID string) error {
	entry, err := s.lock(ctx, modelID)
	if err != nil {
		return err
	}
	defer entry.mu.Unlock()

	now := s.now()
	next := entry.state
	next.FailureCount++
	next.LastFailure = &now

	switch entry.state.State {
	case BreakerClosed:
		if next.FailureCount >= next.FailureThreshold {
			next.State = BreakerOpen
		}
	case BreakerHalfOpen:
		next.State = BreakerOpen
	case BreakerOpen:
		// Stays open; the timeout window restarts from this failure.
	}

	if err := s.commit(ctx, entry, next, now); err != nil {
		return err
	}
	entry.trialAt = time.Time{}
	return nil
}

// Reset forces modelID's breaker closed with no recorded failures.
func (s *CircuitBreakerService) Reset(ctx context.Context, modelID string) (CircuitBreakerState, error) {
	entry, err := s.lock(ctx, modelID)
	if err != nil {
		return CircuitBreakerState{}, err
	}
	defer entry.mu.Unlock()

	next := entry.state
	next.State = BreakerClosed
	next.FailureCount = 0
	next.LastFailure = nil

	if err := s.commit(ctx, entry, next, s.now()); err != nil {
		return CircuitBreakerState{}, err
	}
	entry.trialAt = time.Time{}

	observability.FromContext(ctx).Info("circuit breaker reset",
		observability.String("model_id", modelID))

	return entry.state, nil
}

// State returns a snapshot of modelID's breaker, creating it if this is the first reference.
func (s *CircuitBreakerService) State(ctx context.Context, modelID string) (CircuitBreakerState, error) {
	entry, err := s.lock(ctx, modelID)
	if err != nil {
		return CircuitBreakerState{}, err
	}
	defer entry.mu.Unlock()
	return entry.state, nil
}

// ListStates returns every known breaker state ordered by model id.
func (s *CircuitBreakerService) ListStates(ctx context.Context) ([]CircuitBreakerState, error) {
	states, err := s.store.ListBreakerStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list circuit breaker states: %w", err)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ModelID < states[j].ModelID })
	return states, nil
}

// HealthStatus counts models per state and lists the most recent failures.
func (s *CircuitBreakerService) HealthStatus(ctx context.Context) (BreakerHealth, error) {
	states, err := s.ListStates(ctx)
	if err != nil {
		return BreakerHealth{}, err
	}

	health := BreakerHealth{TotalModels: len(states), RecentFailures: []BreakerFailure{}}
	for _, st := range states {
		switch st.State {
		case BreakerClosed:
			health.Closed++
		case BreakerOpen:
			health.Open++
		case BreakerHalfOpen:
			health.HalfOpen++
		}
		if st.LastFailure != nil {
			health.RecentFailures = append(health.RecentFailures, BreakerFailure{
				ModelID:      st.ModelID,
				State:        st.State,
				FailureCount: st.FailureCount,
				LastFailure:  *st.LastFailure,
			})
		}
	}

	sort.Slice(health.RecentFailures, func(i, j int) bool {
		return health.RecentFailures[i].LastFailure.After(health.RecentFailures[j].LastFailure)
	})
	if len(health.RecentFailures) > s.settings.RecentFailures {
		health.RecentFailures = health.RecentFailures[:s.settings.RecentFailures]
	}

	return health, nil
}

// lock returns the locked entry for modelID, loading or creating its state on first use.
func (s *CircuitBreakerService) lock(ctx context.Context, modelID string) (*breakerEntry, error) {
	if modelID == "" {
		return nil, errors.New("model id cannot be empty")
	}

	s.mu.Lock()
	entry, ok := s.entries[modelID]
	if !ok {
		entry = &breakerEntry{}
		s.entries[modelID] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	if entry.loaded {
		return entry, nil
	}

	state, err := s.store.LoadBreakerState(ctx, modelID)
	switch {
	case err == nil:
	case errors.Is(err, ErrStateNotFound):
		now := s.now()
		state = CircuitBreakerState{
			ModelID:          modelID,
			State:            BreakerClosed,
			FailureThreshold: s.settings.FailureThreshold,
			TimeoutDuration:  s.settings.Timeout,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if saveErr := s.store.SaveBreakerState(ctx, state); saveErr != nil {
			entry.mu.Unlock()
			return nil, fmt.Errorf("failed to create circuit breaker state for %s: %w", modelID, saveErr)
		}
	default:
		entry.mu.Unlock()
		return nil, fmt.Errorf("failed to load circuit breaker state for %s: %w", modelID, err)
	}

	// Persisted records may predate the current defaults.
	if state.FailureThreshold <= 0 {
		state.FailureThreshold = s.settings.FailureThreshold
	}
	if state.TimeoutDuration <= 0 {
		state.TimeoutDuration = s.settings.Timeout
	}

	entry.state = state
	entry.loaded = true
	return entry, nil
}

// commit persists next and only then makes it the in-memory state. Caller holds entry.mu.
func (s *CircuitBreakerService) commit(
	ctx context.Context,
	entry *breakerEntry,
	next CircuitBreakerState,
	now time.Time,
) error {
	next.UpdatedAt = now
	if err := s.store.SaveBreakerState(ctx, next); err != nil {
		observability.FromContext(ctx).Error("failed to persist circuit breaker state",
			observability.String("model_id", next.ModelID),
			observability.Error(err))
		return fmt.Errorf("failed to persist circuit breaker state for %s: %w", next.ModelID, err)
	}

	prev := entry.state.State
	entry.state = next
	if prev != next.State {
		s.transitioned(ctx, next, prev)
	}
	return nil
}

func (s *CircuitBreakerService) transitioned(ctx context.Context, state CircuitBreakerState, from BreakerState) {
	logger := observability.FromContext(ctx)
	fields := []observability.Field{
		observability.String("model_id", state.ModelID),
		observability.String("from", string(from)),
		observability.String("to", string(state.State)),
		observability.Int("failure_count", state.FailureCount),
	}
	if state.State == BreakerOpen {
		logger.Warn("circuit breaker opened", fields...)
	} else {
		logger.Info("circuit breaker transition", fields...)
	}

	observability.RecordBreakerTransition(ctx, state.ModelID, string(from), string(state.State))

	if s.events != nil {
		s.events.Publish(ctx, "circuit_breaker.transition", map[string]interface{}{
			"model_id":      state.ModelID,
			"from":          string(from),
			"to":            string(state.State),
			"failure_count": state.FailureCount,
		})
	}
}

func (s *CircuitBreakerService) timeoutElapsed(state CircuitBreakerState, now time.Time) bool {
	if state.LastFailure == nil {
		return true
	}
	return now.Sub(*state.LastFailure) >= state.TimeoutDuration
}
