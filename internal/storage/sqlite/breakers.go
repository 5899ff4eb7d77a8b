package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidbz/conductor/internal/domain"
)

const breakerColumns = `model_id, state, failure_count, last_failure, failure_threshold, timeout_ns, created_at, updated_at`

// LoadBreakerState implements domain.BreakerStateStore.
func (s *Store) LoadBreakerState(ctx context.Context, modelID string) (domain.CircuitBreakerState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+breakerColumns+` FROM breaker_states WHERE model_id = ?`, modelID)

	state, err := scanBreakerState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CircuitBreakerState{}, domain.ErrStateNotFound
	}
	if err != nil {
		return domain.CircuitBreakerState{}, fmt.Errorf("load breaker state: %w", err)
	}
	return state, nil
}

// SaveBreakerState implements domain.BreakerStateStore.
func (s *Store) SaveBreakerState(ctx context.Context, state domain.CircuitBreakerState) error {
	var lastFailure sql.NullInt64
	if state.LastFailure != nil {
		lastFailure = sql.NullInt64{Int64: state.LastFailure.UTC().UnixNano(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker_states (`+breakerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			state             = excluded.state,
			failure_count     = excluded.failure_count,
			last_failure      = excluded.last_failure,
			failure_threshold = excluded.failure_threshold,
			timeout_ns        = excluded.timeout_ns,
			updated_at        = excluded.updated_at`,
		state.ModelID, string(state.State), state.FailureCount, lastFailure,
		state.FailureThreshold, int64(state.TimeoutDuration),
		state.CreatedAt.UTC().UnixNano(), state.UpdatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}
	return nil
}

// ListBreakerStates implements domain.BreakerStateStore.
func (s *Store) ListBreakerStates(ctx context.Context) ([]domain.CircuitBreakerState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+breakerColumns+` FROM breaker_states ORDER BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("list breaker states: %w", err)
	}
	defer rows.Close()

	var states []domain.CircuitBreakerState
	for rows.Next() {
		state, err := scanBreakerState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan breaker state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBreakerState(row scanner) (domain.CircuitBreakerState, error) {
	var (
		state       domain.CircuitBreakerState
		raw         string
		lastFailure sql.NullInt64
		timeoutNS   int64
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&state.ModelID, &raw, &state.FailureCount, &lastFailure,
		&state.FailureThreshold, &timeoutNS, &createdAt, &updatedAt); err != nil {
		return domain.CircuitBreakerState{}, err
	}

	state.State = domain.BreakerState(raw)
	state.TimeoutDuration = time.Duration(timeoutNS)
	state.CreatedAt = fromNanos(createdAt)
	state.UpdatedAt = fromNanos(updatedAt)
	if lastFailure.Valid {
		t := fromNanos(lastFailure.Int64)
		state.LastFailure = &t
	}
	return state, nil
}
