package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conductor/internal/domain"
)

func jobParsing(strategy domain.Strategy) domain.SelectionRequest {
	return domain.SelectionRequest{TaskType: domain.TaskJobParsing, Strategy: strategy}
}

func TestModelSelector_Strategies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		chatModel("a", 0.02, 0.9),
		chatModel("b", 0.05, 0.95),
	)

	tests := []struct {
		name     string
		strategy domain.Strategy
		want     string
	}{
		{name: "performance first prefers quality", strategy: domain.StrategyPerformanceFirst, want: "b"},
		{name: "cost optimized prefers the cheapest", strategy: domain.StrategyCostOptimized, want: "a"},
		{name: "balanced", strategy: domain.StrategyBalanced, want: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selection, err := h.selector.Select(ctx, jobParsing(tt.strategy))
			require.NoError(t, err)
			require.Equal(t, tt.want, selection.SelectedModel)
			require.Equal(t, tt.strategy, selection.Strategy)
			require.Equal(t, "fake", selection.Provider)
			require.Len(t, selection.FallbackModels, 1)
			require.Len(t, selection.Candidates, 2)
			require.Contains(t, selection.Reasoning, tt.want)
		})
	}

	t.Run("default strategy applies", func(t *testing.T) {
		selection, err := h.selector.Select(ctx, domain.SelectionRequest{TaskType: domain.TaskJobParsing})
		require.NoError(t, err)
		require.Equal(t, domain.StrategyBalanced, selection.Strategy)
	})

	t.Run("estimated cost is reported", func(t *testing.T) {
		selection, err := h.selector.Select(ctx, jobParsing(domain.StrategyCostOptimized))
		require.NoError(t, err)
		require.InDelta(t, 0.02, selection.EstimatedCostUSD, 1e-9)
	})
}

func TestModelSelector_BalancedWeightsShiftWithComplexity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		chatModel("cheap", 0.01, 0.75),
		chatModel("middling", 0.02, 0.6),
		chatModel("strong", 0.03, 0.95),
	)

	low, err := h.selector.Select(ctx, domain.SelectionRequest{
		TaskType: domain.TaskJobParsing, Complexity: 0.2, Strategy: domain.StrategyBalanced,
	})
	require.NoError(t, err)
	require.Equal(t, "cheap", low.SelectedModel)
	require.Contains(t, low.Reasoning, "cost 0.5 / quality 0.5")

	high, err := h.selector.Select(ctx, domain.SelectionRequest{
		TaskType: domain.TaskJobParsing, Complexity: 0.9, Strategy: domain.StrategyBalanced,
	})
	require.NoError(t, err)
	require.Equal(t, "strong", high.SelectedModel)
	require.Contains(t, high.Reasoning, "cost 0.3 / quality 0.7")
}

func TestModelSelector_BalancedNormalizesQuality(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatModel("a", 0.02, 0.9), chatModel("b", 0.05, 0.95))

	selection, err := h.selector.Select(ctx, domain.SelectionRequest{
		TaskType: domain.TaskJobParsing, Complexity: 0.9, Strategy: domain.StrategyBalanced,
	})
	require.NoError(t, err)
	require.Equal(t, "b", selection.SelectedModel)

	scores := make(map[string]float64)
	for _, c := range selection.Candidates {
		scores[c.ModelID] = c.Score
	}
	require.InDelta(t, 0.7, scores["b"], 1e-9)
	require.InDelta(t, 0.3, scores["a"], 1e-9)
}

func TestModelSelector_Budget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		chatModel("a", 0.02, 0.9),
		chatModel("b", 0.05, 0.95),
	)

	t.Run("over budget models are filtered", func(t *testing.T) {
		req := jobParsing(domain.StrategyPerformanceFirst)
		req.Budget = budget(0.03)
		selection, err := h.selector.Select(ctx, req)
		require.NoError(t, err)
		require.Equal(t, "a", selection.SelectedModel)
		require.Empty(t, selection.FallbackModels)
	})

	t.Run("cost equal to the budget is allowed", func(t *testing.T) {
		req := jobParsing(domain.StrategyPerformanceFirst)
		req.Budget = budget(domain.EstimateCost(chatModel("b", 0.05, 0.95), domain.TaskJobParsing, 0))
		selection, err := h.selector.Select(ctx, req)
		require.NoError(t, err)
		require.Equal(t, "b", selection.SelectedModel)
	})

	t.Run("nothing affordable", func(t *testing.T) {
		req := jobParsing(domain.StrategyBalanced)
		req.Budget = budget(0.01)
		_, err := h.selector.Select(ctx, req)
		require.ErrorIs(t, err, domain.ErrBudgetExceeded)

		var selErr *domain.SelectionError
		require.True(t, errors.As(err, &selErr))
		require.InDelta(t, 0.02, selErr.MinEstimatedCost, 1e-9)
		require.Equal(t, domain.ExcludedByBudget, selErr.Excluded["a"])
		require.True(t, domain.IsSelectionFailure(err))
	})
}

func TestModelSelector_FailureKinds(t *testing.T) {
	ctx := context.Background()

	t.Run("all circuits open", func(t *testing.T) {
		h := newHarness(t, chatModel("a", 0.02, 0.9), chatModel("b", 0.05, 0.95))
		h.open(t, "a")
		h.open(t, "b")

		_, err := h.selector.Select(ctx, jobParsing(domain.StrategyBalanced))
		require.ErrorIs(t, err, domain.ErrAllCircuitsOpen)
	})

	t.Run("breaker and budget exclusions report budget", func(t *testing.T) {
		h := newHarness(t, chatModel("a", 0.02, 0.9), chatModel("b", 0.05, 0.95))
		h.open(t, "a")

		req := jobParsing(domain.StrategyBalanced)
		req.Budget = budget(0.03)
		_, err := h.selector.Select(ctx, req)
		require.ErrorIs(t, err, domain.ErrBudgetExceeded)
	})

	t.Run("no capable model", func(t *testing.T) {
		h := newHarness(t, chatModel("a", 0.02, 0.9))
		_, err := h.selector.Select(ctx, domain.SelectionRequest{TaskType: domain.TaskEmbedding})
		require.ErrorIs(t, err, domain.ErrNoAvailableModel)
	})

	t.Run("disabled models are not candidates", func(t *testing.T) {
		disabled := chatModel("a", 0.02, 0.9)
		disabled.Enabled = false
		h := newHarness(t, disabled)
		_, err := h.selector.Select(ctx, jobParsing(domain.StrategyBalanced))
		require.ErrorIs(t, err, domain.ErrNoAvailableModel)
	})

	t.Run("everything excluded by the caller", func(t *testing.T) {
		h := newHarness(t, chatModel("a", 0.02, 0.9))
		req := jobParsing(domain.StrategyBalanced)
		req.Exclude = []string{"a"}
		_, err := h.selector.Select(ctx, req)
		require.ErrorIs(t, err, domain.ErrNoAvailableModel)
	})
}

func TestModelSelector_Exclude(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatModel("a", 0.02, 0.9), chatModel("b", 0.05, 0.95))

	req := jobParsing(domain.StrategyPerformanceFirst)
	req.Exclude = []string{"b"}
	selection, err := h.selector.Select(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "a", selection.SelectedModel)
	require.Len(t, selection.Candidates, 1)
}

func TestModelSelector_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatModel("a", 0.02, 0.9))

	tests := []struct {
		name string
		req  domain.SelectionRequest
		want error
	}{
		{name: "unknown task", req: domain.SelectionRequest{TaskType: "translate"}, want: domain.ErrInvalidSelection},
		{
			name: "complexity above one",
			req:  domain.SelectionRequest{TaskType: domain.TaskJobParsing, Complexity: 1.5},
			want: domain.ErrInvalidSelection,
		},
		{
			name: "negative budget",
			req:  domain.SelectionRequest{TaskType: domain.TaskJobParsing, Budget: budget(-1)},
			want: domain.ErrInvalidSelection,
		},
		{
			name: "unknown strategy",
			req:  domain.SelectionRequest{TaskType: domain.TaskJobParsing, Strategy: "fastest"},
			want: domain.ErrInvalidStrategy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.selector.Select(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			require.False(t, domain.IsSelectionFailure(err))
		})
	}
}

func TestModelSelector_FallbacksAreCapped(t *testing.T) {
	h := newHarness(t,
		chatModel("a", 0.01, 0.9),
		chatModel("b", 0.02, 0.9),
		chatModel("c", 0.03, 0.9),
		chatModel("d", 0.04, 0.9),
	)

	selection, err := h.selector.Select(context.Background(), jobParsing(domain.StrategyCostOptimized))
	require.NoError(t, err)
	require.Equal(t, "a", selection.SelectedModel)
	require.Equal(t, []string{"b", "c"}, selection.FallbackModels)
}

func TestModelSelector_HistoryReplacesPrior(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatModel("a", 0.02, 0.95), chatModel("b", 0.05, 0.9))

	selection, err := h.selector.Select(ctx, jobParsing(domain.StrategyPerformanceFirst))
	require.NoError(t, err)
	require.Equal(t, "a", selection.SelectedModel)

	poor := 0.2
	for range 2 {
		_, err := h.tracker.Record(ctx, domain.PerformanceMetric{
			ModelName:    "a",
			TaskType:     domain.TaskJobParsing,
			Success:      true,
			QualityScore: &poor,
		})
		require.NoError(t, err)
	}

	selection, err = h.selector.Select(ctx, jobParsing(domain.StrategyPerformanceFirst))
	require.NoError(t, err)
	require.Equal(t, "b", selection.SelectedModel)

	t.Run("history outside the window is ignored", func(t *testing.T) {
		h.clock.Advance(31 * 24 * time.Hour)
		selection, err := h.selector.Select(ctx, jobParsing(domain.StrategyPerformanceFirst))
		require.NoError(t, err)
		require.Equal(t, "a", selection.SelectedModel)
	})

	t.Run("negative window keeps all history", func(t *testing.T) {
		unbounded := domain.NewModelSelector(h.registry, h.breaker, h.tracker, domain.SelectorSettings{
			HistoryWindow: -1,
			MinSamples:    2,
		})
		selection, err := unbounded.Select(ctx, jobParsing(domain.StrategyPerformanceFirst))
		require.NoError(t, err)
		require.Equal(t, "b", selection.SelectedModel)
	})
}

func TestModelSelector_SuccessRateLowersPerformance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatModel("a", 0.02, 0.95), chatModel("b", 0.05, 0.9))

	for _, ok := range []bool{false, false, true} {
		_, err := h.tracker.Record(ctx, domain.PerformanceMetric{
			ModelName: "a",
			TaskType:  domain.TaskJobParsing,
			Success:   ok,
		})
		require.NoError(t, err)
	}

	selection, err := h.selector.Select(ctx, jobParsing(domain.StrategyPerformanceFirst))
	require.NoError(t, err)
	require.Equal(t, "b", selection.SelectedModel)

	for _, c := range selection.Candidates {
		if c.ModelID == "a" {
			require.InDelta(t, 1.0/3.0, c.SuccessRate, 1e-9)
			require.Equal(t, 3, c.Samples)
		}
	}
}

func TestModelSelector_HalfOpenAdmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatModel("a", 0.02, 0.9), chatModel("b", 0.05, 0.8))
	h.open(t, "a")
	h.clock.Advance(testTimeout)

	t.Run("preview leaves the breaker alone", func(t *testing.T) {
		selection, err := h.selector.Preview(ctx, jobParsing(domain.StrategyPerformanceFirst))
		require.NoError(t, err)
		require.Equal(t, "a", selection.SelectedModel)

		state, err := h.breaker.State(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, domain.BreakerOpen, state.State)
	})

	t.Run("select claims the trial", func(t *testing.T) {
		selection, err := h.selector.Select(ctx, jobParsing(domain.StrategyPerformanceFirst))
		require.NoError(t, err)
		require.Equal(t, "a", selection.SelectedModel)

		state, err := h.breaker.State(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, domain.BreakerHalfOpen, state.State)
	})

	t.Run("concurrent selection skips the busy trial", func(t *testing.T) {
		selection, err := h.selector.Select(ctx, jobParsing(domain.StrategyPerformanceFirst))
		require.NoError(t, err)
		require.Equal(t, "b", selection.SelectedModel)
	})
}
