package domain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage/memory"
)

func TestCostTracker_MonthlySummary(t *testing.T) {
	ctx := context.Background()
	costs := domain.NewCostTracker(memory.NewStore())
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	_, err := costs.RecordCost(ctx, "gpt-4o", "u1", day, 0.01, 100)
	require.NoError(t, err)
	record, err := costs.RecordCost(ctx, "gpt-4o", "u1", day.Add(time.Hour), 0.02, 200)
	require.NoError(t, err)
	require.Equal(t, "2026-03-14", record.Date)
	require.InDelta(t, 0.015, record.AvgCostPerGeneration(), 1e-9)

	_, err = costs.RecordCost(ctx, "gpt-4o-mini", "u2", day.AddDate(0, 0, 3), 0.001, 10)
	require.NoError(t, err)
	_, err = costs.RecordCost(ctx, "gpt-4o", "u1", day.AddDate(0, 1, 0), 5, 10)
	require.NoError(t, err)

	summary, err := costs.MonthlySummary(ctx, 2026, time.March)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	require.Equal(t, "gpt-4o", summary[0].ModelName)
	require.InDelta(t, 0.03, summary[0].TotalCostUSD, 1e-9)
	require.Equal(t, 2, summary[0].TotalGenerations)
	require.Equal(t, 300, summary[0].TotalTokensUsed)
	require.InDelta(t, 0.015, summary[0].AvgCostPerGeneration, 1e-9)

	t.Run("daily", func(t *testing.T) {
		daily, err := costs.DailySummary(ctx, day.AddDate(0, 0, 3))
		require.NoError(t, err)
		require.Len(t, daily, 1)
		require.Equal(t, "gpt-4o-mini", daily[0].ModelName)
	})

	t.Run("list filters by user", func(t *testing.T) {
		records, total, err := costs.List(ctx, domain.CostFilter{UserID: "u2"}, domain.Page{})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, "u2", records[0].UserID)
	})
}

func TestCostTracker_MidnightUTCSplitsRecords(t *testing.T) {
	ctx := context.Background()
	costs := domain.NewCostTracker(memory.NewStore())
	beforeMidnight := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)

	_, err := costs.RecordCost(ctx, "m", "u", beforeMidnight, 1, 1)
	require.NoError(t, err)
	_, err = costs.RecordCost(ctx, "m", "u", beforeMidnight.Add(2*time.Minute), 1, 1)
	require.NoError(t, err)

	_, total, err := costs.List(ctx, domain.CostFilter{}, domain.Page{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestCostTracker_ConcurrentRecording(t *testing.T) {
	ctx := context.Background()
	costs := domain.NewCostTracker(memory.NewStore())
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	const workers = 40
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := costs.RecordCost(ctx, "gpt-4o", "u1", day, 0.25, 4)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, _, err := costs.List(ctx, domain.CostFilter{}, domain.Page{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, workers, records[0].GenerationCount)
	require.InDelta(t, 10.0, records[0].TotalCostUSD, 1e-9)
}

func TestCostTracker_Validation(t *testing.T) {
	ctx := context.Background()
	costs := domain.NewCostTracker(memory.NewStore())
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		model  string
		date   time.Time
		cost   float64
		tokens int
	}{
		{name: "empty model", model: "", date: day, cost: 1},
		{name: "negative cost", model: "m", date: day, cost: -0.01},
		{name: "negative tokens", model: "m", date: day, tokens: -1},
		{name: "missing date", model: "m", cost: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := costs.RecordCost(ctx, tt.model, "u", tt.date, tt.cost, tt.tokens)
			require.ErrorIs(t, err, domain.ErrInvalidCost)
		})
	}
}
