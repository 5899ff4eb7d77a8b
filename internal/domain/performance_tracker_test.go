package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage/memory"
)

func TestPerformanceTracker_Record(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	tracker := domain.NewPerformanceTracker(memory.NewStore(), domain.WithTrackerClock(clock.Now))

	metric, err := tracker.Record(ctx, domain.PerformanceMetric{
		ModelName:        "gpt-4o",
		TaskType:         domain.TaskCVGeneration,
		ProcessingTimeMS: 420,
		Success:          true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, metric.ID)
	require.Equal(t, clock.Now(), metric.CreatedAt)

	quality := 1.5
	tests := []struct {
		name   string
		metric domain.PerformanceMetric
	}{
		{name: "missing model", metric: domain.PerformanceMetric{TaskType: domain.TaskEmbedding}},
		{name: "unknown task", metric: domain.PerformanceMetric{ModelName: "m", TaskType: "other"}},
		{
			name:   "negative latency",
			metric: domain.PerformanceMetric{ModelName: "m", TaskType: domain.TaskEmbedding, ProcessingTimeMS: -1},
		},
		{
			name:   "quality out of range",
			metric: domain.PerformanceMetric{ModelName: "m", TaskType: domain.TaskEmbedding, QualityScore: &quality},
		},
		{
			name:   "complexity out of range",
			metric: domain.PerformanceMetric{ModelName: "m", TaskType: domain.TaskEmbedding, ComplexityScore: 2},
		},
		{
			name: "unknown strategy",
			metric: domain.PerformanceMetric{
				ModelName: "m", TaskType: domain.TaskEmbedding, SelectionStrategy: "random",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracker.Record(ctx, tt.metric)
			require.ErrorIs(t, err, domain.ErrInvalidMetric)
		})
	}
}

func TestPerformanceTracker_Summaries(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	tracker := domain.NewPerformanceTracker(memory.NewStore(), domain.WithTrackerClock(clock.Now))

	record := func(model string, success bool, latency int64, at time.Time) {
		t.Helper()
		_, err := tracker.Record(ctx, domain.PerformanceMetric{
			ModelName:        model,
			TaskType:         domain.TaskJobParsing,
			ProcessingTimeMS: latency,
			CostUSD:          0.01,
			Success:          success,
			CreatedAt:        at,
		})
		require.NoError(t, err)
	}

	today := clock.Now()
	yesterday := today.AddDate(0, 0, -1)
	record("a", true, 100, today)
	record("a", false, 300, today)
	record("b", true, 200, yesterday)

	t.Run("today", func(t *testing.T) {
		summary, err := tracker.TodaySummary(ctx, domain.MetricFilter{})
		require.NoError(t, err)
		require.Equal(t, 2, summary.Count)
		require.InDelta(t, 0.5, summary.SuccessRate, 1e-9)
		require.InDelta(t, 200, summary.AvgLatencyMS, 1e-9)
		require.InDelta(t, 0.02, summary.TotalCostUSD, 1e-9)
	})

	t.Run("yesterday", func(t *testing.T) {
		summary, err := tracker.YesterdaySummary(ctx, domain.MetricFilter{})
		require.NoError(t, err)
		require.Equal(t, 1, summary.Count)
	})

	t.Run("per model stats over a window", func(t *testing.T) {
		stats, err := tracker.ModelStats(ctx, []string{"a", "b", "c"}, domain.TaskJobParsing, 12*time.Hour)
		require.NoError(t, err)
		require.Len(t, stats, 3)
		require.Equal(t, 2, stats[0].Summary.Count)
		require.Zero(t, stats[1].Summary.Count)
		require.Zero(t, stats[2].Summary.Count)

		all, err := tracker.ModelStats(ctx, []string{"b"}, domain.TaskJobParsing, 0)
		require.NoError(t, err)
		require.Equal(t, 1, all[0].Summary.Count)
	})

	t.Run("list is paged newest first", func(t *testing.T) {
		metrics, total, err := tracker.List(ctx, domain.MetricFilter{}, domain.Page{Number: 2, Size: 2})
		require.NoError(t, err)
		require.Equal(t, 3, total)
		require.Len(t, metrics, 1)
		require.Equal(t, "b", metrics[0].ModelName)
	})
}

func TestSummarizeMetrics(t *testing.T) {
	q1, q2 := 0.6, 1.0
	summary := domain.SummarizeMetrics([]domain.PerformanceMetric{
		{Success: true, CostUSD: 0.02, ProcessingTimeMS: 100, QualityScore: &q1},
		{Success: true, CostUSD: 0.04, ProcessingTimeMS: 300, QualityScore: &q2},
		{Success: false, ProcessingTimeMS: 200},
	})

	require.Equal(t, 3, summary.Count)
	require.Equal(t, 2, summary.SuccessCount)
	require.InDelta(t, 2.0/3.0, summary.SuccessRate, 1e-9)
	require.InDelta(t, 0.02, summary.AvgCostUSD, 1e-9)
	require.InDelta(t, 200, summary.AvgLatencyMS, 1e-9)
	require.Equal(t, 2, summary.QualityCount)
	require.InDelta(t, 0.8, summary.AvgQuality, 1e-9)

	require.Equal(t, domain.MetricSummary{}, domain.SummarizeMetrics(nil))
}
