package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/conductor/internal/observability"
)

// PerformanceTracker records call outcomes and derives aggregate statistics.
// Aggregates are computed on every read; nothing is cached.
type PerformanceTracker struct {
	store MetricStore
	now   func() time.Time
}

// TrackerOption configures a PerformanceTracker.
type TrackerOption func(*PerformanceTracker)

// WithTrackerClock replaces time.Now, for tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *PerformanceTracker) {
		t.now = now
	}
}

// NewPerformanceTracker creates a tracker backed by store.
func NewPerformanceTracker(store MetricStore, opts ...TrackerOption) *PerformanceTracker {
	t := &PerformanceTracker{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record validates and appends a metric, returning it with id and timestamp assigned.
// Storage failures are returned to the caller.
func (t *PerformanceTracker) Record(ctx context.Context, metric PerformanceMetric) (PerformanceMetric, error) {
	if err := validateMetric(metric); err != nil {
		return PerformanceMetric{}, err
	}

	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = t.now().UTC()
	}

	if err := t.store.AppendMetric(ctx, metric); err != nil {
		observability.FromContext(ctx).Error("failed to record performance metric",
			observability.String("model_name", metric.ModelName),
			observability.Error(err))
		return PerformanceMetric{}, fmt.Errorf("failed to record performance metric: %w", err)
	}

	return metric, nil
}

// List returns one page of matching metrics, newest first, with the total count.
func (t *PerformanceTracker) List(
	ctx context.Context,
	filter MetricFilter,
	page Page,
) ([]PerformanceMetric, int, error) {
	metrics, total, err := t.store.ListMetrics(ctx, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list performance metrics: %w", err)
	}
	return metrics, total, nil
}

// Summary aggregates matching metrics.
func (t *PerformanceTracker) Summary(ctx context.Context, filter MetricFilter) (MetricSummary, error) {
	summary, err := t.store.SummarizeMetrics(ctx, filter)
	if err != nil {
		return MetricSummary{}, fmt.Errorf("failed to summarize performance metrics: %w", err)
	}
	return summary, nil
}

// TodaySummary aggregates metrics created since UTC midnight. Date bounds on filter are replaced.
func (t *PerformanceTracker) TodaySummary(ctx context.Context, filter MetricFilter) (MetricSummary, error) {
	start := startOfDay(t.now())
	filter.From = start
	filter.To = start.AddDate(0, 0, 1)
	return t.Summary(ctx, filter)
}

// YesterdaySummary aggregates metrics of the previous UTC day. Date bounds on filter are replaced.
func (t *PerformanceTracker) YesterdaySummary(ctx context.Context, filter MetricFilter) (MetricSummary, error) {
	end := startOfDay(t.now())
	filter.From = end.AddDate(0, 0, -1)
	filter.To = end
	return t.Summary(ctx, filter)
}

// ModelStats aggregates metrics per model over the trailing window; a window <= 0 covers all history.
func (t *PerformanceTracker) ModelStats(
	ctx context.Context,
	models []string,
	taskType TaskType,
	window time.Duration,
) ([]ModelStats, error) {
	stats := make([]ModelStats, 0, len(models))
	for _, model := range models {
		filter := MetricFilter{ModelName: model, TaskType: taskType}
		if window > 0 {
			filter.From = t.now().Add(-window)
		}
		summary, err := t.Summary(ctx, filter)
		if err != nil {
			return nil, err
		}
		stats = append(stats, ModelStats{ModelName: model, Summary: summary})
	}
	return stats, nil
}

// SummarizeMetrics folds metrics into a MetricSummary. Stores without native
// aggregation use it.
func SummarizeMetrics(metrics []PerformanceMetric) MetricSummary {
	var (
		summary      MetricSummary
		latencyTotal int64
		qualityTotal float64
	)
	for _, m := range metrics {
		summary.Count++
		if m.Success {
			summary.SuccessCount++
		}
		summary.TotalCostUSD += m.CostUSD
		latencyTotal += m.ProcessingTimeMS
		if m.QualityScore != nil {
			summary.QualityCount++
			qualityTotal += *m.QualityScore
		}
	}
	return finishSummary(summary, latencyTotal, qualityTotal)
}

// NewMetricSummary builds a summary from raw aggregate columns.
func NewMetricSummary(
	count, successCount int,
	totalCost float64,
	totalLatencyMS int64,
	qualityCount int,
	totalQuality float64,
) MetricSummary {
	return finishSummary(MetricSummary{
		Count:        count,
		SuccessCount: successCount,
		TotalCostUSD: totalCost,
		QualityCount: qualityCount,
	}, totalLatencyMS, totalQuality)
}

func finishSummary(summary MetricSummary, latencyTotal int64, qualityTotal float64) MetricSummary {
	if summary.Count > 0 {
		n := float64(summary.Count)
		summary.SuccessRate = float64(summary.SuccessCount) / n
		summary.AvgCostUSD = summary.TotalCostUSD / n
		summary.AvgLatencyMS = float64(latencyTotal) / n
	}
	if summary.QualityCount > 0 {
		summary.AvgQuality = qualityTotal / float64(summary.QualityCount)
	}
	return summary
}

// Matches reports whether m passes the filter.
func (f MetricFilter) Matches(m PerformanceMetric) bool {
	if f.ModelName != "" && m.ModelName != f.ModelName {
		return false
	}
	if f.TaskType != "" && m.TaskType != f.TaskType {
		return false
	}
	if f.Success != nil && m.Success != *f.Success {
		return false
	}
	if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func validateMetric(m PerformanceMetric) error {
	switch {
	case m.ModelName == "":
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidMetric)
	case !m.TaskType.Valid():
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidMetric, m.TaskType)
	case m.ProcessingTimeMS < 0 || m.TokensUsed < 0 || m.CostUSD < 0:
		return fmt.Errorf("%w: latency, tokens and cost must be non-negative", ErrInvalidMetric)
	case m.QualityScore != nil && (*m.QualityScore < 0 || *m.QualityScore > 1):
		return fmt.Errorf("%w: quality score must be within [0,1]", ErrInvalidMetric)
	case m.ComplexityScore < 0 || m.ComplexityScore > 1:
		return fmt.Errorf("%w: complexity score must be within [0,1]", ErrInvalidMetric)
	case m.SelectionStrategy != "" && !m.SelectionStrategy.Valid():
		return fmt.Errorf("%w: unknown selection strategy %q", ErrInvalidMetric, m.SelectionStrategy)
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
