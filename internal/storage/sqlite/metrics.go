package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage"
)

const metricColumns = `id, model_name, task_type, processing_time_ms, tokens_used, cost_usd, quality_score,
	success, complexity_score, selection_strategy, fallback_used, metadata, user_id, created_at`

// AppendMetric implements domain.MetricStore.
func (s *Store) AppendMetric(ctx context.Context, m domain.PerformanceMetric) error {
	metadata := []byte("{}")
	if len(m.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(m.Metadata); err != nil {
			return fmt.Errorf("encode metric metadata: %w", err)
		}
	}

	var quality sql.NullFloat64
	if m.QualityScore != nil {
		quality = sql.NullFloat64{Float64: *m.QualityScore, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_metrics (`+metricColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ModelName, string(m.TaskType), m.ProcessingTimeMS, m.TokensUsed, m.CostUSD, quality,
		boolToInt(m.Success), m.ComplexityScore, string(m.SelectionStrategy), boolToInt(m.FallbackUsed),
		string(metadata), m.UserID, m.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert performance metric: %w", err)
	}
	return nil
}

// ListMetrics implements domain.MetricStore.
func (s *Store) ListMetrics(
	ctx context.Context,
	filter domain.MetricFilter,
	page domain.Page,
) ([]domain.PerformanceMetric, int, error) {
	w := metricWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM performance_metrics`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count performance metrics: %w", err)
	}

	limit, offset := storage.Limit(page)
	args := append(append([]any(nil), w.args...), limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metricColumns+` FROM performance_metrics`+w.String()+
			` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list performance metrics: %w", err)
	}
	defer rows.Close()

	metrics := []domain.PerformanceMetric{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, 0, err
		}
		metrics = append(metrics, m)
	}
	return metrics, total, rows.Err()
}

// SummarizeMetrics implements domain.MetricStore.
func (s *Store) SummarizeMetrics(ctx context.Context, filter domain.MetricFilter) (domain.MetricSummary, error) {
	w := metricWhere(filter)

	var (
		count, successCount, qualityCount int
		totalCost, totalQuality           float64
		totalLatency                      int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(processing_time_ms), 0),
		       COUNT(quality_score),
		       COALESCE(SUM(quality_score), 0)
		FROM performance_metrics`+w.String(), w.args...,
	).Scan(&count, &successCount, &totalCost, &totalLatency, &qualityCount, &totalQuality)
	if err != nil {
		return domain.MetricSummary{}, fmt.Errorf("summarize performance metrics: %w", err)
	}

	return domain.NewMetricSummary(count, successCount, totalCost, totalLatency, qualityCount, totalQuality), nil
}

func metricWhere(filter domain.MetricFilter) *where {
	w := &where{}
	if filter.ModelName != "" {
		w.add("model_name = ?", filter.ModelName)
	}
	if filter.TaskType != "" {
		w.add("task_type = ?", string(filter.TaskType))
	}
	if filter.Success != nil {
		w.add("success = ?", boolToInt(*filter.Success))
	}
	if !filter.From.IsZero() {
		w.add("created_at >= ?", filter.From.UTC().UnixNano())
	}
	if !filter.To.IsZero() {
		w.add("created_at < ?", filter.To.UTC().UnixNano())
	}
	return w
}

func scanMetric(row scanner) (domain.PerformanceMetric, error) {
	var (
		m                     domain.PerformanceMetric
		taskType, strategy    string
		quality               sql.NullFloat64
		success, fallbackUsed int
		metadata              string
		createdAt             int64
	)
	if err := row.Scan(&m.ID, &m.ModelName, &taskType, &m.ProcessingTimeMS, &m.TokensUsed, &m.CostUSD,
		&quality, &success, &m.ComplexityScore, &strategy, &fallbackUsed, &metadata, &m.UserID,
		&createdAt); err != nil {
		return domain.PerformanceMetric{}, fmt.Errorf("scan performance metric: %w", err)
	}

	m.TaskType = domain.TaskType(taskType)
	m.SelectionStrategy = domain.Strategy(strategy)
	m.Success = success == 1
	m.FallbackUsed = fallbackUsed == 1
	m.CreatedAt = fromNanos(createdAt)
	if quality.Valid {
		q := quality.Float64
		m.QualityScore = &q
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return domain.PerformanceMetric{}, fmt.Errorf("decode metric metadata: %w", err)
		}
	}
	return m, nil
}
