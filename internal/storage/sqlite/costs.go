package sqlite

import (
	"context"
	"fmt"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage"
)

// AddCost implements domain.CostStore. The upsert adds to the stored totals inside the
// database, so concurrent writers from any process never lose an update.
func (s *Store) AddCost(ctx context.Context, delta domain.CostDelta) (domain.CostRecord, error) {
	record := domain.CostRecord{
		ModelName: delta.ModelName,
		UserID:    delta.UserID,
		Date:      delta.Date,
	}

	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cost_records (model_name, user_id, date, total_cost_usd, generation_count, total_tokens_used, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(model_name, user_id, date) DO UPDATE SET
			total_cost_usd    = cost_records.total_cost_usd + excluded.total_cost_usd,
			generation_count  = cost_records.generation_count + 1,
			total_tokens_used = cost_records.total_tokens_used + excluded.total_tokens_used,
			updated_at        = excluded.updated_at
		RETURNING total_cost_usd, generation_count, total_tokens_used, updated_at`,
		delta.ModelName, delta.UserID, delta.Date, delta.CostUSD, delta.Tokens, s.nowNanos(),
	).Scan(&record.TotalCostUSD, &record.GenerationCount, &record.TotalTokensUsed, &updatedAt)
	if err != nil {
		return domain.CostRecord{}, fmt.Errorf("upsert cost record: %w", err)
	}

	record.UpdatedAt = fromNanos(updatedAt)
	return record, nil
}

// ListCosts implements domain.CostStore.
func (s *Store) ListCosts(
	ctx context.Context,
	filter domain.CostFilter,
	page domain.Page,
) ([]domain.CostRecord, int, error) {
	w := &where{}
	if filter.ModelName != "" {
		w.add("model_name = ?", filter.ModelName)
	}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.FromDate != "" {
		w.add("date >= ?", filter.FromDate)
	}
	if filter.ToDate != "" {
		w.add("date <= ?", filter.ToDate)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cost_records`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cost records: %w", err)
	}

	limit, offset := storage.Limit(page)
	args := append(append([]any(nil), w.args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_name, user_id, date, total_cost_usd, generation_count, total_tokens_used, updated_at
		FROM cost_records`+w.String()+`
		ORDER BY date DESC, model_name, user_id
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list cost records: %w", err)
	}
	defer rows.Close()

	records := []domain.CostRecord{}
	for rows.Next() {
		var (
			r         domain.CostRecord
			updatedAt int64
		)
		if err := rows.Scan(&r.ModelName, &r.UserID, &r.Date, &r.TotalCostUSD,
			&r.GenerationCount, &r.TotalTokensUsed, &updatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan cost record: %w", err)
		}
		r.UpdatedAt = fromNanos(updatedAt)
		records = append(records, r)
	}
	return records, total, rows.Err()
}
