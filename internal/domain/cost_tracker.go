package domain

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/davidbz/conductor/internal/observability"
)

// DateLayout is the storage format of CostRecord.Date.
const DateLayout = "2006-01-02"

// CostTracker accumulates billable cost per (model, user, date).
type CostTracker struct {
	store CostStore
}

// NewCostTracker creates a cost tracker backed by store.
func NewCostTracker(store CostStore) *CostTracker {
	return &CostTracker{store: store}
}

// RecordCost folds one billable call into its daily record. The store performs the
// read-modify-write atomically, so concurrent callers never lose updates.
func (c *CostTracker) RecordCost(
	ctx context.Context,
	model, userID string,
	date time.Time,
	costUSD float64,
	tokens int,
) (CostRecord, error) {
	switch {
	case model == "":
		return CostRecord{}, fmt.Errorf("%w: model cannot be empty", ErrInvalidCost)
	case math.IsNaN(costUSD) || math.IsInf(costUSD, 0) || costUSD < 0:
		return CostRecord{}, fmt.Errorf("%w: cost must be a non-negative number", ErrInvalidCost)
	case tokens < 0:
		return CostRecord{}, fmt.Errorf("%w: tokens cannot be negative", ErrInvalidCost)
	case date.IsZero():
		return CostRecord{}, fmt.Errorf("%w: date is required", ErrInvalidCost)
	}

	record, err := c.store.AddCost(ctx, CostDelta{
		ModelName: model,
		UserID:    userID,
		Date:      date.UTC().Format(DateLayout),
		CostUSD:   costUSD,
		Tokens:    tokens,
	})
	if err != nil {
		observability.FromContext(ctx).Error("failed to record cost",
			observability.String("model_name", model),
			observability.Float64("cost_usd", costUSD),
			observability.Error(err))
		return CostRecord{}, fmt.Errorf("failed to record cost: %w", err)
	}

	observability.RecordCost(ctx, model, costUSD)
	return record, nil
}

// List returns one page of matching cost records with the total count.
func (c *CostTracker) List(ctx context.Context, filter CostFilter, page Page) ([]CostRecord, int, error) {
	records, total, err := c.store.ListCosts(ctx, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cost records: %w", err)
	}
	return records, total, nil
}

// MonthlySummary groups the month's records by model across all users.
func (c *CostTracker) MonthlySummary(ctx context.Context, year int, month time.Month) ([]ModelCostSummary, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return c.summarize(ctx, CostFilter{
		FromDate: first.Format(DateLayout),
		ToDate:   last.Format(DateLayout),
	})
}

// DailySummary groups one UTC day's records by model across all users.
func (c *CostTracker) DailySummary(ctx context.Context, date time.Time) ([]ModelCostSummary, error) {
	day := date.UTC().Format(DateLayout)
	return c.summarize(ctx, CostFilter{FromDate: day, ToDate: day})
}

func (c *CostTracker) summarize(ctx context.Context, filter CostFilter) ([]ModelCostSummary, error) {
	records, _, err := c.store.ListCosts(ctx, filter, Page{})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize costs: %w", err)
	}
	return SummarizeCosts(records), nil
}

// SummarizeCosts groups records by model, ordered by total cost descending.
func SummarizeCosts(records []CostRecord) []ModelCostSummary {
	byModel := make(map[string]*ModelCostSummary)
	for _, r := range records {
		s, ok := byModel[r.ModelName]
		if !ok {
			s = &ModelCostSummary{ModelName: r.ModelName}
			byModel[r.ModelName] = s
		}
		s.TotalCostUSD += r.TotalCostUSD
		s.TotalGenerations += r.GenerationCount
		s.TotalTokensUsed += r.TotalTokensUsed
	}

	summaries := make([]ModelCostSummary, 0, len(byModel))
	for _, s := range byModel {
		if s.TotalGenerations > 0 {
			s.AvgCostPerGeneration = s.TotalCostUSD / float64(s.TotalGenerations)
		}
		summaries = append(summaries, *s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].TotalCostUSD != summaries[j].TotalCostUSD {
			return summaries[i].TotalCostUSD > summaries[j].TotalCostUSD
		}
		return summaries[i].ModelName < summaries[j].ModelName
	})
	return summaries
}

// Matches reports whether r passes the filter.
func (f CostFilter) Matches(r CostRecord) bool {
	if f.ModelName != "" && r.ModelName != f.ModelName {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.FromDate != "" && r.Date < f.FromDate {
		return false
	}
	if f.ToDate != "" && r.Date > f.ToDate {
		return false
	}
	return true
}
