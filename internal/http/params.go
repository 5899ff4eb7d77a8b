package http

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/davidbz/conductor/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// requestError is a malformed query or body.
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

func badRequest(format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

type pageResponse[T any] struct {
	Results  []T `json:"results"`
	Count    int `json:"count"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func newPageResponse[T any](results []T, total int, page domain.Page) pageResponse[T] {
	if results == nil {
		results = []T{}
	}
	return pageResponse[T]{
		Results:  results,
		Count:    total,
		Page:     page.Number,
		PageSize: page.Size,
	}
}

func parsePage(q url.Values) (domain.Page, error) {
	page := domain.Page{Number: 1, Size: defaultPageSize}

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, badRequest("page must be a positive integer, got %q", raw)
		}
		page.Number = n
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, badRequest("page_size must be a positive integer, got %q", raw)
		}
		page.Size = min(n, maxPageSize)
	}
	return page, nil
}

func optionalBool(q url.Values, key string) (*bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, badRequest("%s must be a boolean, got %q", key, raw)
	}
	return &v, nil
}

func optionalFloat(q url.Values, key string) (*float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, badRequest("%s must be a number, got %q", key, raw)
	}
	return &v, nil
}

func optionalTaskType(q url.Values, key string) (domain.TaskType, error) {
	raw := q.Get(key)
	if raw == "" {
		return "", nil
	}
	taskType, err := domain.ParseTaskType(raw)
	if err != nil {
		return "", badRequest("%s: %v", key, err)
	}
	return taskType, nil
}

// parseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates. A bare date used as an
// upper bound covers the whole day.
func parseTime(q url.Values, key string, upper bool) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, badRequest("%s must be RFC 3339 or YYYY-MM-DD, got %q", key, raw)
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func parseDate(q url.Values, key string) (string, error) {
	raw := q.Get(key)
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse(domain.DateLayout, raw); err != nil {
		return "", badRequest("%s must be YYYY-MM-DD, got %q", key, raw)
	}
	return raw, nil
}

func parseMetricFilter(q url.Values) (domain.MetricFilter, error) {
	filter := domain.MetricFilter{ModelName: q.Get("model_name")}

	var err error
	if filter.TaskType, err = optionalTaskType(q, "task_type"); err != nil {
		return filter, err
	}
	if filter.Success, err = optionalBool(q, "success"); err != nil {
		return filter, err
	}
	if filter.From, err = parseTime(q, "from", false); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime(q, "to", true); err != nil {
		return filter, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return filter, badRequest("from must be before to")
	}
	return filter, nil
}

func parseCostFilter(q url.Values) (domain.CostFilter, error) {
	filter := domain.CostFilter{
		ModelName: q.Get("model_name"),
		UserID:    q.Get("user"),
	}

	var err error
	if filter.FromDate, err = parseDate(q, "from"); err != nil {
		return filter, err
	}
	if filter.ToDate, err = parseDate(q, "to"); err != nil {
		return filter, err
	}
	if filter.FromDate != "" && filter.ToDate != "" && filter.FromDate > filter.ToDate {
		return filter, badRequest("from must not be after to")
	}
	return filter, nil
}

func parseSelectionQuery(q url.Values) (domain.SelectionRequest, error) {
	var req domain.SelectionRequest

	raw := q.Get("task_type")
	if raw == "" {
		return req, badRequest("task_type is required")
	}
	taskType, err := optionalTaskType(q, "task_type")
	if err != nil {
		return req, err
	}
	req.TaskType = taskType

	complexity, err := optionalFloat(q, "complexity")
	if err != nil {
		return req, err
	}
	if complexity != nil {
		req.Complexity = *complexity
	}

	if req.Budget, err = optionalFloat(q, "budget"); err != nil {
		return req, err
	}

	if s := q.Get("strategy"); s != "" {
		strategy, err := domain.ParseStrategy(s)
		if err != nil {
			return req, err
		}
		req.Strategy = strategy
	}
	return req, nil
}
