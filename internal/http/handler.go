package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/dig"

	"github.com/davidbz/conductor/internal/config"
	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/observability"
)

// HandlerParams are the services the HTTP surface reads from.
type HandlerParams struct {
	dig.In

	Models       domain.ModelRegistry
	Selector     *domain.ModelSelector
	Breaker      *domain.CircuitBreakerService
	Tracker      *domain.PerformanceTracker
	Costs        *domain.CostTracker
	Cache        *domain.EmbeddingCache
	Orchestrator *domain.Orchestrator
	Chunks       *domain.ChunkEmbedder
	Selection    *config.SelectorConfig
}

// Handler serves the observability, admin and task endpoints.
type Handler struct {
	models        domain.ModelRegistry
	selector      *domain.ModelSelector
	breaker       *domain.CircuitBreakerService
	tracker       *domain.PerformanceTracker
	costs         *domain.CostTracker
	cache         *domain.EmbeddingCache
	orchestrator  *domain.Orchestrator
	chunks        *domain.ChunkEmbedder
	historyWindow time.Duration
	now           func() time.Time
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(p HandlerParams) *Handler {
	h := &Handler{
		models:       p.Models,
		selector:     p.Selector,
		breaker:      p.Breaker,
		tracker:      p.Tracker,
		costs:        p.Costs,
		cache:        p.Cache,
		orchestrator: p.Orchestrator,
		chunks:       p.Chunks,
		now:          time.Now,
	}
	if p.Selection != nil {
		h.historyWindow = p.Selection.HistoryWindow
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleLiveness)
	mux.HandleFunc("GET /v1/health", h.HandleSystemHealth)

	mux.HandleFunc("GET /v1/models", h.HandleListModels)
	mux.HandleFunc("GET /v1/models/stats", h.HandleModelStats)
	mux.HandleFunc("GET /v1/models/select-preview", h.HandleSelectPreview)

	mux.HandleFunc("GET /v1/metrics/performance", h.HandleListMetrics)
	mux.HandleFunc("GET /v1/metrics/performance/summary", h.HandleMetricSummary)

	mux.HandleFunc("GET /v1/circuit-breakers", h.HandleListBreakers)
	mux.HandleFunc("GET /v1/circuit-breakers/health", h.HandleBreakerHealth)
	mux.HandleFunc("POST /v1/circuit-breakers/{model}/reset", h.HandleResetBreaker)

	mux.HandleFunc("GET /v1/costs", h.HandleListCosts)
	mux.HandleFunc("GET /v1/costs/monthly", h.HandleMonthlyCosts)
	mux.HandleFunc("GET /v1/costs/daily", h.HandleDailyCosts)

	mux.HandleFunc("GET /v1/embeddings/stats", h.HandleEmbeddingStats)

	mux.HandleFunc("POST /v1/tasks/generate", h.HandleGenerate)
	mux.HandleFunc("POST /v1/tasks/embed-job", h.HandleEmbedJob)
	mux.HandleFunc("POST /v1/artifacts/{id}/chunks", h.HandleEmbedArtifact)
}

// HandleLiveness reports that the process is serving.
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

type systemHealth struct {
	Status          string               `json:"status"`
	CircuitBreakers domain.BreakerHealth `json:"circuit_breakers"`
	EmbeddingCache  domain.CacheStats    `json:"embedding_cache"`
	Today           domain.MetricSummary `json:"today"`
	Timestamp       time.Time            `json:"timestamp"`
}

// HandleSystemHealth aggregates breaker health, cache stats and today's activity.
func (h *Handler) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	breakers, err := h.breaker.HealthStatus(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	cache, err := h.cache.Stats(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	today, err := h.tracker.TodaySummary(ctx, domain.MetricFilter{})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, systemHealth{
		Status:          healthStatus(breakers),
		CircuitBreakers: breakers,
		EmbeddingCache:  cache,
		Today:           today,
		Timestamp:       h.now().UTC(),
	})
}

// healthStatus is unhealthy when every known breaker is open and degraded when any is.
func healthStatus(health domain.BreakerHealth) string {
	switch {
	case health.TotalModels > 0 && health.Open == health.TotalModels:
		return "unhealthy"
	case health.Open > 0:
		return "degraded"
	default:
		return "healthy"
	}
}

// HandleListModels serves the model catalog.
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	enabledOnly, err := optionalBool(q, "enabled_only")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	filter := domain.ModelFilter{Capability: q.Get("capability")}
	if enabledOnly != nil {
		filter.EnabledOnly = *enabledOnly
	}

	models, err := h.models.ListModels(ctx, filter)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if models == nil {
		models = []domain.ModelConfig{}
	}
	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

// HandleModelStats serves per-model performance over the selector's history window.
func (h *Handler) HandleModelStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	taskType, err := optionalTaskType(q, "task_type")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	filter := domain.ModelFilter{EnabledOnly: true}
	if taskType != "" {
		filter.Capability = string(taskType)
	}

	models, err := h.models.ListModels(ctx, filter)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}

	stats, err := h.tracker.ModelStats(ctx, ids, taskType, h.historyWindow)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"window": h.historyWindow.String(),
		"models": stats,
	})
}

// HandleSelectPreview ranks models for a hypothetical request without touching breaker state.
func (h *Handler) HandleSelectPreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := parseSelectionQuery(r.URL.Query())
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	selection, err := h.selector.Preview(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, selection)
}

// HandleListMetrics lists performance metrics, newest first.
func (h *Handler) HandleListMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter, err := parseMetricFilter(q)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	page, err := parsePage(q)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	metrics, total, err := h.tracker.List(ctx, filter, page)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newPageResponse(metrics, total, page))
}

// HandleMetricSummary aggregates performance metrics, optionally for today or yesterday.
func (h *Handler) HandleMetricSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter, err := parseMetricFilter(q)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var summary domain.MetricSummary
	period := q.Get("period")
	switch period {
	case "":
		summary, err = h.tracker.Summary(ctx, filter)
	case "today":
		summary, err = h.tracker.TodaySummary(ctx, filter)
	case "yesterday":
		summary, err = h.tracker.YesterdaySummary(ctx, filter)
	default:
		err = badRequest("period must be today or yesterday, got %q", period)
	}
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"period":  period,
		"summary": summary,
	})
}

// HandleListBreakers lists every persisted breaker state.
func (h *Handler) HandleListBreakers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	states, err := h.breaker.ListStates(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if states == nil {
		states = []domain.CircuitBreakerState{}
	}
	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"circuit_breakers": states,
		"count":            len(states),
	})
}

// HandleBreakerHealth serves the aggregate breaker health.
func (h *Handler) HandleBreakerHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health, err := h.breaker.HealthStatus(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, health)
}

// HandleResetBreaker forces a catalog model's breaker closed.
func (h *Handler) HandleResetBreaker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelID := r.PathValue("model")
	ctx = observability.WithModel(ctx, modelID)

	if _, err := h.models.GetModel(ctx, modelID); err != nil {
		writeError(ctx, w, err)
		return
	}

	state, err := h.breaker.Reset(ctx, modelID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, state)
}

// HandleListCosts lists daily cost records.
func (h *Handler) HandleListCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter, err := parseCostFilter(q)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	page, err := parsePage(q)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	records, total, err := h.costs.List(ctx, filter, page)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newPageResponse(records, total, page))
}

type costSummary struct {
	Period       string                    `json:"period"`
	TotalCostUSD float64                   `json:"total_cost_usd"`
	Models       []domain.ModelCostSummary `json:"models"`
}

func newCostSummary(period string, models []domain.ModelCostSummary) costSummary {
	summary := costSummary{Period: period, Models: models}
	if summary.Models == nil {
		summary.Models = []domain.ModelCostSummary{}
	}
	for _, m := range models {
		summary.TotalCostUSD += m.TotalCostUSD
	}
	return summary
}

// HandleMonthlyCosts summarizes one month (default: the current one) by model.
func (h *Handler) HandleMonthlyCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	month := h.now().UTC()
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			writeError(ctx, w, badRequest("month must be YYYY-MM, got %q", raw))
			return
		}
		month = parsed
	}

	models, err := h.costs.MonthlySummary(ctx, month.Year(), month.Month())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newCostSummary(month.Format("2006-01"), models))
}

// HandleDailyCosts summarizes one UTC day (default: today) by model.
func (h *Handler) HandleDailyCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	day := h.now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			writeError(ctx, w, badRequest("date must be YYYY-MM-DD, got %q", raw))
			return
		}
		day = parsed
	}

	models, err := h.costs.DailySummary(ctx, day)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newCostSummary(day.Format(domain.DateLayout), models))
}

// HandleEmbeddingStats serves embedding cache statistics.
func (h *Handler) HandleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.cache.Stats(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, stats)
}

type errorResponse struct {
	Error            string            `json:"error"`
	Kind             string            `json:"kind,omitempty"`
	MinEstimatedCost *float64          `json:"min_estimated_cost_usd,omitempty"`
	Excluded         map[string]string `json:"excluded,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var bad *requestError
	switch {
	case errors.Is(err, domain.ErrAllModelsFailed):
		return http.StatusBadGateway
	case errors.As(err, &bad),
		errors.Is(err, domain.ErrInvalidSelection),
		errors.Is(err, domain.ErrInvalidStrategy),
		errors.Is(err, domain.ErrInvalidMetric),
		errors.Is(err, domain.ErrInvalidCost),
		errors.Is(err, domain.ErrInvalidEmbedding):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAllCircuitsOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNoAvailableModel), errors.Is(err, domain.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrChunkConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	logger := observability.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", observability.Int("status", status), observability.Error(err))
	} else {
		logger.Info("request rejected", observability.Int("status", status), observability.Error(err))
	}

	resp := errorResponse{Error: err.Error()}
	var selErr *domain.SelectionError
	if errors.As(err, &selErr) {
		resp.Kind = selErr.Kind.Error()
		resp.Excluded = selErr.Excluded
		if errors.Is(selErr.Kind, domain.ErrBudgetExceeded) {
			cost := selErr.MinEstimatedCost
			resp.MinEstimatedCost = &cost
		}
	}
	writeJSON(ctx, w, status, resp)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}
