package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/observability"
)

const maxBodyBytes = 1 << 20

type generateRequest struct {
	TaskType     domain.TaskType   `json:"task_type"`
	Complexity   float64           `json:"complexity"`
	Budget       *float64          `json:"budget,omitempty"`
	Strategy     domain.Strategy   `json:"strategy,omitempty"`
	UserID       string            `json:"user_id"`
	Prompt       string            `json:"prompt"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type embedJobRequest struct {
	domain.JobPosting
	UserID string `json:"user_id"`
}

type embedArtifactRequest struct {
	UserID string   `json:"user_id"`
	Chunks []string `json:"chunks"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// HandleGenerate runs a text generation task through selection and fallback.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.TaskType == domain.TaskEmbedding {
		writeError(ctx, w, badRequest("use /v1/tasks/embed-job for embedding tasks"))
		return
	}

	ctx = observability.WithTaskType(ctx, string(req.TaskType))
	result, err := h.orchestrator.Generate(ctx, domain.GenerateRequest{
		TaskType:   req.TaskType,
		Complexity: req.Complexity,
		Budget:     req.Budget,
		Strategy:   req.Strategy,
		UserID:     req.UserID,
		Prompt:     req.Prompt,
		Params: domain.CompletionParams{
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
		},
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	observability.FromContext(ctx).Info("generation succeeded",
		observability.String("model", result.Model),
		observability.Bool("fallback_used", result.FallbackUsed),
		observability.Float64("cost_usd", result.CostUSD))
	writeJSON(ctx, w, http.StatusOK, result)
}

// HandleEmbedJob returns a job posting's embedding, from the cache when possible.
func (h *Handler) HandleEmbedJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req embedJobRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	ctx = observability.WithTaskType(ctx, string(domain.TaskEmbedding))
	result, err := h.orchestrator.EmbedJob(ctx, req.JobPosting, req.UserID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, result)
}

// HandleEmbedArtifact embeds an artifact's chunks, reusing chunks already stored.
func (h *Handler) HandleEmbedArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	artifactID := r.PathValue("id")

	var req embedArtifactRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if len(req.Chunks) == 0 {
		writeError(ctx, w, badRequest("chunks cannot be empty"))
		return
	}

	ctx = observability.WithTaskType(ctx, string(domain.TaskEmbedding))
	chunks, err := h.chunks.EmbedArtifact(ctx, artifactID, req.UserID, req.Chunks)
	if err != nil {
		writeError(ctx, w, fmt.Errorf("artifact %s: %w", artifactID, err))
		return
	}
	for i := range chunks {
		chunks[i].Embedding = nil
	}
	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"artifact_id": artifactID,
		"chunks":      chunks,
		"count":       len(chunks),
	})
}
