package domain

import (
	"fmt"
	"time"
)

// TaskType identifies the kind of work a caller wants a model for.
type TaskType string

const (
	TaskJobParsing       TaskType = "job_parsing"
	TaskCVGeneration     TaskType = "cv_generation"
	TaskEmbedding        TaskType = "embedding"
	TaskSimilaritySearch TaskType = "similarity_search"
)

// TaskTypes lists every known task type.
func TaskTypes() []TaskType {
	return []TaskType{TaskJobParsing, TaskCVGeneration, TaskEmbedding, TaskSimilaritySearch}
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskJobParsing, TaskCVGeneration, TaskEmbedding, TaskSimilaritySearch:
		return true
	default:
		return false
	}
}

// ParseTaskType converts a string into a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// ModelConfig describes one model in the catalog.
type ModelConfig struct {
	ID                 string   `json:"id"                    yaml:"id"`
	Provider           string   `json:"provider"              yaml:"provider"`
	ContextWindow      int      `json:"context_window"        yaml:"context_window"`
	MaxOutputTokens    int      `json:"max_output_tokens"     yaml:"max_output_tokens"`
	InputCostPerToken  float64  `json:"input_cost_per_token"  yaml:"input_cost_per_token"`
	OutputCostPerToken float64  `json:"output_cost_per_token" yaml:"output_cost_per_token"`
	Capabilities       []string `json:"capabilities"          yaml:"capabilities"`
	Enabled            bool     `json:"enabled"               yaml:"enabled"`
	// QualityPrior is the assumed quality (0..1) until enough history exists.
	QualityPrior float64 `json:"quality_prior" yaml:"quality_prior"`
}

// HasCapability reports whether the model is tagged with capability.
func (m ModelConfig) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Validate checks the per-model catalog invariants.
func (m ModelConfig) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: model id cannot be empty", ErrInvalidModelConfig)
	}
	if m.Provider == "" {
		return fmt.Errorf("%w: model %s has no provider", ErrInvalidModelConfig, m.ID)
	}
	if m.InputCostPerToken < 0 || m.OutputCostPerToken < 0 {
		return fmt.Errorf("%w: model %s has negative token cost", ErrInvalidModelConfig, m.ID)
	}
	if m.QualityPrior < 0 || m.QualityPrior > 1 {
		return fmt.Errorf("%w: model %s quality prior must be within [0,1]", ErrInvalidModelConfig, m.ID)
	}
	return nil
}

// ModelFilter narrows ListModels results. Zero value matches everything.
type ModelFilter struct {
	Capability  string
	EnabledOnly bool
}

// Matches reports whether m passes the filter.
func (f ModelFilter) Matches(m ModelConfig) bool {
	if f.EnabledOnly && !m.Enabled {
		return false
	}
	if f.Capability != "" && !m.HasCapability(f.Capability) {
		return false
	}
	return true
}

// PerformanceMetric is the immutable outcome of one completed provider call.
type PerformanceMetric struct {
	ID                string            `json:"id"`
	ModelName         string            `json:"model_name"`
	TaskType          TaskType          `json:"task_type"`
	ProcessingTimeMS  int64             `json:"processing_time_ms"`
	TokensUsed        int               `json:"tokens_used"`
	CostUSD           float64           `json:"cost_usd"`
	QualityScore      *float64          `json:"quality_score,omitempty"`
	Success           bool              `json:"success"`
	ComplexityScore   float64           `json:"complexity_score"`
	SelectionStrategy Strategy          `json:"selection_strategy"`
	FallbackUsed      bool              `json:"fallback_used"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// MetricFilter selects performance metrics. Nil pointers and zero values are ignored.
type MetricFilter struct {
	ModelName string
	TaskType  TaskType
	Success   *bool
	From      time.Time // inclusive
	To        time.Time // exclusive
}

// MetricSummary is an aggregate over a set of performance metrics.
type MetricSummary struct {
	Count        int     `json:"count"`
	SuccessCount int     `json:"success_count"`
	SuccessRate  float64 `json:"success_rate"`
	AvgCostUSD   float64 `json:"avg_cost_usd"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	// AvgQuality averages only metrics that carry a quality score.
	AvgQuality   float64 `json:"avg_quality"`
	QualityCount int     `json:"quality_count"`
}

// ModelStats pairs a model with its aggregate performance.
type ModelStats struct {
	ModelName string        `json:"model_name"`
	Summary   MetricSummary `json:"summary"`
}

// CostRecord accumulates spend for one (model, user, date) key.
type CostRecord struct {
	ModelName       string    `json:"model_name"`
	UserID          string    `json:"user_id"`
	Date            string    `json:"date"` // YYYY-MM-DD, UTC
	TotalCostUSD    float64   `json:"total_cost_usd"`
	GenerationCount int       `json:"generation_count"`
	TotalTokensUsed int       `json:"total_tokens_used"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AvgCostPerGeneration derives the mean cost of one generation.
func (c CostRecord) AvgCostPerGeneration() float64 {
	if c.GenerationCount == 0 {
		return 0
	}
	return c.TotalCostUSD / float64(c.GenerationCount)
}

// CostDelta is one billable call to be folded into a CostRecord.
type CostDelta struct {
	ModelName string
	UserID    string
	Date      string
	CostUSD   float64
	Tokens    int
}

// CostFilter selects cost records. Dates are inclusive YYYY-MM-DD bounds.
type CostFilter struct {
	ModelName string
	UserID    string
	FromDate  string
	ToDate    string
}

// ModelCostSummary is one row of a monthly or daily summary.
type ModelCostSummary struct {
	ModelName            string  `json:"model_name"`
	TotalCostUSD         float64 `json:"total_cost_usd"`
	TotalGenerations     int     `json:"total_generations"`
	TotalTokensUsed      int     `json:"total_tokens_used"`
	AvgCostPerGeneration float64 `json:"avg_cost_per_generation"`
}

// JobEmbeddingCacheEntry is one content-addressed embedding vector.
type JobEmbeddingCacheEntry struct {
	ContentHash    string    `json:"content_hash"`
	RoleTitle      string    `json:"role_title"`
	CompanyName    string    `json:"company_name"`
	Embedding      []float64 `json:"embedding,omitempty"`
	AccessCount    int64     `json:"access_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// EmbeddingMetadata is the descriptive data stored next to a vector.
type EmbeddingMetadata struct {
	RoleTitle   string
	CompanyName string
}

// JobPosting is the embedding input for a job description.
type JobPosting struct {
	Description string `json:"description"`
	RoleTitle   string `json:"role_title"`
	CompanyName string `json:"company_name"`
}

// CacheStats summarizes the embedding cache.
type CacheStats struct {
	TotalEmbeddings  int                      `json:"total_embeddings"`
	UniqueCompanies  int                      `json:"unique_companies"`
	TotalAccessCount int64                    `json:"total_access_count"`
	Hits             int64                    `json:"hits"`
	Misses           int64                    `json:"misses"`
	HitRate          float64                  `json:"hit_rate"`
	MostAccessed     []JobEmbeddingCacheEntry `json:"most_accessed"`
	Recent           []JobEmbeddingCacheEntry `json:"recent"`
}

// ArtifactChunk is one embedded slice of an uploaded artifact.
type ArtifactChunk struct {
	ArtifactID        string    `json:"artifact_id"`
	ChunkIndex        int       `json:"chunk_index"`
	Content           string    `json:"content"`
	ContentHash       string    `json:"content_hash"`
	Embedding         []float64 `json:"embedding,omitempty"`
	ModelUsed         string    `json:"model_used"`
	TokensUsed        int       `json:"tokens_used"`
	ProcessingCostUSD float64   `json:"processing_cost_usd"`
	CreatedAt         time.Time `json:"created_at"`
}

// Page requests one window of a listing. Number is 1-based; Size <= 0 returns all rows.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Size <= 0 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Completion is the result of a text generation call.
type Completion struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns input plus output tokens.
func (c Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

// Embedding is the result of an embedding call.
type Embedding struct {
	Vector []float64 `json:"vector"`
	Tokens int       `json:"tokens"`
}

// CompletionParams carries generation knobs passed through to the provider.
type CompletionParams struct {
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}
