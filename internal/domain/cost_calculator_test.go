package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conductor/internal/domain"
)

func TestEstimateTokens(t *testing.T) {
	unbounded := domain.ModelConfig{}

	tests := []struct {
		name       string
		task       domain.TaskType
		complexity float64
		model      domain.ModelConfig
		want       domain.TokenEstimate
	}{
		{
			name: "job parsing at zero complexity",
			task: domain.TaskJobParsing, model: unbounded,
			want: domain.TokenEstimate{InputTokens: 800, OutputTokens: 300},
		},
		{
			name: "full complexity quadruples usage",
			task: domain.TaskCVGeneration, complexity: 1, model: unbounded,
			want: domain.TokenEstimate{InputTokens: 4800, OutputTokens: 3200},
		},
		{
			name: "embedding has no output",
			task: domain.TaskEmbedding, complexity: 0.5, model: unbounded,
			want: domain.TokenEstimate{InputTokens: 1250, OutputTokens: 0},
		},
		{
			name: "output capped by model",
			task: domain.TaskCVGeneration, complexity: 1, model: domain.ModelConfig{MaxOutputTokens: 1000},
			want: domain.TokenEstimate{InputTokens: 4800, OutputTokens: 1000},
		},
		{
			name: "input fits the context window",
			task: domain.TaskCVGeneration, complexity: 1,
			model: domain.ModelConfig{ContextWindow: 4000, MaxOutputTokens: 1000},
			want:  domain.TokenEstimate{InputTokens: 3000, OutputTokens: 1000},
		},
		{
			name: "complexity is clamped",
			task: domain.TaskSimilaritySearch, complexity: 7, model: unbounded,
			want: domain.TokenEstimate{InputTokens: 1200, OutputTokens: 200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, domain.EstimateTokens(tt.task, tt.complexity, tt.model))
		})
	}
}

func TestCallCost(t *testing.T) {
	model := domain.ModelConfig{InputCostPerToken: 0.000002, OutputCostPerToken: 0.00001}

	require.InDelta(t, 0.002+0.005, domain.CallCost(model, 1000, 500), 1e-12)
	require.Zero(t, domain.CallCost(model, 0, 0))

	// 800 input and 300 output tokens for job parsing at complexity 0.
	require.InDelta(t, 0.0016+0.003, domain.EstimateCost(model, domain.TaskJobParsing, 0), 1e-12)
}
