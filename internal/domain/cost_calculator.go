package domain

import "math"

// complexityTokenScale multiplies the base token estimate at complexity 1.
const complexityTokenScale = 3.0

// TokenEstimate is the expected token usage of one call.
type TokenEstimate struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// baseTokens is the expected usage of a task at complexity 0.
//
//nolint:gochecknoglobals // Read-only lookup table
var baseTokens = map[TaskType]TokenEstimate{
	TaskJobParsing:       {InputTokens: 800, OutputTokens: 300},
	TaskCVGeneration:     {InputTokens: 1200, OutputTokens: 800},
	TaskEmbedding:        {InputTokens: 500, OutputTokens: 0},
	TaskSimilaritySearch: {InputTokens: 300, OutputTokens: 50},
}

// EstimateTokens scales the task's base usage by complexity (clamped to [0,1]) and caps
// output at the model's max output tokens.
func EstimateTokens(taskType TaskType, complexity float64, model ModelConfig) TokenEstimate {
	base, ok := baseTokens[taskType]
	if !ok {
		base = baseTokens[TaskJobParsing]
	}

	factor := 1 + complexityTokenScale*clamp01(complexity)
	estimate := TokenEstimate{
		InputTokens:  int(math.Round(float64(base.InputTokens) * factor)),
		OutputTokens: int(math.Round(float64(base.OutputTokens) * factor)),
	}

	if model.MaxOutputTokens > 0 && estimate.OutputTokens > model.MaxOutputTokens {
		estimate.OutputTokens = model.MaxOutputTokens
	}
	if model.ContextWindow > 0 && estimate.InputTokens+estimate.OutputTokens > model.ContextWindow {
		estimate.InputTokens = max(model.ContextWindow-estimate.OutputTokens, 0)
	}

	return estimate
}

// CallCost computes the USD cost of a call from its token usage.
func CallCost(model ModelConfig, inputTokens, outputTokens int) float64 {
	inputCost := float64(inputTokens) * model.InputCostPerToken
	outputCost := float64(outputTokens) * model.OutputCostPerToken
	return inputCost + outputCost
}

// EstimateCost is the expected USD cost of running taskType at complexity on model.
func EstimateCost(model ModelConfig, taskType TaskType, complexity float64) float64 {
	estimate := EstimateTokens(taskType, complexity, model)
	return CallCost(model, estimate.InputTokens, estimate.OutputTokens)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
