package openai

import "github.com/davidbz/conductor/internal/domain"

// Per-token list prices in USD.
const (
	gpt4oInputCost      = 0.0000025
	gpt4oOutputCost     = 0.00001
	gpt4oMiniInputCost  = 0.00000015
	gpt4oMiniOutputCost = 0.0000006
	gpt4TurboInputCost  = 0.00001
	gpt4TurboOutputCost = 0.00003
	gpt35InputCost      = 0.0000005
	gpt35OutputCost     = 0.0000015
	embedSmallCost      = 0.00000002
	embedLargeCost      = 0.00000013
)

const (
	chatContextWindow  = 128000
	embedContextWindow = 8191
)

// Models returns the built-in OpenAI catalog entries.
func Models() []domain.ModelConfig {
	generation := []string{
		string(domain.TaskJobParsing),
		string(domain.TaskCVGeneration),
		string(domain.TaskSimilaritySearch),
	}

	return []domain.ModelConfig{
		{
			ID:                 "gpt-4o",
			Provider:           providerName,
			ContextWindow:      chatContextWindow,
			MaxOutputTokens:    16384,
			InputCostPerToken:  gpt4oInputCost,
			OutputCostPerToken: gpt4oOutputCost,
			Capabilities:       generation,
			Enabled:            true,
			QualityPrior:       0.9,
		},
		{
			ID:                 "gpt-4o-mini",
			Provider:           providerName,
			ContextWindow:      chatContextWindow,
			MaxOutputTokens:    16384,
			InputCostPerToken:  gpt4oMiniInputCost,
			OutputCostPerToken: gpt4oMiniOutputCost,
			Capabilities:       generation,
			Enabled:            true,
			QualityPrior:       0.8,
		},
		{
			ID:                 "gpt-4-turbo",
			Provider:           providerName,
			ContextWindow:      chatContextWindow,
			MaxOutputTokens:    4096,
			InputCostPerToken:  gpt4TurboInputCost,
			OutputCostPerToken: gpt4TurboOutputCost,
			Capabilities:       []string{string(domain.TaskJobParsing), string(domain.TaskCVGeneration)},
			Enabled:            true,
			QualityPrior:       0.85,
		},
		{
			ID:                 "gpt-3.5-turbo",
			Provider:           providerName,
			ContextWindow:      16385,
			MaxOutputTokens:    4096,
			InputCostPerToken:  gpt35InputCost,
			OutputCostPerToken: gpt35OutputCost,
			Capabilities:       []string{string(domain.TaskJobParsing), string(domain.TaskSimilaritySearch)},
			Enabled:            true,
			QualityPrior:       0.65,
		},
		{
			ID:                "text-embedding-3-small",
			Provider:          providerName,
			ContextWindow:     embedContextWindow,
			InputCostPerToken: embedSmallCost,
			Capabilities:      []string{string(domain.TaskEmbedding)},
			Enabled:           true,
			QualityPrior:      0.8,
		},
		{
			ID:                "text-embedding-3-large",
			Provider:          providerName,
			ContextWindow:     embedContextWindow,
			InputCostPerToken: embedLargeCost,
			Capabilities:      []string{string(domain.TaskEmbedding)},
			Enabled:           true,
			QualityPrior:      0.9,
		},
	}
}
