package echo

import "github.com/davidbz/conductor/internal/domain"

// Models returns the echo catalog entries. Echo models are free, so they win every
// cost comparison; callers disable them once a real provider is configured.
func Models() []domain.ModelConfig {
	return []domain.ModelConfig{
		{
			ID:              modelName,
			Provider:        providerName,
			ContextWindow:   8192,
			MaxOutputTokens: 2048,
			Capabilities: []string{
				string(domain.TaskJobParsing),
				string(domain.TaskCVGeneration),
				string(domain.TaskSimilaritySearch),
			},
			Enabled:      true,
			QualityPrior: 0.3,
		},
		{
			ID:            embedModelName,
			Provider:      providerName,
			ContextWindow: 8192,
			Capabilities:  []string{string(domain.TaskEmbedding)},
			Enabled:       true,
			QualityPrior:  0.3,
		},
	}
}
