package domain

import (
	"fmt"
	"sort"
)

// Strategy is the scoring policy used to rank candidate models.
type Strategy string

const (
	StrategyCostOptimized    Strategy = "cost_optimized"
	StrategyPerformanceFirst Strategy = "performance_first"
	StrategyBalanced         Strategy = "balanced"
)

// Balanced weights. Harder tasks tolerate less quality loss.
const (
	balancedCostWeight          = 0.5
	balancedQualityWeight       = 0.5
	highComplexityCostWeight    = 0.3
	highComplexityQualityWeight = 0.7
)

// Strategies lists every strategy.
func Strategies() []Strategy {
	return []Strategy{StrategyCostOptimized, StrategyPerformanceFirst, StrategyBalanced}
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	_, err := s.ranker()
	return err == nil
}

// ParseStrategy converts a string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(s)
	if !strategy.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
	return strategy, nil
}

// CandidateScore is one ranked model with the factors that ranked it.
type CandidateScore struct {
	ModelID          string  `json:"model_id"`
	Provider         string  `json:"provider"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Quality          float64 `json:"quality"`
	SuccessRate      float64 `json:"success_rate"`
	Samples          int     `json:"samples"`
	Score            float64 `json:"score"`
}

// performance combines expected output quality with the chance the call succeeds at all.
func (c CandidateScore) performance() float64 {
	return c.Quality * c.SuccessRate
}

// ranker orders candidates best first and fills in Score.
type ranker func(candidates []CandidateScore, weights balancedWeights)

type balancedWeights struct {
	cost    float64
	quality float64
}

func weightsFor(complexity, highComplexity float64) balancedWeights {
	if complexity > highComplexity {
		return balancedWeights{cost: highComplexityCostWeight, quality: highComplexityQualityWeight}
	}
	return balancedWeights{cost: balancedCostWeight, quality: balancedQualityWeight}
}

// ranker is the exhaustive mapping from strategy to its scoring function.
func (s Strategy) ranker() (ranker, error) {
	switch s {
	case StrategyCostOptimized:
		return rankCostOptimized, nil
	case StrategyPerformanceFirst:
		return rankPerformanceFirst, nil
	case StrategyBalanced:
		return rankBalanced, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, string(s))
}

func rankCostOptimized(candidates []CandidateScore, _ balancedWeights) {
	normalized := normalizedCosts(candidates)
	for i := range candidates {
		candidates[i].Score = 1 - normalized[i]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.EstimatedCostUSD != b.EstimatedCostUSD {
			return a.EstimatedCostUSD < b.EstimatedCostUSD
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.ModelID < b.ModelID
	})
}

func rankPerformanceFirst(candidates []CandidateScore, _ balancedWeights) {
	for i := range candidates {
		candidates[i].Score = candidates[i].performance()
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.EstimatedCostUSD != b.EstimatedCostUSD {
			return a.EstimatedCostUSD < b.EstimatedCostUSD
		}
		return a.ModelID < b.ModelID
	})
}

func rankBalanced(candidates []CandidateScore, w balancedWeights) {
	costs := normalizedCosts(candidates)
	quality := normalizedPerformance(candidates)
	for i := range candidates {
		candidates[i].Score = w.cost*(1-costs[i]) + w.quality*quality[i]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.EstimatedCostUSD != b.EstimatedCostUSD {
			return a.EstimatedCostUSD < b.EstimatedCostUSD
		}
		return a.ModelID < b.ModelID
	})
}

// normalizedCosts min-max scales estimated costs into [0,1]; equal costs all map to 0.
func normalizedCosts(candidates []CandidateScore) []float64 {
	return minMax(candidates, func(c CandidateScore) float64 { return c.EstimatedCostUSD }, 0)
}

// normalizedPerformance min-max scales performance into [0,1]; equal values all map to 1.
func normalizedPerformance(candidates []CandidateScore) []float64 {
	return minMax(candidates, CandidateScore.performance, 1)
}

func minMax(candidates []CandidateScore, value func(CandidateScore) float64, flat float64) []float64 {
	out := make([]float64, len(candidates))
	if len(candidates) == 0 {
		return out
	}

	lo, hi := value(candidates[0]), value(candidates[0])
	for _, c := range candidates[1:] {
		lo = min(lo, value(c))
		hi = max(hi, value(c))
	}
	for i, c := range candidates {
		if hi == lo {
			out[i] = flat
			continue
		}
		out[i] = (value(c) - lo) / (hi - lo)
	}
	return out
}
