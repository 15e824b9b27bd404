package extract

import "math"

const (
	aiBaseConfidence = 0.8
	tokenBonusWeight = 0.2
	tokenBonusScale  = 1000.0
)

// Completeness is the fraction of the required fields (name, price) that
// are present.
func Completeness(name string, price float64) float64 {
	n := 0
	if name != "" {
		n++
	}
	if price > 0 {
		n++
	}
	return float64(n) / 2
}

// AIConfidence scores an AI-path record: 0.8 * completeness plus a bonus of
// up to 0.2 for token usage, capped at 1.
func AIConfidence(completeness float64, totalTokens int) float64 {
	bonus := math.Min(float64(max(totalTokens, 0))/tokenBonusScale, 1.0) * tokenBonusWeight
	return clamp(aiBaseConfidence*completeness + bonus)
}

// SelectorConfidence scores a selector-path record by completeness alone.
func SelectorConfidence(completeness float64) float64 {
	return clamp(completeness)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
