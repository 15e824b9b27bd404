// Package cost estimates the USD cost of AI token usage.
package cost

import "github.com/sells-group/pricewatch-cli/internal/model"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost of input and output tokens for a Claude model.
// Unknown models cost 0.
func (c *Calculator) Claude(modelName string, input, output int) float64 {
	rate, ok := c.rates.Anthropic[modelName]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Usage computes the cost of an accumulated TokenUsage.
func (c *Calculator) Usage(modelName string, u model.TokenUsage) float64 {
	return c.Claude(modelName, u.InputTokens, u.OutputTokens)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
	}
}

// Merge returns r with every model in override added or replaced.
func (r Rates) Merge(override Rates) Rates {
	out := Rates{Anthropic: make(map[string]ModelRate, len(r.Anthropic)+len(override.Anthropic))}
	for k, v := range r.Anthropic {
		out.Anthropic[k] = v
	}
	for k, v := range override.Anthropic {
		out.Anthropic[k] = v
	}
	return out
}
