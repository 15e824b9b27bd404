package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/pricewatch-cli/internal/model"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku":  {Input: 1.00, Output: 5.00},
			"sonnet": {Input: 3.00, Output: 15.00},
		},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{name: "haiku", model: "haiku", input: 1000000, output: 100000, want: 1.00 + 0.50},
		{name: "sonnet", model: "sonnet", input: 200000, output: 20000, want: 0.60 + 0.30},
		{name: "zero tokens", model: "sonnet", want: 0},
		{name: "unknown model", model: "gpt-4", input: 1000000, output: 1000000, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestUsage(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	got := calc.Usage("haiku", model.TokenUsage{InputTokens: 500000, OutputTokens: 100000})
	assert.InDelta(t, 0.50+0.50, got, 1e-9)
}

func TestMerge(t *testing.T) {
	t.Parallel()
	merged := DefaultRates().Merge(Rates{Anthropic: map[string]ModelRate{
		"claude-haiku-4-5-20251001": {Input: 2, Output: 2},
		"custom":                    {Input: 1, Output: 1},
	}})
	assert.Equal(t, 2.0, merged.Anthropic["claude-haiku-4-5-20251001"].Input)
	assert.Contains(t, merged.Anthropic, "custom")
	assert.Contains(t, merged.Anthropic, "claude-opus-4-6")

	// Receiver is unchanged.
	assert.Equal(t, 1.0, DefaultRates().Anthropic["claude-haiku-4-5-20251001"].Input)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	for name, rate := range r.Anthropic {
		assert.Greater(t, rate.Input, 0.0, name)
		assert.Greater(t, rate.Output, rate.Input, name)
	}
}
