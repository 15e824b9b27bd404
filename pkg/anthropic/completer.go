package anthropic

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Completion is the free-form text of a response plus its token usage.
type Completion struct {
	Text  string
	Usage TokenUsage
}

// Completer turns a single prompt into a completion with fixed model
// settings. Every call is bounded by Timeout.
type Completer struct {
	Client      Client
	Model       string
	System      string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

// Complete sends prompt as one user message.
func (c *Completer) Complete(ctx context.Context, prompt string) (*Completion, error) {
	if c.Client == nil {
		return nil, eris.New("anthropic: completer has no client")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	temp := c.Temperature

	start := time.Now()
	resp, err := c.Client.CreateMessage(ctx, MessageRequest{
		Model:       c.Model,
		MaxTokens:   maxTokens,
		System:      c.System,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: complete")
	}

	zap.L().Debug("anthropic: completion",
		zap.String("model", c.Model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &Completion{Text: resp.Text(), Usage: resp.Usage}, nil
}
