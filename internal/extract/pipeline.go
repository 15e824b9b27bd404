package extract

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/pricewatch-cli/internal/browser"
	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/internal/site"
)

// Outcome is the record produced for one item plus the AI tokens spent on it.
type Outcome struct {
	Product model.Product
	Usage   model.TokenUsage
}

// Pipeline runs the selector tier and, when enabled or needed, the AI tier.
type Pipeline struct {
	Selector *SelectorExtractor
	// AI is nil when no model is configured; the selector tier then stands
	// alone.
	AI *AIExtractor
}

// Process extracts one item. With useAI set the AI tier runs for every
// item; otherwise it runs only when the selector tier misses a required
// field or fails.
func (p *Pipeline) Process(ctx context.Context, item browser.Item, cfg site.Config, useAI bool) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.Classify(model.ErrCancelled, err)
	}

	sel, selErr := p.Selector.Extract(item, cfg)

	needAI := useAI || selErr != nil || !sel.Complete()
	if !needAI || p.AI == nil {
		if selErr != nil {
			return nil, selErr
		}
		return &Outcome{Product: sel.Product}, nil
	}

	rec, usage, err := p.AI.Extract(ctx, item.Text(), cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.Classify(model.ErrCancelled, ctx.Err())
		}
		zap.L().Warn("extract: ai extraction failed, using fallback record",
			zap.String("site", cfg.Name),
			zap.Int("item", item.Index),
			zap.Error(err),
		)
	}
	if sel != nil {
		backfill(&rec, &sel.Product)
	}
	return &Outcome{Product: rec, Usage: usage}, nil
}

// backfill copies fields the AI record lacks from the selector record.
// Name, price and confidence stay as the AI tier produced them.
func backfill(dst, src *model.Product) {
	if dst.URL == "" {
		dst.URL = src.URL
	}
	if dst.Source == model.SourceFallback {
		return
	}
	if dst.ImageURL == "" {
		dst.ImageURL = src.ImageURL
	}
	if dst.OriginalPrice == nil {
		dst.OriginalPrice = src.OriginalPrice
	}
	if dst.Rating == nil {
		dst.Rating = src.Rating
	}
	if dst.ReviewCount == nil {
		dst.ReviewCount = src.ReviewCount
	}
	if dst.Availability == "" {
		dst.Availability = src.Availability
	}
}

// IsCancelled reports whether err came from a cancelled or expired context.
func IsCancelled(err error) bool {
	return errors.Is(err, model.ErrCancelled) || errors.Is(err, context.Canceled)
}
