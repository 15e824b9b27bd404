package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/internal/site"
	"github.com/sells-group/pricewatch-cli/pkg/anthropic"
)

// SystemPrompt is the instruction sent with every extraction request.
const SystemPrompt = "You are an expert web scraping assistant. Extract product information from HTML content and return it as JSON."

// MaxPromptChars bounds the item text embedded in a prompt.
const MaxPromptChars = 2000

const extractionTemplate = `Extract product information from this %s page HTML:
- Product name
- Current price
- Original price (if on sale)
- Rating (out of 5)
- Number of reviews
- Availability status
- Product image URL

HTML Content:
%s

Return as JSON with these exact field names: name, price, original_price, rating, review_count, availability, image_url`

// Completer is the AI text-completion dependency.
type Completer interface {
	Complete(ctx context.Context, prompt string) (*anthropic.Completion, error)
}

// AIExtractor extracts a record from an item's raw text with an AI model.
type AIExtractor struct {
	Completer Completer
	Now       func() time.Time
}

// BuildPrompt renders the site-specific extraction prompt. Text beyond
// MaxPromptChars is dropped.
func BuildPrompt(cfg site.Config, text string) string {
	label := cfg.PromptLabel
	if label == "" {
		label = cfg.Name
	}
	r := []rune(text)
	if len(r) > MaxPromptChars {
		text = string(r[:MaxPromptChars])
	}
	return fmt.Sprintf(extractionTemplate, label, text)
}

// Extract calls the model and scores the parsed record. On any failure it
// returns the fallback record together with an ErrAIService error, along
// with whatever token usage was consumed.
func (e *AIExtractor) Extract(ctx context.Context, text string, cfg site.Config) (model.Product, model.TokenUsage, error) {
	var usage model.TokenUsage

	comp, err := e.Completer.Complete(ctx, BuildPrompt(cfg, text))
	if err != nil {
		return e.Fallback(cfg), usage, model.Classify(model.ErrAIService, err)
	}
	usage = model.TokenUsage{
		InputTokens:  int(comp.Usage.InputTokens),
		OutputTokens: int(comp.Usage.OutputTokens),
	}

	data, ok := ParseEnvelope(comp.Text)
	if !ok {
		return e.Fallback(cfg), usage, model.Classify(model.ErrAIService, eris.New("extract: no JSON object in model response"))
	}

	p := model.Product{
		Site:      cfg.Name,
		Currency:  DefaultCurrency,
		Source:    model.SourceAI,
		ScrapedAt: e.now(),
	}
	name := stringField(data, "name")
	price, _ := numberField(data, "price")
	if price < 0 {
		price = 0
	}
	p.Name = name
	if p.Name == "" {
		p.Name = FallbackName
	}
	p.Price = price
	if v, ok := numberField(data, "original_price"); ok && v > 0 {
		p.OriginalPrice = model.Float(v)
	}
	if v, ok := data["rating"]; ok {
		p.Rating = StarRating(fmt.Sprint(v))
	}
	if v, ok := data["review_count"]; ok && v != nil {
		p.ReviewCount = model.Int(ParseReviewCount(fmt.Sprint(v)))
	}
	p.Availability = stringField(data, "availability")
	p.ImageURL = NormalizeURL(stringField(data, "image_url"), cfg.BaseURL)

	p.Confidence = AIConfidence(Completeness(name, price), usage.Total())
	return p, usage, nil
}

// Fallback is the zero-confidence placeholder record for a failed call.
func (e *AIExtractor) Fallback(cfg site.Config) model.Product {
	return model.Product{
		Name:      FallbackName,
		Site:      cfg.Name,
		Currency:  DefaultCurrency,
		Source:    model.SourceFallback,
		ScrapedAt: e.now(),
	}
}

func (e *AIExtractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}
