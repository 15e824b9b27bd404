package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/pkg/anthropic"
)

type fakeCompleter struct {
	text   string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (*anthropic.Completion, error) {
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Completion{Text: f.text}, nil
}

func records() []model.Product {
	return []model.Product{
		{Name: "A", Site: "amazon", Price: 1199.99, OriginalPrice: model.Float(1399.99)},
		{Name: "B", Site: "amazon", Price: 800},
		{Name: "C", Site: "bestbuy", Price: 900, OriginalPrice: model.Float(1100)},
		{Name: "D", Site: "bestbuy", Price: 0},
		{Name: "E", Site: "walmart", Price: 700, OriginalPrice: model.Float(750)},
	}
}

func TestStats(t *testing.T) {
	a := Stats(records())

	assert.Equal(t, 5, a.TotalProducts)
	assert.InDelta(t, (1199.99+800+900+700)/4, a.AveragePrice, 1e-9)
	assert.Equal(t, 700.0, a.PriceRange.Min)
	assert.Equal(t, 1199.99, a.PriceRange.Max)

	require.Len(t, a.PriceComparison, 3)
	assert.Equal(t, 2, a.PriceComparison["amazon"].Count)
	assert.InDelta(t, 999.995, a.PriceComparison["amazon"].AvgPrice, 1e-9)
	assert.Equal(t, 2, a.PriceComparison["bestbuy"].Count)
	assert.Equal(t, 900.0, a.PriceComparison["bestbuy"].AvgPrice)
}

func TestStats_Empty(t *testing.T) {
	a := Stats(nil)
	assert.Equal(t, 0, a.TotalProducts)
	assert.Equal(t, 0.0, a.AveragePrice)
	assert.Equal(t, model.PriceRange{}, a.PriceRange)
	assert.NotNil(t, a.BestDeals)
	assert.NotNil(t, a.PriceComparison)
}

func TestStats_AllUnpriced(t *testing.T) {
	a := Stats([]model.Product{{Site: "amazon"}, {Site: "amazon"}})
	assert.Equal(t, 2, a.TotalProducts)
	assert.Equal(t, 0.0, a.AveragePrice)
	assert.Equal(t, 0.0, a.PriceComparison["amazon"].AvgPrice)
	assert.Equal(t, 2, a.PriceComparison["amazon"].Count)
}

func TestBestDeals(t *testing.T) {
	recs := append(records(),
		model.Product{Name: "F", Site: "walmart", Price: 100, OriginalPrice: model.Float(300)},
		model.Product{Name: "G", Site: "walmart", Price: 50, OriginalPrice: model.Float(250)},
		model.Product{Name: "H", Site: "walmart", Price: 0, OriginalPrice: model.Float(999)},
	)

	deals := BestDeals(recs, 3)
	require.Len(t, deals, 3)
	// A, C, F and G all save 200; the lowest price wins.
	assert.Equal(t, "G", deals[0].Name)
	assert.Equal(t, "F", deals[1].Name)
	assert.Equal(t, "C", deals[2].Name)

	assert.Len(t, BestDeals(recs, 10), 5)
}

func TestSummary(t *testing.T) {
	s := Summary(Stats(records()))
	assert.Contains(t, s, "Total products: 5")
	assert.Contains(t, s, "Price range: $700.00 - $1,199.99")
	assert.Contains(t, s, "- Amazon: 2 products, average $")
	assert.Contains(t, s, "- Walmart: 1 products")
}

func TestAnalyze_AIInsights(t *testing.T) {
	fc := &fakeCompleter{text: `Here you go: ["Amazon leads on price", "Best Buy discounts deepest", "Walmart is cheapest"]`}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	agg := &Aggregator{Completer: fc, Now: func() time.Time { return now }}

	a := agg.Analyze(context.Background(), records())
	assert.Equal(t, []string{"Amazon leads on price", "Best Buy discounts deepest", "Walmart is cheapest"}, a.MarketInsights)
	assert.Equal(t, now, a.GeneratedAt)
	assert.Contains(t, fc.prompt, "Total products: 5")
	assert.Contains(t, fc.prompt, "JSON array of strings")
}

func TestAnalyze_InsightsCapped(t *testing.T) {
	fc := &fakeCompleter{text: `["1","2","3","4","5","6","7"]`}
	a := (&Aggregator{Completer: fc}).Analyze(context.Background(), records())
	assert.Len(t, a.MarketInsights, 5)
}

func TestAnalyze_InsightFallbacks(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeCompleter
		want []string
	}{
		{"provider error", &fakeCompleter{err: errors.New("529 overloaded")}, GenericInsights},
		{"timeout", &fakeCompleter{err: context.DeadlineExceeded}, GenericInsights},
		{"object not list", &fakeCompleter{text: `{"insight":"x"}`}, CompletedInsights},
		{"prose only", &fakeCompleter{text: "Prices look competitive."}, CompletedInsights},
		{"empty list", &fakeCompleter{text: "[]"}, CompletedInsights},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := (&Aggregator{Completer: tt.fc}).Analyze(context.Background(), records())
			assert.Equal(t, tt.want, a.MarketInsights)
			assert.Equal(t, 5, a.TotalProducts)
		})
	}
}

func TestAnalyze_NoCompleter(t *testing.T) {
	a := (&Aggregator{}).Analyze(context.Background(), records())
	assert.Equal(t, GenericInsights, a.MarketInsights)
}

func TestAnalyze_EmptySkipsAI(t *testing.T) {
	fc := &fakeCompleter{text: `["x"]`}
	a := (&Aggregator{Completer: fc}).Analyze(context.Background(), nil)
	assert.Equal(t, EmptyInsights, a.MarketInsights)
	assert.Empty(t, fc.prompt)
	assert.Equal(t, 0.0, a.AveragePrice)
}
