// Package analysis builds cross-site price statistics and market insights
// from extracted products.
package analysis

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/pricewatch-cli/internal/extract"
	"github.com/sells-group/pricewatch-cli/internal/model"
)

const (
	// SystemPrompt frames the insights request.
	SystemPrompt = "You are a market intelligence expert. Provide actionable insights from product data."

	maxBestDeals = 5
	maxInsights  = 5
)

// Fixed insights used when the AI tier is unavailable or unusable.
var (
	CompletedInsights = []string{"Market analysis completed successfully"}
	GenericInsights   = []string{"Market analysis available", "Price comparison data ready"}
	EmptyInsights     = []string{"No products available for analysis"}
)

// Aggregator computes a CompetitiveAnalysis. Completer is optional; when
// nil the generic insights are used.
type Aggregator struct {
	Completer extract.Completer
	Now       func() time.Time
}

// Analyze summarizes records. It never fails: insight generation problems
// degrade to fixed insight strings.
func (a *Aggregator) Analyze(ctx context.Context, records []model.Product) *model.CompetitiveAnalysis {
	out := Stats(records)
	out.GeneratedAt = a.now()

	if len(records) == 0 {
		out.MarketInsights = append([]string(nil), EmptyInsights...)
		return out
	}
	out.MarketInsights = a.insights(ctx, out)
	return out
}

// Stats computes every numeric field of the analysis. Only priced records
// (price > 0) count toward averages and ranges.
func Stats(records []model.Product) *model.CompetitiveAnalysis {
	out := &model.CompetitiveAnalysis{
		TotalProducts:   len(records),
		BestDeals:       []model.Product{},
		PriceComparison: map[string]model.SiteStats{},
	}

	type acc struct {
		sum    float64
		priced int
		count  int
	}
	perSite := map[string]*acc{}

	var sum float64
	var priced int
	for _, p := range records {
		s := perSite[p.Site]
		if s == nil {
			s = &acc{}
			perSite[p.Site] = s
		}
		s.count++
		if p.Price <= 0 {
			continue
		}
		s.sum += p.Price
		s.priced++
		sum += p.Price
		if priced == 0 || p.Price < out.PriceRange.Min {
			out.PriceRange.Min = p.Price
		}
		if p.Price > out.PriceRange.Max {
			out.PriceRange.Max = p.Price
		}
		priced++
	}
	if priced > 0 {
		out.AveragePrice = sum / float64(priced)
	}
	for name, s := range perSite {
		st := model.SiteStats{Count: s.count}
		if s.priced > 0 {
			st.AvgPrice = s.sum / float64(s.priced)
		}
		out.PriceComparison[name] = st
	}

	out.BestDeals = BestDeals(records, maxBestDeals)
	return out
}

// BestDeals returns up to n priced records with the largest discount,
// ties going to the lower price.
func BestDeals(records []model.Product, n int) []model.Product {
	deals := make([]model.Product, 0, len(records))
	for _, p := range records {
		if p.Price > 0 && p.Discount() > 0 {
			deals = append(deals, p)
		}
	}
	sort.SliceStable(deals, func(i, j int) bool {
		di, dj := deals[i].Discount(), deals[j].Discount()
		if di != dj {
			return di > dj
		}
		return deals[i].Price < deals[j].Price
	})
	if len(deals) > n {
		deals = deals[:n]
	}
	return deals
}

// Summary renders the condensed statistics sent to the insights prompt.
func Summary(a *model.CompetitiveAnalysis) string {
	p := message.NewPrinter(language.English)
	title := cases.Title(language.English)

	var b strings.Builder
	p.Fprintf(&b, "Total products: %d\n", a.TotalProducts)
	if a.PriceRange.Max > 0 {
		p.Fprintf(&b, "Average price: $%.2f\n", a.AveragePrice)
		p.Fprintf(&b, "Price range: $%.2f - $%.2f\n", a.PriceRange.Min, a.PriceRange.Max)
	}

	sites := make([]string, 0, len(a.PriceComparison))
	for name := range a.PriceComparison {
		sites = append(sites, name)
	}
	sort.Strings(sites)

	b.WriteString("Products by competitor:\n")
	for _, name := range sites {
		st := a.PriceComparison[name]
		label := name
		if label == "" {
			label = "unknown"
		}
		p.Fprintf(&b, "- %s: %d products, average $%.2f\n", title.String(label), st.Count, st.AvgPrice)
	}
	return b.String()
}

// BuildPrompt wraps the summary in the insights instruction.
func BuildPrompt(summary string) string {
	return "Analyze this product data and provide 3-5 key market insights:\n\n" +
		summary +
		"\nFocus on:\n" +
		"- Price trends and competitiveness\n" +
		"- Market positioning\n" +
		"- Customer preferences\n" +
		"- Business opportunities\n\n" +
		"Return insights as a JSON array of strings."
}

func (a *Aggregator) insights(ctx context.Context, stats *model.CompetitiveAnalysis) []string {
	if a.Completer == nil {
		return append([]string(nil), GenericInsights...)
	}

	comp, err := a.Completer.Complete(ctx, BuildPrompt(Summary(stats)))
	if err != nil {
		zap.L().Warn("analysis: insights generation failed", zap.Error(err))
		return append([]string(nil), GenericInsights...)
	}

	items, isList, _ := extract.ParseList(comp.Text)
	if !isList || len(items) == 0 {
		return append([]string(nil), CompletedInsights...)
	}
	if len(items) > maxInsights {
		items = items[:maxInsights]
	}
	return items
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}
