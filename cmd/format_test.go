package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/pricewatch-cli/internal/model"
)

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "3"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "3")
	assert.Empty(t, renderTable(nil, nil, nil))
}

func TestFormatJobsList(t *testing.T) {
	start := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	jobs := []model.Job{
		{
			ID:              "abc12345-6789-0000-0000-000000000000",
			Status:          model.StatusCompleted,
			TargetSites:     []string{"amazon", "walmart"},
			ProductsScraped: 12,
			Progress:        1,
			CreatedAt:       start,
			StartedAt:       &start,
			CompletedAt:     &end,
			Errors:          []model.SiteError{{Site: "walmart", Message: "navigation failure"}},
		},
		{
			ID:          "def12345-6789-0000-0000-000000000000",
			Status:      model.StatusRunning,
			TargetSites: []string{"bestbuy"},
			Progress:    0.45,
			CreatedAt:   start,
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)
	out := buf.String()

	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "amazon,walmart")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "45%")
	assert.Contains(t, out, "2026-06-15 10:30")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "walmart: navigation failure")
}

func TestFormatSessions(t *testing.T) {
	var buf bytes.Buffer
	formatSessions(&buf, []model.Session{
		{Site: "amazon", Status: model.StatusCompleted, ProductsFound: 5, URL: "https://www.amazon.com/s?k=tv"},
		{Site: "bestbuy", Status: model.StatusFailed, Error: "navigation failure: status 403"},
	})
	out := buf.String()
	assert.Contains(t, out, "amazon")
	assert.Contains(t, out, "navigation failure: status 403")
}

func TestFormatProducts(t *testing.T) {
	var buf bytes.Buffer
	formatProducts(&buf, []model.Product{
		{Site: "amazon", Name: "Widget", Price: 1199.99, Rating: model.Float(4.5), Confidence: 0.9, Source: model.SourceAI},
		{Site: "walmart", Name: "Product Name Unavailable", Source: model.SourceFallback},
	})
	out := buf.String()
	assert.Contains(t, out, "$1199.99")
	assert.Contains(t, out, "4.5")
	assert.Contains(t, out, "0.90")
	assert.Contains(t, out, "fallback")
}

func TestFormatOutcome(t *testing.T) {
	var buf bytes.Buffer
	formatOutcome(&buf, &model.JobOutcome{
		JobID:         "job-1",
		Status:        model.StatusCompleted,
		ProductCount:  8,
		TokenUsage:    model.TokenUsage{InputTokens: 900, OutputTokens: 100},
		EstimatedCost: 0.0014,
		Errors:        []model.SiteError{{Site: "bestbuy", Message: "navigation failure"}},
	})
	out := buf.String()
	assert.Contains(t, out, "Job job-1 completed: 8 products, 1000 tokens (~$0.0014)")
	assert.Contains(t, out, "  bestbuy: navigation failure")
}

func TestFormatAnalysis(t *testing.T) {
	var buf bytes.Buffer
	formatAnalysis(&buf, &model.CompetitiveAnalysis{
		TotalProducts: 3,
		AveragePrice:  200,
		PriceRange:    model.PriceRange{Min: 100, Max: 300},
		PriceComparison: map[string]model.SiteStats{
			"amazon":  {AvgPrice: 200, Count: 2},
			"walmart": {AvgPrice: 200, Count: 1},
		},
		BestDeals:      []model.Product{{Name: "A", Site: "amazon", Price: 100, OriginalPrice: model.Float(150)}},
		MarketInsights: []string{"Amazon leads on price"},
	})
	out := buf.String()
	assert.Contains(t, out, "Products: 3  Average: $200.00  Range: $100.00 - $300.00")
	assert.Contains(t, out, "A (amazon) $100.00, save $50.00")
	assert.Contains(t, out, "  - Amazon leads on price")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
