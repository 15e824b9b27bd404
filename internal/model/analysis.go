package model

import "time"

// PriceRange is the min/max price across a record set.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// SiteStats summarizes one site's records.
type SiteStats struct {
	AvgPrice float64 `json:"avg_price"`
	Count    int     `json:"count"`
}

// CompetitiveAnalysis is the cross-site summary of extracted products.
type CompetitiveAnalysis struct {
	TotalProducts   int                  `json:"total_products"`
	AveragePrice    float64              `json:"average_price"`
	PriceRange      PriceRange           `json:"price_range"`
	BestDeals       []Product            `json:"best_deals"`
	PriceComparison map[string]SiteStats `json:"price_comparison"`
	MarketInsights  []string             `json:"market_insights"`
	GeneratedAt     time.Time            `json:"generated_at"`
}
