package model

import "time"

// Product is a normalized record extracted from one listing item.
type Product struct {
	ID        int64  `json:"id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// Position is the item's index within its session's listing.
	Position      int       `json:"position"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	OriginalPrice *float64  `json:"original_price,omitempty"`
	Currency      string    `json:"currency"`
	Rating        *float64  `json:"rating,omitempty"`
	ReviewCount   *int      `json:"review_count,omitempty"`
	Availability  string    `json:"availability,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	URL           string    `json:"url"`
	Site          string    `json:"site"`
	Confidence    float64   `json:"confidence_score"`
	Source        Source    `json:"source"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// Source identifies which extraction tier produced a product.
type Source string

const (
	SourceSelector Source = "selector"
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Discount returns original price minus price, or 0 when no original
// price is known.
func (p *Product) Discount() float64 {
	if p.OriginalPrice == nil || *p.OriginalPrice <= p.Price {
		return 0
	}
	return *p.OriginalPrice - p.Price
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
