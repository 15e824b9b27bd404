// Package extract turns raw listing items into scored product records using
// per-site CSS selectors first and an AI model as fallback.
package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	// PlaceholderName is used when the selector path finds no name.
	PlaceholderName = "Unknown Product"
	// FallbackName is used when AI extraction fails outright.
	FallbackName = "Product Name Unavailable"
	// DefaultCurrency is assumed for every listing.
	DefaultCurrency = "USD"
)

var (
	ratingRe = regexp.MustCompile(`\d+\.?\d*`)
	countRe  = regexp.MustCompile(`\d+`)
)

// ParsePrice keeps only digits and decimal points from raw and parses the
// result. An empty remainder is a price of 0.
func ParsePrice(raw string) (float64, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: parse price %q", raw)
	}
	return v, nil
}

// ParseRating returns the first numeral in raw, or nil when there is none.
func ParseRating(raw string) *float64 {
	m := ratingRe.FindString(raw)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

// StarRating is ParseRating limited to the 0-5 star scale. Review counts
// that land in a rating node yield nil.
func StarRating(raw string) *float64 {
	r := ParseRating(raw)
	if r == nil || *r < 0 || *r > 5 {
		return nil
	}
	return r
}

// ParseReviewCount strips thousands separators and returns the first
// integer in raw, or 0.
func ParseReviewCount(raw string) int {
	m := countRe.FindString(strings.ReplaceAll(raw, ",", ""))
	if m == "" {
		return 0
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return v
}

// NormalizeURL makes raw absolute by prefixing base when raw has no scheme.
func NormalizeURL(raw, base string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	if base == "" {
		return raw
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(raw, "/")
}
