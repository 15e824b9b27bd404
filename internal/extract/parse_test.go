package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"$1,199.99", 1199.99},
		{"", 0},
		{"$0", 0},
		{"1,199.", 1199},
		{"Now $24.50 each", 24.50},
		{"Free", 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePrice(tt.raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParsePrice_Malformed(t *testing.T) {
	_, err := ParsePrice("$1.299.99")
	assert.Error(t, err)
}

func TestParseRating(t *testing.T) {
	r := ParseRating("4.5 out of 5 stars")
	require.NotNil(t, r)
	assert.Equal(t, 4.5, *r)

	r = ParseRating("Rated 4 stars")
	require.NotNil(t, r)
	assert.Equal(t, 4.0, *r)

	assert.Nil(t, ParseRating("no rating yet"))
	assert.Nil(t, ParseRating(""))
}

func TestStarRating(t *testing.T) {
	r := StarRating("4.5 out of 5 stars")
	require.NotNil(t, r)
	assert.Equal(t, 4.5, *r)

	assert.Nil(t, StarRating("(1234 Reviews)"))
	assert.Nil(t, StarRating("no rating yet"))
}

func TestParseReviewCount(t *testing.T) {
	assert.Equal(t, 12345, ParseReviewCount("12,345 ratings"))
	assert.Equal(t, 87, ParseReviewCount("(87)"))
	assert.Equal(t, 0, ParseReviewCount("no reviews"))
}

func TestNormalizeURL(t *testing.T) {
	base := "https://www.amazon.com"
	assert.Equal(t, "https://www.amazon.com/dp/XYZ", NormalizeURL("/dp/XYZ", base))
	assert.Equal(t, "https://www.amazon.com/dp/XYZ", NormalizeURL("dp/XYZ", base+"/"))
	assert.Equal(t, "https://cdn.example.com/a.jpg", NormalizeURL("https://cdn.example.com/a.jpg", base))
	assert.Equal(t, "https://cdn.example.com/a.jpg", NormalizeURL("//cdn.example.com/a.jpg", base))
	assert.Equal(t, "", NormalizeURL("  ", base))
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.9, AIConfidence(Completeness("Widget", 10), 500), 1e-9)
	assert.InDelta(t, 0.8*0.5+0.1, AIConfidence(Completeness("Widget", 0), 500), 1e-9)
	assert.InDelta(t, 1.0, AIConfidence(1, 5000), 1e-9)
	assert.InDelta(t, 0.0, AIConfidence(0, 0), 1e-9)
	assert.InDelta(t, 0.0, AIConfidence(0, -10), 1e-9)

	assert.Equal(t, 1.0, SelectorConfidence(Completeness("Widget", 10)))
	assert.Equal(t, 0.5, SelectorConfidence(Completeness("", 10)))
	assert.Equal(t, 0.0, SelectorConfidence(Completeness("", 0)))
}

func TestParseEnvelope(t *testing.T) {
	m, ok := ParseEnvelope("Here you go:\n```json\n{\"name\": \"Widget\", \"price\": 9.99}\n```")
	require.True(t, ok)
	assert.Equal(t, "Widget", m["name"])

	_, ok = ParseEnvelope("no json here")
	assert.False(t, ok)

	_, ok = ParseEnvelope("{not json}")
	assert.False(t, ok)

	_, ok = ParseEnvelope("} backwards {")
	assert.False(t, ok)
}

func TestParseList(t *testing.T) {
	items, isList, ok := ParseList(`Insights: ["Prices are flat", "", "Amazon leads"]`)
	require.True(t, ok)
	assert.True(t, isList)
	assert.Equal(t, []string{"Prices are flat", "Amazon leads"}, items)

	_, isList, ok = ParseList(`{"insight": "one"}`)
	assert.True(t, ok)
	assert.False(t, isList)

	_, _, ok = ParseList("nothing useful")
	assert.False(t, ok)
}
