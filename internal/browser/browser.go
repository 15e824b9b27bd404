// Package browser fetches listing pages and exposes their product items as
// queryable handles.
package browser

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Browser is the page-automation surface the session runner depends on.
type Browser interface {
	// FetchItems loads pageURL and returns at most limit item handles
	// matching itemSelector, in document order.
	FetchItems(ctx context.Context, pageURL, itemSelector string, limit int) ([]Item, error)
	// QueryField returns the trimmed text of the first element matching
	// selector inside item.
	QueryField(item Item, selector string) (string, bool)
	// QueryAttribute returns attr of the first element matching selector
	// inside item.
	QueryAttribute(item Item, selector, attr string) (string, bool)
}

// Item is an opaque handle to one product element on a listing page.
type Item struct {
	sel   *goquery.Selection
	Index int
}

// NewItem wraps a goquery selection.
func NewItem(sel *goquery.Selection, index int) Item {
	return Item{sel: sel, Index: index}
}

// Text returns the item's visible text with whitespace collapsed.
func (it Item) Text() string {
	if it.sel == nil {
		return ""
	}
	c := it.sel.Clone()
	c.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(c.Text()), " ")
}

// HTML returns the item's outer HTML.
func (it Item) HTML() string {
	if it.sel == nil {
		return ""
	}
	h, err := goquery.OuterHtml(it.sel)
	if err != nil {
		return ""
	}
	return h
}

// ParseItems parses an HTML document and returns the first limit elements
// matching itemSelector. A non-positive limit returns every match.
func ParseItems(html, itemSelector string, limit int) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var items []Item
	doc.Find(itemSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if limit > 0 && len(items) >= limit {
			return false
		}
		items = append(items, NewItem(s, i))
		return true
	})
	return items, nil
}

// Query implements the field/attribute lookups shared by every Browser.
type Query struct{}

// QueryField returns the trimmed text of the first match.
func (Query) QueryField(item Item, selector string) (string, bool) {
	if item.sel == nil || selector == "" {
		return "", false
	}
	m := item.sel.Find(selector).First()
	if m.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(m.Text()), true
}

// QueryAttribute returns the attribute of the first match. An empty
// selector reads the attribute from the item element itself.
func (Query) QueryAttribute(item Item, selector, attr string) (string, bool) {
	if item.sel == nil || attr == "" {
		return "", false
	}
	m := item.sel
	if selector != "" {
		m = item.sel.Find(selector)
	}
	m = m.First()
	if m.Length() == 0 {
		return "", false
	}
	v, ok := m.Attr(attr)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}
