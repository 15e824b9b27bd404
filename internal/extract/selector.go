package extract

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch-cli/internal/browser"
	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/internal/site"
)

var errEmptyItem = eris.New("extract: item has no content")

// SelectorResult is a selector-path record plus the required fields that
// could not be located.
type SelectorResult struct {
	Product model.Product
	Missing []site.Field
}

// Complete reports whether both required fields were found.
func (r *SelectorResult) Complete() bool {
	return len(r.Missing) == 0
}

// SelectorExtractor reads product fields from an item using a site's
// field-to-selector table.
type SelectorExtractor struct {
	Browser browser.Browser
	Now     func() time.Time
}

// Extract builds a record from item. An item with no content or an
// unparseable price is an extraction failure.
func (e *SelectorExtractor) Extract(item browser.Item, cfg site.Config) (*SelectorResult, error) {
	if item.HTML() == "" {
		return nil, model.Classify(model.ErrExtraction, errEmptyItem)
	}

	res := &SelectorResult{Product: model.Product{
		Site:      cfg.Name,
		Currency:  DefaultCurrency,
		Source:    model.SourceSelector,
		ScrapedAt: e.now(),
	}}
	p := &res.Product

	name, _ := e.read(item, cfg, site.FieldName)
	if name != "" {
		p.Name = name
	} else {
		p.Name = PlaceholderName
		res.Missing = append(res.Missing, site.FieldName)
	}

	if raw, ok := e.read(item, cfg, site.FieldPrice); ok {
		price, err := ParsePrice(raw)
		if err != nil {
			return nil, model.Classify(model.ErrExtraction, err)
		}
		p.Price = price
	}
	if p.Price <= 0 {
		res.Missing = append(res.Missing, site.FieldPrice)
	}

	if raw, ok := e.read(item, cfg, site.FieldOriginalPrice); ok {
		if v, err := ParsePrice(raw); err == nil && v > 0 {
			p.OriginalPrice = model.Float(v)
		}
	}
	if raw, ok := e.read(item, cfg, site.FieldRating); ok {
		p.Rating = StarRating(raw)
	}
	if raw, ok := e.read(item, cfg, site.FieldReviewCount); ok {
		p.ReviewCount = model.Int(ParseReviewCount(raw))
	}
	if v, ok := e.read(item, cfg, site.FieldAvailability); ok {
		p.Availability = v
	}
	if v, ok := e.read(item, cfg, site.FieldImageURL); ok {
		p.ImageURL = NormalizeURL(v, cfg.BaseURL)
	}
	if v, ok := e.read(item, cfg, site.FieldProductURL); ok {
		p.URL = NormalizeURL(v, cfg.BaseURL)
	}

	p.Confidence = SelectorConfidence(Completeness(name, p.Price))
	return res, nil
}

// read looks up field via its selector, then the site default.
func (e *SelectorExtractor) read(item browser.Item, cfg site.Config, field site.Field) (string, bool) {
	if sel, ok := cfg.Fields[field]; ok && (sel.CSS != "" || sel.Attr != "") {
		var v string
		var found bool
		if sel.Attr != "" {
			v, found = e.Browser.QueryAttribute(item, sel.CSS, sel.Attr)
		} else {
			v, found = e.Browser.QueryField(item, sel.CSS)
		}
		if found && v != "" {
			return v, true
		}
	}
	if d, ok := cfg.Defaults[field]; ok {
		return d, true
	}
	return "", false
}

func (e *SelectorExtractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}
