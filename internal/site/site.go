// Package site holds the per-site selector configuration table that drives
// deterministic field extraction.
package site

import (
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Field names a product attribute the selector extractor can read.
type Field string

const (
	FieldName          Field = "name"
	FieldPrice         Field = "price"
	FieldOriginalPrice Field = "original_price"
	FieldRating        Field = "rating"
	FieldReviewCount   Field = "review_count"
	FieldAvailability  Field = "availability"
	FieldImageURL      Field = "image_url"
	FieldProductURL    Field = "product_url"
)

// Selector locates one field inside an item. When Attr is set the
// attribute value is read instead of the element text.
type Selector struct {
	CSS  string `yaml:"css"`
	Attr string `yaml:"attr,omitempty"`
}

// Config describes how to extract products from one site.
type Config struct {
	Name         string             `yaml:"name"`
	BaseURL      string             `yaml:"base_url"`
	Domain       string             `yaml:"domain"`
	ItemSelector string             `yaml:"item_selector"`
	Fields       map[Field]Selector `yaml:"fields"`
	// Defaults are used when a field has no selector or the selector
	// matches nothing, e.g. sites that never show availability in listings.
	Defaults map[Field]string `yaml:"defaults,omitempty"`
	// PromptLabel is the human-readable site name used in AI prompts.
	PromptLabel string `yaml:"prompt_label"`
}

// Registry maps site identifiers to their configuration.
type Registry struct {
	sites map[string]Config
}

// Defaults returns the built-in configuration table.
func Defaults() *Registry {
	return &Registry{sites: map[string]Config{
		"amazon": {
			Name:         "amazon",
			BaseURL:      "https://www.amazon.com",
			Domain:       "amazon.com",
			ItemSelector: `[data-component-type="s-search-result"]`,
			PromptLabel:  "Amazon",
			Fields: map[Field]Selector{
				FieldName:          {CSS: "h2 a span"},
				FieldPrice:         {CSS: ".a-price-whole"},
				FieldOriginalPrice: {CSS: ".a-price.a-text-price .a-offscreen"},
				FieldRating:        {CSS: ".a-icon-alt"},
				FieldReviewCount:   {CSS: `a[href*="customerReviews"] span`},
				FieldImageURL:      {CSS: "img.s-image", Attr: "src"},
				FieldProductURL:    {CSS: "h2 a", Attr: "href"},
			},
			Defaults: map[Field]string{
				FieldAvailability: "In Stock",
			},
		},
		"bestbuy": {
			Name:         "bestbuy",
			BaseURL:      "https://www.bestbuy.com",
			Domain:       "bestbuy.com",
			ItemSelector: ".shop-sku-list-item",
			PromptLabel:  "Best Buy",
			Fields: map[Field]Selector{
				FieldName:       {CSS: "h4 a"},
				FieldPrice:      {CSS: ".priceView-customer-price span"},
				FieldRating:     {CSS: ".c-ratings-reviews-v2 .c-ratings-reviews-v2__reviews"},
				FieldImageURL:   {CSS: "img", Attr: "src"},
				FieldProductURL: {CSS: "h4 a", Attr: "href"},
			},
			Defaults: map[Field]string{
				FieldAvailability: "In Stock",
				FieldReviewCount:  "0",
			},
		},
		"walmart": {
			Name:         "walmart",
			BaseURL:      "https://www.walmart.com",
			Domain:       "walmart.com",
			ItemSelector: "[data-item-id]",
			PromptLabel:  "Walmart",
			Fields: map[Field]Selector{
				FieldName:       {CSS: `[data-testid="product-title"]`},
				FieldPrice:      {CSS: `[data-testid="price-wrap"] span`},
				FieldRating:     {CSS: `[data-testid="rating"]`},
				FieldImageURL:   {CSS: "img", Attr: "src"},
				FieldProductURL: {CSS: "a", Attr: "href"},
			},
			Defaults: map[Field]string{
				FieldAvailability: "In Stock",
				FieldReviewCount:  "0",
			},
		},
	}}
}

// Get returns the configuration for a site.
func (r *Registry) Get(name string) (Config, bool) {
	c, ok := r.sites[strings.ToLower(name)]
	return c, ok
}

// Names returns the known site identifiers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sites))
	for n := range r.sites {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Set adds or replaces a site configuration.
func (r *Registry) Set(c Config) {
	r.sites[strings.ToLower(c.Name)] = c
}

// MatchURL returns the first URL in urls whose host belongs to the site's
// domain, falling back to the first URL.
func (c Config) MatchURL(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if c.Domain != "" && (host == c.Domain || strings.HasSuffix(host, "."+c.Domain)) {
			return raw
		}
	}
	return urls[0]
}

type overrideFile struct {
	Sites []Config `yaml:"sites"`
}

// LoadOverrides reads a YAML file of site configs and merges them into r.
// Fields present in the file replace the built-in selector for that field;
// unknown sites are added whole.
func (r *Registry) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "site: read overrides %s", path)
	}

	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return eris.Wrap(err, "site: parse overrides")
	}

	for _, o := range f.Sites {
		if o.Name == "" {
			return eris.New("site: override missing name")
		}
		base, ok := r.Get(o.Name)
		if !ok {
			if o.ItemSelector == "" || o.BaseURL == "" {
				return eris.Errorf("site: new site %q requires item_selector and base_url", o.Name)
			}
			r.Set(o)
			continue
		}
		r.Set(merge(base, o))
	}
	return nil
}

func merge(base, o Config) Config {
	out := base
	out.Fields = make(map[Field]Selector, len(base.Fields))
	for k, v := range base.Fields {
		out.Fields[k] = v
	}
	out.Defaults = make(map[Field]string, len(base.Defaults))
	for k, v := range base.Defaults {
		out.Defaults[k] = v
	}
	if o.BaseURL != "" {
		out.BaseURL = o.BaseURL
	}
	if o.Domain != "" {
		out.Domain = o.Domain
	}
	if o.ItemSelector != "" {
		out.ItemSelector = o.ItemSelector
	}
	if o.PromptLabel != "" {
		out.PromptLabel = o.PromptLabel
	}
	for k, v := range o.Fields {
		out.Fields[k] = v
	}
	for k, v := range o.Defaults {
		out.Defaults[k] = v
	}
	return out
}
