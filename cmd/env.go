package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch-cli/internal/analysis"
	"github.com/sells-group/pricewatch-cli/internal/browser"
	"github.com/sells-group/pricewatch-cli/internal/config"
	"github.com/sells-group/pricewatch-cli/internal/cost"
	"github.com/sells-group/pricewatch-cli/internal/extract"
	"github.com/sells-group/pricewatch-cli/internal/job"
	"github.com/sells-group/pricewatch-cli/internal/session"
	"github.com/sells-group/pricewatch-cli/internal/site"
	"github.com/sells-group/pricewatch-cli/internal/store"
	"github.com/sells-group/pricewatch-cli/pkg/anthropic"
)

// engine bundles everything a scrape or serve command needs.
type engine struct {
	Store        store.Store
	Orchestrator *job.Orchestrator
	Aggregator   *analysis.Aggregator
}

// Close stops running jobs and releases the store.
func (e *engine) Close() {
	e.Orchestrator.Shutdown()
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{MaxConns: c.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func initSites(c *config.Config) (*site.Registry, error) {
	reg := site.Defaults()
	if c.Sites.Path != "" {
		if err := reg.LoadOverrides(c.Sites.Path); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func pricingRates(c *config.Config) cost.Rates {
	override := cost.Rates{Anthropic: make(map[string]cost.ModelRate, len(c.Pricing.Anthropic))}
	for name, p := range c.Pricing.Anthropic {
		override.Anthropic[name] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return cost.DefaultRates().Merge(override)
}

func browserOptions(c *config.Config) browser.Options {
	opts := browser.DefaultOptions()
	if c.Browser.UserAgent != "" {
		opts.UserAgent = c.Browser.UserAgent
	}
	opts.FetchTimeout = c.Browser.FetchTimeout()
	if c.Browser.MaxBodyBytes > 0 {
		opts.MaxBodyBytes = c.Browser.MaxBodyBytes
	}
	opts.RequestsPerSecond = c.Browser.RequestsPerSecond
	if c.Browser.Retries > 0 {
		opts.Retry.MaxAttempts = c.Browser.Retries
	}
	return opts
}

// completers returns the extraction and insights completers, or nils when
// no API key is configured.
func completers(c *config.Config) (extractor, insights *anthropic.Completer) {
	if c.Anthropic.Key == "" {
		zap.L().Warn("anthropic key not set, AI extraction and insights disabled")
		return nil, nil
	}
	client := anthropic.NewClient(c.Anthropic.Key,
		anthropic.WithBaseURL(c.Anthropic.BaseURL),
		anthropic.WithMaxRetries(c.Anthropic.MaxRetries),
	)
	extractor = &anthropic.Completer{
		Client:      client,
		Model:       c.Anthropic.Model,
		System:      extract.SystemPrompt,
		MaxTokens:   c.Anthropic.MaxTokens,
		Temperature: c.Anthropic.Temperature,
		Timeout:     c.Anthropic.Timeout(),
	}
	insights = &anthropic.Completer{
		Client:      client,
		Model:       c.Anthropic.Model,
		System:      analysis.SystemPrompt,
		MaxTokens:   800,
		Temperature: 0.3,
		Timeout:     c.Anthropic.Timeout(),
	}
	return extractor, insights
}

// newEngine wires the scraping engine on top of st.
func newEngine(c *config.Config, st store.Store) (*engine, error) {
	sites, err := initSites(c)
	if err != nil {
		return nil, err
	}

	b := browser.NewHTTPBrowser(browserOptions(c))
	pipeline := &extract.Pipeline{Selector: &extract.SelectorExtractor{Browser: b}}
	agg := &analysis.Aggregator{}

	if ex, in := completers(c); ex != nil {
		pipeline.AI = &extract.AIExtractor{Completer: ex}
		agg.Completer = in
	}

	runner := &session.Runner{Browser: b, Pipeline: pipeline, Store: st}
	orch := job.New(sites, runner,
		job.WithStore(st),
		job.WithCost(cost.NewCalculator(pricingRates(c)), c.Anthropic.Model),
		job.WithLimits(job.Limits{
			DefaultMaxProducts: c.Job.DefaultMaxProducts,
			MaxProductsLimit:   c.Job.MaxProductsLimit,
			DefaultUseAI:       c.Job.UseAIParsing,
		}),
	)

	return &engine{Store: st, Orchestrator: orch, Aggregator: agg}, nil
}

func initEngine(ctx context.Context, c *config.Config) (*engine, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(c, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return e, nil
}
