package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricewatch-cli/internal/config"
	"github.com/sells-group/pricewatch-cli/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "pw.db")
	c.Browser.FetchTimeoutSecs = 5
	c.Browser.Retries = 2
	c.Browser.RequestsPerSecond = 2
	c.Anthropic.Model = "claude-haiku-4-5-20251001"
	c.Anthropic.TimeoutSecs = 5
	c.Anthropic.MaxTokens = 1000
	c.Job.DefaultMaxProducts = 100
	c.Job.MaxProductsLimit = 1000
	c.Job.UseAIParsing = true
	return c
}

func TestInitEngine_SQLite(t *testing.T) {
	c := testConfig(t)
	eng, err := initEngine(context.Background(), c)
	require.NoError(t, err)
	defer eng.Close()

	assert.NotNil(t, eng.Orchestrator)
	assert.Nil(t, eng.Aggregator.Completer)

	jobs, err := eng.Store.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"
	_, err := initStore(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitSites_Overrides(t *testing.T) {
	c := testConfig(t)
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - name: amazon
    item_selector: ".new-result"
`), 0644))
	c.Sites.Path = path

	reg, err := initSites(c)
	require.NoError(t, err)
	amazon, ok := reg.Get("amazon")
	require.True(t, ok)
	assert.Equal(t, ".new-result", amazon.ItemSelector)

	c.Sites.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = initSites(c)
	assert.Error(t, err)
}

func TestCompleters(t *testing.T) {
	c := testConfig(t)
	ex, in := completers(c)
	assert.Nil(t, ex)
	assert.Nil(t, in)

	c.Anthropic.Key = "sk-ant-test"
	c.Anthropic.Temperature = 0.1
	ex, in = completers(c)
	require.NotNil(t, ex)
	require.NotNil(t, in)
	assert.InDelta(t, 0.1, ex.Temperature, 1e-9)
	assert.Equal(t, int64(1000), ex.MaxTokens)
	assert.InDelta(t, 0.3, in.Temperature, 1e-9)
	assert.Equal(t, int64(800), in.MaxTokens)
	assert.Equal(t, 5*time.Second, ex.Timeout)
}

func TestPricingRates(t *testing.T) {
	c := testConfig(t)
	c.Pricing.Anthropic = map[string]config.ModelPricing{"claude-custom": {Input: 2, Output: 8}}

	rates := pricingRates(c)
	assert.Equal(t, 2.0, rates.Anthropic["claude-custom"].Input)
	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
}

func TestBrowserOptions(t *testing.T) {
	c := testConfig(t)
	c.Browser.UserAgent = "pricewatch-test"
	opts := browserOptions(c)
	assert.Equal(t, "pricewatch-test", opts.UserAgent)
	assert.Equal(t, 5*time.Second, opts.FetchTimeout)
	assert.Equal(t, 2, opts.Retry.MaxAttempts)
	assert.Equal(t, 2.0, opts.RequestsPerSecond)
}
