package browser

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pricewatch-cli/internal/resilience"
)

// Options configures an HTTPBrowser.
type Options struct {
	UserAgent         string
	FetchTimeout      time.Duration
	MaxBodyBytes      int64
	RequestsPerSecond float64
	Retry             resilience.RetryConfig
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

// DefaultOptions returns conservative defaults for listing pages.
func DefaultOptions() Options {
	return Options{
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		FetchTimeout:      30 * time.Second,
		MaxBodyBytes:      5 << 20,
		RequestsPerSecond: 1,
		Retry:             resilience.DefaultRetryConfig(),
		BreakerThreshold:  5,
		BreakerCooldown:   2 * time.Minute,
	}
}

// HTTPBrowser fetches listing pages over plain HTTP and queries them with
// CSS selectors. Requests are throttled per host and guarded by a per-host
// circuit breaker.
type HTTPBrowser struct {
	Query
	client   *http.Client
	opts     Options
	breakers *resilience.Breakers

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPBrowser creates an HTTPBrowser.
func NewHTTPBrowser(opts Options) *HTTPBrowser {
	def := DefaultOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	opts.Retry.Label = "browser.fetch"

	return &HTTPBrowser{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		opts:     opts,
		breakers: &resilience.Breakers{Threshold: opts.BreakerThreshold, Cooldown: opts.BreakerCooldown},
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchItems implements Browser. Each call is bounded by the fetch timeout.
func (b *HTTPBrowser) FetchItems(ctx context.Context, pageURL, itemSelector string, limit int) ([]Item, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("browser: invalid url %q", pageURL)
	}
	host := strings.ToLower(u.Hostname())

	breaker := b.breakers.Get(host)
	if err := breaker.Allow(); err != nil {
		return nil, eris.Wrapf(err, "browser: %s", host)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, b.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	body, err := resilience.DoVal(fetchCtx, b.opts.Retry, func(ctx context.Context) (string, error) {
		if err := b.wait(ctx, host); err != nil {
			return "", err
		}
		return b.get(ctx, pageURL)
	})
	// Caller cancellation says nothing about the site's health.
	if ctx.Err() == nil {
		breaker.Record(err)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "browser: fetch %s", pageURL)
	}

	items, err := ParseItems(body, itemSelector, limit)
	if err != nil {
		return nil, eris.Wrap(err, "browser: parse document")
	}

	zap.L().Debug("browser: fetched items",
		zap.String("url", pageURL),
		zap.Int("items", len(items)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return items, nil
}

func (b *HTTPBrowser) get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "browser: create request")
	}
	req.Header.Set("User-Agent", b.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.opts.MaxBodyBytes))
	if err != nil {
		return "", eris.Wrap(err, "browser: read body")
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return "", eris.Errorf("browser: blocked (%s)", kind)
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("browser: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}
	return string(body), nil
}

func (b *HTTPBrowser) wait(ctx context.Context, host string) error {
	if b.opts.RequestsPerSecond <= 0 {
		return nil
	}
	b.mu.Lock()
	l, ok := b.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(b.opts.RequestsPerSecond), max(int(b.opts.RequestsPerSecond), 1))
		b.limiters[host] = l
	}
	b.mu.Unlock()
	return l.Wait(ctx)
}
