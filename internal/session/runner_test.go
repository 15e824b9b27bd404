package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/pricewatch-cli/internal/browser"
	"github.com/sells-group/pricewatch-cli/internal/extract"
	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/internal/site"
	"github.com/sells-group/pricewatch-cli/internal/store"
	"github.com/sells-group/pricewatch-cli/pkg/anthropic"
)

// listing renders n amazon-style result items; prices listed in bad are
// unparseable.
func listing(n int, bad ...int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		price := fmt.Sprintf("%d.99", 10+i)
		for _, x := range bad {
			if x == i {
				price = "1.2.3"
			}
		}
		fmt.Fprintf(&b, `<div data-component-type="s-search-result">
<h2><a href="/dp/P%d"><span>Product %d</span></a></h2>
<span class="a-price-whole">%s</span>
</div>`, i, i, price)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type fakeBrowser struct {
	browser.Query
	html  string
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeBrowser) FetchItems(ctx context.Context, _, itemSelector string, limit int) ([]browser.Item, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return browser.ParseItems(f.html, itemSelector, limit)
}

type fakeCompleter struct {
	err     error
	blockAt int32
	calls   atomic.Int32
	onBlock func()
}

func (f *fakeCompleter) Complete(ctx context.Context, _ string) (*anthropic.Completion, error) {
	n := f.calls.Add(1)
	if f.blockAt > 0 && n >= f.blockAt {
		if f.onBlock != nil {
			f.onBlock()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Completion{Text: `{"name":"AI Product","price":5}`, Usage: anthropic.TokenUsage{InputTokens: 90, OutputTokens: 10}}, nil
}

func amazon(t *testing.T) site.Config {
	t.Helper()
	cfg, ok := site.Defaults().Get("amazon")
	require.True(t, ok)
	return cfg
}

func newRunner(b browser.Browser, c extract.Completer) *Runner {
	p := &extract.Pipeline{Selector: &extract.SelectorExtractor{Browser: b}}
	if c != nil {
		p.AI = &extract.AIExtractor{Completer: c}
	}
	return &Runner{Browser: b, Pipeline: p}
}

func newSession() *model.Session {
	return &model.Session{
		ID:     "sess-1",
		JobID:  "job-1",
		Site:   "amazon",
		URL:    "https://www.amazon.com/s?k=headphones",
		Status: model.StatusPending,
	}
}

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestRun_CompletesInOrder(t *testing.T) {
	r := newRunner(&fakeBrowser{html: listing(5)}, nil)
	sess := newSession()

	res, err := r.Run(context.Background(), sess, amazon(t), 100, false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	assert.Equal(t, 5, sess.ProductsFound)
	require.NotNil(t, sess.StartedAt)
	require.NotNil(t, sess.CompletedAt)

	for i, p := range res.Products {
		assert.Equal(t, fmt.Sprintf("Product %d", i), p.Name)
		assert.Equal(t, i, p.Position)
		assert.Equal(t, "job-1", p.JobID)
		assert.Equal(t, "sess-1", p.SessionID)
		assert.Equal(t, fmt.Sprintf("https://www.amazon.com/dp/P%d", i), p.URL)
		assert.GreaterOrEqual(t, p.Confidence, 0.0)
		assert.LessOrEqual(t, p.Confidence, 1.0)
	}
}

func TestRun_CapIsExact(t *testing.T) {
	r := newRunner(&fakeBrowser{html: listing(12)}, nil)
	sess := newSession()

	res, err := r.Run(context.Background(), sess, amazon(t), 7, false)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Count)
	assert.Len(t, res.Products, 7)
	assert.Equal(t, 7, sess.ProductsFound)
}

func TestRun_SkipsFailedItemsAndLogs(t *testing.T) {
	logs := observe(t)
	r := newRunner(&fakeBrowser{html: listing(4, 1)}, nil)
	sess := newSession()

	res, err := r.Run(context.Background(), sess, amazon(t), 100, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	assert.Equal(t, "Product 2", res.Products[1].Name)

	skipped := logs.FilterMessage("session: skipping item").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, zapcore.WarnLevel, skipped[0].Level)
	assert.Equal(t, int64(1), skipped[0].ContextMap()["item"])
}

func TestRun_NavigationFailure(t *testing.T) {
	r := newRunner(&fakeBrowser{err: errors.New("dial tcp: connection refused")}, nil)
	sess := newSession()

	res, err := r.Run(context.Background(), sess, amazon(t), 100, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNavigation)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, model.StatusFailed, sess.Status)
	assert.Contains(t, sess.Error, "connection refused")
	require.NotNil(t, sess.CompletedAt)
}

func TestRun_EmptyResultSet(t *testing.T) {
	logs := observe(t)
	r := newRunner(&fakeBrowser{html: "<html><body>No results</body></html>"}, nil)
	sess := newSession()

	res, err := r.Run(context.Background(), sess, amazon(t), 100, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	assert.Equal(t, 1, logs.FilterMessage("session: no items found").Len())
}

func TestRun_NotPending(t *testing.T) {
	fb := &fakeBrowser{html: listing(1)}
	r := newRunner(fb, nil)
	sess := newSession()
	sess.Status = model.StatusCompleted

	_, err := r.Run(context.Background(), sess, amazon(t), 100, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrOrchestration)
	assert.Equal(t, int32(0), fb.calls.Load())
}

func TestRun_AITimeoutEveryItem(t *testing.T) {
	fc := &fakeCompleter{err: context.DeadlineExceeded}
	r := newRunner(&fakeBrowser{html: listing(3)}, fc)
	sess := newSession()

	res, err := r.Run(context.Background(), sess, amazon(t), 100, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	require.Equal(t, 3, res.Count)
	for _, p := range res.Products {
		assert.Equal(t, extract.FallbackName, p.Name)
		assert.Equal(t, 0.0, p.Confidence)
		assert.Equal(t, 0.0, p.Price)
	}
	assert.Equal(t, int32(3), fc.calls.Load())
}

func TestRun_AIUsageAccumulates(t *testing.T) {
	fc := &fakeCompleter{}
	r := newRunner(&fakeBrowser{html: listing(2)}, fc)

	res, err := r.Run(context.Background(), newSession(), amazon(t), 100, true)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Usage.Total())
	assert.Equal(t, model.SourceAI, res.Products[0].Source)
	assert.InDelta(t, 0.82, res.Products[0].Confidence, 1e-9)
}

func TestRun_CancelledDuringFetch(t *testing.T) {
	r := newRunner(&fakeBrowser{block: true}, nil)
	sess := newSession()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := r.Run(ctx, sess, amazon(t), 100, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.NotErrorIs(t, err, model.ErrNavigation)
	assert.Equal(t, model.StatusFailed, sess.Status)
}

func TestRun_CancelledDuringExtraction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fc := &fakeCompleter{blockAt: 3, onBlock: cancel}
	r := newRunner(&fakeBrowser{html: listing(10)}, fc)
	sess := newSession()

	res, err := r.Run(ctx, sess, amazon(t), 100, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, sess.ProductsFound)
	assert.Equal(t, int32(3), fc.calls.Load())
	assert.Equal(t, model.StatusFailed, sess.Status)
}

func TestRun_PersistsState(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	sess := newSession()
	require.NoError(t, st.CreateSession(context.Background(), sess))

	r := newRunner(&fakeBrowser{html: listing(4)}, nil)
	r.Store = st
	_, err = r.Run(context.Background(), sess, amazon(t), 100, false)
	require.NoError(t, err)

	sessions, err := st.ListSessions(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.StatusCompleted, sessions[0].Status)
	assert.Equal(t, 4, sessions[0].ProductsFound)

	products, err := st.ListProducts(context.Background(), store.ProductFilter{JobID: "job-1"})
	require.NoError(t, err)
	assert.Len(t, products, 4)
}
