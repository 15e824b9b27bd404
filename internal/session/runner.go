// Package session drives one site's portion of a scraping job.
package session

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch-cli/internal/browser"
	"github.com/sells-group/pricewatch-cli/internal/extract"
	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/internal/site"
	"github.com/sells-group/pricewatch-cli/internal/store"
)

// persistTimeout bounds each best-effort store write.
const persistTimeout = 10 * time.Second

// Result is what a session hands back to the orchestrator.
type Result struct {
	Count    int
	Products []model.Product
	Usage    model.TokenUsage
}

// Runner scrapes one site: it fetches items, extracts each in order and
// reports the session outcome. It never touches job-level state.
type Runner struct {
	Browser  browser.Browser
	Pipeline *extract.Pipeline
	// Store is optional; writes are logged on failure and never block the
	// session outcome.
	Store store.Store
	Now   func() time.Time
}

// Run executes sess against cfg, keeping at most limit records. The
// returned Result is non-nil even on error and carries whatever was
// extracted before the failure.
func (r *Runner) Run(ctx context.Context, sess *model.Session, cfg site.Config, limit int, useAI bool) (*Result, error) {
	res := &Result{}
	log := zap.L().With(
		zap.String("job_id", sess.JobID),
		zap.String("session_id", sess.ID),
		zap.String("site", sess.Site),
	)

	if !sess.Start(r.now()) {
		return res, model.Classify(model.ErrOrchestration,
			eris.Errorf("session: %s is %s, not pending", sess.ID, sess.Status))
	}
	r.persistSession(ctx, sess, log)

	start := time.Now()
	items, err := r.Browser.FetchItems(ctx, sess.URL, cfg.ItemSelector, limit)
	if err != nil {
		if ctx.Err() != nil {
			return res, r.cancel(ctx, sess, res, log)
		}
		err = model.Classify(model.ErrNavigation, eris.Wrapf(err, "session: fetch %s", sess.URL))
		return res, r.fail(ctx, sess, err, log)
	}
	if len(items) == 0 {
		log.Warn("session: no items found", zap.String("url", sess.URL))
	}

	for _, item := range items {
		if limit > 0 && len(res.Products) >= limit {
			break
		}
		if ctx.Err() != nil {
			return res, r.cancel(ctx, sess, res, log)
		}

		out, err := r.Pipeline.Process(ctx, item, cfg, useAI)
		if err != nil {
			if extract.IsCancelled(err) {
				return res, r.cancel(ctx, sess, res, log)
			}
			log.Warn("session: skipping item",
				zap.Int("item", item.Index),
				zap.Error(err),
			)
			continue
		}
		res.Usage.Add(out.Usage)

		p := out.Product
		p.JobID = sess.JobID
		p.SessionID = sess.ID
		p.Position = item.Index
		if p.URL == "" {
			p.URL = sess.URL
		}
		res.Products = append(res.Products, p)
	}

	res.Count = len(res.Products)
	r.persistProducts(ctx, res.Products, log)
	sess.Complete(r.now(), res.Count)
	r.persistSession(ctx, sess, log)

	log.Info("session: completed",
		zap.Int("products", res.Count),
		zap.Int("tokens", res.Usage.Total()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (r *Runner) fail(ctx context.Context, sess *model.Session, err error, log *zap.Logger) error {
	sess.Fail(r.now(), err)
	r.persistSession(ctx, sess, log)
	log.Error("session: failed", zap.Error(err))
	return err
}

// cancel keeps and counts the records gathered so far, then fails the
// session with ErrCancelled.
func (r *Runner) cancel(ctx context.Context, sess *model.Session, res *Result, log *zap.Logger) error {
	res.Count = len(res.Products)
	r.persistProducts(ctx, res.Products, log)
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	err := model.Classify(model.ErrCancelled, cause)
	sess.ProductsFound = res.Count
	sess.Fail(r.now(), err)
	r.persistSession(ctx, sess, log)
	log.Info("session: cancelled", zap.Int("products", res.Count))
	return err
}

func (r *Runner) persistSession(ctx context.Context, sess *model.Session, log *zap.Logger) {
	if r.Store == nil {
		return
	}
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := r.Store.UpdateSession(wctx, sess); err != nil {
		log.Warn("session: persist session state", zap.String("status", string(sess.Status)), zap.Error(err))
	}
}

func (r *Runner) persistProducts(ctx context.Context, products []model.Product, log *zap.Logger) {
	if r.Store == nil || len(products) == 0 {
		return
	}
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if _, err := r.Store.InsertProducts(wctx, products); err != nil {
		log.Warn("session: persist products", zap.Int("products", len(products)), zap.Error(err))
	}
}

// writeContext detaches store writes from job cancellation so the final
// session state still lands after Cancel.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
