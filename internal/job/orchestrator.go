// Package job fans a scraping request out into one session per target site
// and aggregates the session outcomes into job state.
package job

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pricewatch-cli/internal/cost"
	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/internal/session"
	"github.com/sells-group/pricewatch-cli/internal/site"
	"github.com/sells-group/pricewatch-cli/internal/store"
)

const (
	// runningProgressCeiling keeps progress below 1.0 until the job completes.
	runningProgressCeiling = 0.9
	persistTimeout         = 10 * time.Second
	defaultRetention       = time.Hour
)

// Request is the input of StartJob.
type Request struct {
	URLs         []string `json:"urls"`
	TargetSites  []string `json:"target_sites"`
	MaxProducts  int      `json:"max_products"`
	UseAIParsing *bool    `json:"use_ai_parsing,omitempty"`
}

// Limits bounds and defaults request parameters.
type Limits struct {
	DefaultMaxProducts int
	MaxProductsLimit   int
	DefaultUseAI       bool
}

// DefaultLimits returns the stock request limits.
func DefaultLimits() Limits {
	return Limits{DefaultMaxProducts: 100, MaxProductsLimit: 1000, DefaultUseAI: true}
}

// SessionRunner runs one site's session. *session.Runner satisfies it.
type SessionRunner interface {
	Run(ctx context.Context, sess *model.Session, cfg site.Config, limit int, useAI bool) (*session.Result, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore persists job and session state. Writes are best-effort.
func WithStore(s store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithCost attributes token usage to modelName when a job ends.
func WithCost(calc *cost.Calculator, modelName string) Option {
	return func(o *Orchestrator) {
		o.costCalc = calc
		o.costModel = modelName
	}
}

// WithLimits overrides the request limits.
func WithLimits(l Limits) Option {
	return func(o *Orchestrator) { o.limits = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides uuid generation for job and session ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// WithRetention sets how long finished jobs stay in memory once a store
// can serve them.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

// entry is the registry record of one job. The job pointer is only
// touched under Orchestrator.mu.
type entry struct {
	job       *model.Job
	sessions  []*model.Session
	cancel    context.CancelFunc
	cancelled bool
	resolved  int
	done      chan struct{}
	outcome   *model.JobOutcome
}

// Orchestrator owns job state. The registry is the only state shared
// between goroutines and is guarded by mu.
type Orchestrator struct {
	sites     *site.Registry
	runner    SessionRunner
	store     store.Store
	costCalc  *cost.Calculator
	costModel string
	limits    Limits
	retention time.Duration
	now       func() time.Time
	newID     func() string

	mu   sync.Mutex
	jobs map[string]*entry
	wg   sync.WaitGroup
}

// New creates an Orchestrator.
func New(sites *site.Registry, runner SessionRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sites:     sites,
		runner:    runner,
		limits:    DefaultLimits(),
		retention: defaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		jobs:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartJob validates req, registers a running job and launches its
// sessions in the background. The returned job is a snapshot.
func (o *Orchestrator) StartJob(ctx context.Context, req Request) (*model.Job, error) {
	cfgs, useAI, maxProducts, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	now := o.now()
	j := &model.Job{
		ID:           o.newID(),
		Status:       model.StatusPending,
		TargetSites:  make([]string, len(cfgs)),
		TargetURLs:   append([]string(nil), req.URLs...),
		MaxProducts:  maxProducts,
		UseAIParsing: useAI,
		CreatedAt:    now,
	}
	for i, c := range cfgs {
		j.TargetSites[i] = c.Name
	}
	o.persist(ctx, "create job", func(wctx context.Context) error { return o.store.CreateJob(wctx, j) })

	j.Status = model.StatusRunning
	j.StartedAt = &now

	sessions := make([]*model.Session, len(cfgs))
	for i, c := range cfgs {
		sessions[i] = &model.Session{
			ID:     o.newID(),
			JobID:  j.ID,
			Site:   c.Name,
			URL:    c.MatchURL(req.URLs),
			Status: model.StatusPending,
		}
		sess := sessions[i]
		o.persist(ctx, "create session", func(wctx context.Context) error { return o.store.CreateSession(wctx, sess) })
	}
	o.persist(ctx, "update job", func(wctx context.Context) error { return o.store.UpdateJob(wctx, j) })

	// Job lifetime is independent of the caller's request.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{
		job:      j,
		sessions: sessions,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	o.mu.Lock()
	o.pruneLocked(now)
	o.jobs[j.ID] = e
	snapshot := j.Clone()
	o.mu.Unlock()

	zap.L().Info("job: started",
		zap.String("job_id", j.ID),
		zap.Strings("sites", j.TargetSites),
		zap.Int("max_products", maxProducts),
		zap.Bool("use_ai", useAI),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(jobCtx, e, cfgs)
	}()

	return snapshot, nil
}

func (o *Orchestrator) validate(req Request) ([]site.Config, bool, int, error) {
	invalid := func(format string, args ...any) error {
		return model.Classify(model.ErrInvalidRequest, eris.Errorf("job: "+format, args...))
	}

	if len(req.URLs) == 0 {
		return nil, false, 0, invalid("urls must not be empty")
	}
	for _, raw := range req.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, false, 0, invalid("url %q is not an absolute http(s) url", raw)
		}
	}

	if len(req.TargetSites) == 0 {
		return nil, false, 0, invalid("target_sites must not be empty")
	}
	seen := make(map[string]bool, len(req.TargetSites))
	cfgs := make([]site.Config, 0, len(req.TargetSites))
	for _, name := range req.TargetSites {
		key := strings.ToLower(strings.TrimSpace(name))
		if seen[key] {
			return nil, false, 0, invalid("duplicate target site %q", name)
		}
		seen[key] = true
		cfg, ok := o.sites.Get(key)
		if !ok {
			return nil, false, 0, invalid("unknown target site %q (known: %s)", name, strings.Join(o.sites.Names(), ", "))
		}
		cfgs = append(cfgs, cfg)
	}

	maxProducts := req.MaxProducts
	if maxProducts == 0 {
		maxProducts = o.limits.DefaultMaxProducts
	}
	if maxProducts < 1 || maxProducts > o.limits.MaxProductsLimit {
		return nil, false, 0, invalid("max_products must be between 1 and %d, got %d", o.limits.MaxProductsLimit, maxProducts)
	}

	useAI := o.limits.DefaultUseAI
	if req.UseAIParsing != nil {
		useAI = *req.UseAIParsing
	}
	return cfgs, useAI, maxProducts, nil
}

type sessionOutcome struct {
	result *session.Result
	err    error
}

// run fans out one runner per session and waits for all of them. Runner
// errors are recorded, never propagated, so siblings keep running.
func (o *Orchestrator) run(ctx context.Context, e *entry, cfgs []site.Config) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			err := model.Classify(model.ErrOrchestration, eris.Errorf("job: panic: %v", r))
			zap.L().Error("job: orchestration failed",
				zap.String("job_id", e.job.ID),
				zap.Error(err),
				zap.String("stack", string(debug.Stack())),
			)
			o.failJob(ctx, e, err)
		}
	}()

	o.mu.Lock()
	limit := e.job.MaxProducts
	useAI := e.job.UseAIParsing
	o.mu.Unlock()

	outcomes := make([]sessionOutcome, len(e.sessions))
	var g errgroup.Group
	for i := range e.sessions {
		sess := e.sessions[i]
		cfg := cfgs[i]
		g.Go(func() error {
			res, err := o.runSession(ctx, sess, cfg, limit, useAI)
			outcomes[i] = sessionOutcome{result: res, err: err}
			o.markResolved(e)
			return nil
		})
	}
	_ = g.Wait()

	o.finish(ctx, e, outcomes)
}

// runSession isolates a runner panic to its own session.
func (o *Orchestrator) runSession(ctx context.Context, sess *model.Session, cfg site.Config, limit int, useAI bool) (res *session.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.Classify(model.ErrOrchestration, eris.Errorf("job: session %s panicked: %v", sess.Site, r))
			res = &session.Result{}
			sess.Fail(o.now(), err)
			zap.L().Error("job: session panicked",
				zap.String("job_id", sess.JobID),
				zap.String("site", sess.Site),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	res, err = o.runner.Run(ctx, sess, cfg, limit, useAI)
	if res == nil {
		res = &session.Result{}
	}
	return res, err
}

// cancellable reports whether a cancel can still reach a runner. Callers
// hold o.mu.
func (e *entry) cancellable() bool {
	return !e.job.Status.IsTerminal() && e.resolved < len(e.sessions)
}

func (o *Orchestrator) markResolved(e *entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e.resolved++
	if n := len(e.sessions); n > 0 && !e.job.Status.IsTerminal() {
		e.job.Progress = float64(e.resolved) / float64(n) * runningProgressCeiling
	}
}

// finish performs the single aggregation write once every runner resolved.
func (o *Orchestrator) finish(ctx context.Context, e *entry, outcomes []sessionOutcome) {
	var (
		count     int
		usage     model.TokenUsage
		errs      []model.SiteError
		failed    int
		cancelled bool
	)
	for i, out := range outcomes {
		sess := e.sessions[i]
		count += sess.ProductsFound
		usage.Add(out.result.Usage)
		if out.err != nil {
			failed++
			errs = append(errs, model.SiteError{Site: sess.Site, Message: out.err.Error()})
			if errors.Is(out.err, model.ErrCancelled) {
				cancelled = true
			}
		}
	}

	estimated := 0.0
	if o.costCalc != nil {
		estimated = o.costCalc.Usage(o.costModel, usage)
	}

	now := o.now()
	o.mu.Lock()
	j := e.job
	j.ProductsScraped = count
	j.Errors = errs
	j.TokenUsage = usage
	j.CompletedAt = &now
	// A cancel that lands after every runner returned changes nothing.
	if e.cancelled && cancelled {
		j.Status = model.StatusFailed
		j.Error = model.ErrCancelled.Error()
	} else {
		j.Status = model.StatusCompleted
		j.Progress = 1.0
	}
	e.outcome = &model.JobOutcome{
		JobID:         j.ID,
		Status:        j.Status,
		ProductCount:  count,
		Errors:        append([]model.SiteError(nil), errs...),
		TokenUsage:    usage,
		EstimatedCost: estimated,
	}
	snapshot := j.Clone()
	o.mu.Unlock()

	o.persist(ctx, "update job", func(wctx context.Context) error { return o.store.UpdateJob(wctx, snapshot) })

	var started time.Time
	if snapshot.StartedAt != nil {
		started = *snapshot.StartedAt
	}
	zap.L().Info("job: finished",
		zap.String("job_id", snapshot.ID),
		zap.String("status", string(snapshot.Status)),
		zap.Int("products", count),
		zap.Int("sessions", len(outcomes)),
		zap.Int("failed_sessions", failed),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.String("estimated_cost", fmt.Sprintf("$%.4f", estimated)),
		zap.Int64("duration_ms", now.Sub(started).Milliseconds()),
	)
}

// failJob records an orchestration failure. Products already persisted by
// the sessions still count toward the job.
func (o *Orchestrator) failJob(ctx context.Context, e *entry, err error) {
	now := o.now()
	o.mu.Lock()
	count := 0
	for _, sess := range e.sessions {
		count += sess.ProductsFound
	}
	j := e.job
	j.Status = model.StatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.ProductsScraped = count
	if n := len(e.sessions); n > 0 {
		j.Progress = float64(e.resolved) / float64(n) * runningProgressCeiling
	} else {
		j.Progress = 0
	}
	e.outcome = &model.JobOutcome{
		JobID:        j.ID,
		Status:       j.Status,
		ProductCount: count,
		Errors:       append([]model.SiteError(nil), j.Errors...),
	}
	snapshot := j.Clone()
	o.mu.Unlock()

	o.persist(ctx, "update job", func(wctx context.Context) error { return o.store.UpdateJob(wctx, snapshot) })
}

// GetStatus returns a snapshot of the job. Jobs no longer held in memory
// are read from the store.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	o.mu.Lock()
	e, ok := o.jobs[jobID]
	var snapshot *model.Job
	if ok {
		snapshot = e.job.Clone()
	}
	o.mu.Unlock()
	if ok {
		return snapshot, nil
	}

	if o.store != nil {
		j, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, eris.Wrapf(err, "job: get %s", jobID)
		}
		return j, nil
	}
	return nil, model.Classify(model.ErrJobNotFound, eris.Errorf("job: %s", jobID))
}

// Cancel signals every outstanding session of the job. The job becomes
// failed once its runners return. Cancelling a finished job, or one whose
// runners have all returned, is a no-op.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.jobs[jobID]
	if !ok {
		return model.Classify(model.ErrJobNotFound, eris.Errorf("job: %s", jobID))
	}
	if !e.cancellable() {
		return nil
	}
	e.cancelled = true
	e.cancel()
	zap.L().Info("job: cancel requested", zap.String("job_id", jobID))
	return nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (*model.JobOutcome, error) {
	o.mu.Lock()
	e, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return nil, model.Classify(model.ErrJobNotFound, eris.Errorf("job: %s", jobID))
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "job: wait %s", jobID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	out := *e.outcome
	out.Errors = append([]model.SiteError(nil), e.outcome.Errors...)
	return &out, nil
}

// ListJobs lists jobs from the store, or from memory when no store is
// configured.
func (o *Orchestrator) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	if o.store != nil {
		jobs, err := o.store.ListJobs(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "job: list")
		}
		return jobs, nil
	}

	o.mu.Lock()
	jobs := make([]model.Job, 0, len(o.jobs))
	for _, e := range o.jobs {
		if filter.Status != "" && e.job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, *e.job.Clone())
	}
	o.mu.Unlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.After(jobs[b].CreatedAt) })
	if filter.Offset >= len(jobs) {
		return []model.Job{}, nil
	}
	jobs = jobs[filter.Offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Shutdown cancels every running job and waits for their runners.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for _, e := range o.jobs {
		if e.cancellable() {
			e.cancelled = true
			e.cancel()
		}
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// pruneLocked drops finished jobs older than the retention window. Only
// done when a store can still answer GetStatus for them.
func (o *Orchestrator) pruneLocked(now time.Time) {
	if o.store == nil || o.retention <= 0 {
		return
	}
	for id, e := range o.jobs {
		if e.job.CompletedAt != nil && now.Sub(*e.job.CompletedAt) > o.retention {
			delete(o.jobs, id)
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, action string, fn func(context.Context) error) {
	if o.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(wctx); err != nil {
		zap.L().Warn("job: persist state", zap.String("action", action), zap.Error(err))
	}
}
