// Package monitoring watches recent job outcomes and raises webhook alerts
// when failure rates, per-site failures or AI spend cross their thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/internal/store"
)

// maxJobsScanned bounds one collection pass.
const maxJobsScanned = 10000

// MetricsSnapshot holds a point-in-time view of scraping health.
type MetricsSnapshot struct {
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsRunning   int     `json:"jobs_running"`
	JobFailRate   float64 `json:"job_fail_rate"`
	Products      int     `json:"products"`

	// SiteFailures counts jobs in which each site reported an error.
	SiteFailures map[string]int `json:"site_failures"`

	TokensTotal int     `json:"tokens_total"`
	CostUSD     float64 `json:"cost_usd"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister is the store surface the collector reads.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// CostFunc prices a job's token usage.
type CostFunc func(model.TokenUsage) float64

// Collector gathers metrics from the job store.
type Collector struct {
	jobs JobLister
	cost CostFunc
	now  func() time.Time
}

// NewCollector creates a new metrics collector. cost may be nil.
func NewCollector(jobs JobLister, cost CostFunc) *Collector {
	return &Collector{jobs: jobs, cost: cost, now: time.Now}
}

// Collect gathers a snapshot of job metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		SiteFailures:  make(map[string]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Jobs come back newest first.
	jobs, err := c.jobs.ListJobs(ctx, store.JobFilter{Limit: maxJobsScanned})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch j.Status {
		case model.StatusCompleted:
			snap.JobsCompleted++
		case model.StatusFailed:
			snap.JobsFailed++
		case model.StatusRunning, model.StatusPending:
			snap.JobsRunning++
		}
		snap.Products += j.ProductsScraped
		snap.TokensTotal += j.TokenUsage.Total()
		if c.cost != nil {
			snap.CostUSD += c.cost(j.TokenUsage)
		}

		seen := make(map[string]bool, len(j.Errors))
		for _, e := range j.Errors {
			if !seen[e.Site] {
				seen[e.Site] = true
				snap.SiteFailures[e.Site]++
			}
		}
	}

	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}
	return snap, nil
}
