package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pricewatch-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker watches recent scrape jobs and posts an alert whenever the job
// failure rate, per-site failures or AI spend cross their thresholds.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker wires a collector and alerter into a checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once at startup and then every check interval until ctx is
// done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	c.log.Info("monitoring: watching scrape jobs",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	if ctx.Err() == nil {
		c.check(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

// check evaluates one lookback window and returns how many alerts fired
// and how many of them were delivered.
func (c *Checker) check(ctx context.Context) (fired, sent int) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: collect job metrics", zap.Error(err))
		return 0, 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: within thresholds",
			zap.Int("jobs", snap.JobsTotal),
			zap.Float64("failure_rate", snap.JobFailRate),
		)
		return 0, 0
	}

	sent = c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("monitoring: thresholds crossed",
		zap.Int("alerts_fired", len(alerts)),
		zap.Int("alerts_sent", sent),
		zap.Float64("cost_usd", snap.CostUSD),
	)
	return len(alerts), sent
}
