// Package worker runs the gateway's background loops: periodic jobs and
// the invocation consumer.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is one run of periodic work.
type Job func(ctx context.Context) error

// Periodic runs a Job on a fixed interval until its context ends.
type Periodic struct {
	name       string
	job        Job
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger
}

// PeriodicConfig configures a periodic job.
type PeriodicConfig struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
}

func NewPeriodic(job Job, cfg PeriodicConfig, logger *zap.Logger) *Periodic {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}

	return &Periodic{
		name:       cfg.Name,
		job:        job,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		logger:     logger.With(zap.String("job", cfg.Name)),
	}
}

// Start blocks until ctx is done. Runs never overlap: a run that outlasts
// the interval delays the next tick.
func (p *Periodic) Start(ctx context.Context) {
	p.logger.Info("periodic job started", zap.Duration("interval", p.interval))

	if p.runOnStart {
		p.run(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("periodic job stopping")
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *Periodic) run(ctx context.Context) {
	start := time.Now()
	if err := p.job(ctx); err != nil {
		p.logger.Error("periodic job failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}
	p.logger.Info("periodic job finished", zap.Duration("elapsed", time.Since(start)))
}
