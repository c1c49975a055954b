package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"IngestTuner/internal/ports"
)

// CronScheduler drives the periodic control jobs with standard cron specs.
type CronScheduler struct {
	inner *cron.Cron
	ctx   context.Context
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler whose jobs receive the given context.
func NewCronScheduler(ctx context.Context) *CronScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &CronScheduler{inner: cron.New(), ctx: ctx}
}

// Schedule registers a job under a cron spec.
func (c *CronScheduler) Schedule(spec string, job func(context.Context)) error {
	_, err := c.inner.AddFunc(spec, func() {
		if c.ctx.Err() != nil {
			return
		}
		job(c.ctx)
	})
	return err
}

// Start begins dispatching jobs in the background.
func (c *CronScheduler) Start() {
	c.inner.Start()
}

// Stop halts dispatch and waits for running jobs, bounded by ctx.
func (c *CronScheduler) Stop(ctx context.Context) error {
	done := c.inner.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
