package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"IngestTuner/internal/ports"
)

// JobSpecs holds the cron expressions for the periodic control jobs.
type JobSpecs struct {
	Decay    string
	Snapshot string
	Learning string
	Optimize string
	Drain    string
}

// Jobs wires the cron driver to the periodic control loops. Failed runs log
// and skip to the next scheduled attempt; they never crash the process.
type Jobs struct {
	driver    ports.Scheduler
	store     *ReputationStore
	learner   *Learner
	optimizer *ScheduleOptimizer
	specs     JobSpecs
	logger    *slog.Logger
}

// NewJobs returns a helper to start/stop the recurring control jobs.
func NewJobs(driver ports.Scheduler, store *ReputationStore, learner *Learner, optimizer *ScheduleOptimizer, specs JobSpecs, logger *slog.Logger) *Jobs {
	return &Jobs{
		driver:    driver,
		store:     store,
		learner:   learner,
		optimizer: optimizer,
		specs:     specs,
		logger:    logger,
	}
}

// Start registers every job with the provided scheduler and starts it.
func (j *Jobs) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"daily-decay", j.specs.Decay, j.store.ApplyDailyDecay},
		{"reputation-snapshot", j.specs.Snapshot, j.store.SnapshotAll},
		{"learning-cycle", j.specs.Learning, j.runLearning},
		{"schedule-optimization", j.specs.Optimize, j.runOptimization},
		{"queue-drain", j.specs.Drain, j.store.DrainQueue},
	}

	for _, job := range jobs {
		job := job
		err := j.driver.Schedule(job.spec, func(runCtx context.Context) {
			if err := job.run(runCtx); err != nil {
				j.logger.Warn("scheduled job failed", "job", job.name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
	}

	j.driver.Start()
	return nil
}

// Stop gracefully tears down the underlying scheduler.
func (j *Jobs) Stop(ctx context.Context) error {
	return j.driver.Stop(ctx)
}

func (j *Jobs) runLearning(ctx context.Context) error {
	events, err := j.learner.RunLearningCycle(ctx, false)
	if err != nil {
		return err
	}
	j.logger.Info("learning cycle finished", "proposals", len(events))
	return nil
}

func (j *Jobs) runOptimization(ctx context.Context) error {
	recs, err := j.optimizer.Optimize(ctx)
	if err != nil {
		return err
	}
	applied, failed, err := j.optimizer.Apply(ctx, recs, false)
	if err != nil {
		return err
	}
	j.logger.Info("schedule optimization finished", "recommended", len(recs), "applied", applied, "failed", failed)
	return nil
}
