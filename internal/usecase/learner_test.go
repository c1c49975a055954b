package usecase

import (
	"context"
	"testing"
	"time"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

func testLearnerSettings(enforcing bool) LearnerSettings {
	return LearnerSettings{
		Enforcing:       enforcing,
		WindowSize:      500,
		WindowAge:       4 * time.Hour,
		MinTimeoutMS:    1000,
		MaxTimeoutMS:    120000,
		MinRetries:      0,
		MaxRetries:      5,
		MinConcurrency:  1,
		MaxConcurrency:  16,
		MinBatchSize:    1,
		MaxBatchSize:    200,
		ErrorCeiling:    0.15,
		ConfidenceFloor: 0.5,
		ConfidenceK:     50,
		PatternFloor:    0.25,
	}
}

func newTestLearner(enforcing bool) (*Learner, *memProfileRepo, *memTuningRepo, *fakeClock) {
	clock := newFakeClock(time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC))
	profiles := newMemProfileRepo()
	tuning := &memTuningRepo{}
	ledger := NewLedger(tuning, clock, discardLogger())
	learner := NewLearner(profiles, ledger, testLearnerSettings(enforcing), clock, discardLogger())
	return learner, profiles, tuning, clock
}

// feedSamples records count samples spaced 30 seconds apart ending now.
func feedSamples(l *Learner, clock *fakeClock, entity string, count int, build func(i int) domain.TelemetrySample) {
	base := clock.Now().Add(-time.Duration(count) * 30 * time.Second)
	for i := 0; i < count; i++ {
		s := build(i)
		s.ObservedAt = base.Add(time.Duration(i) * 30 * time.Second)
		l.RecordScrapeResult(entity, domain.EntityScraper, s)
	}
}

func TestLearnerTimeoutTracksTailLatency(t *testing.T) {
	t.Parallel()

	learner, profiles, _, clock := newTestLearner(true)
	ctx := context.Background()

	feedSamples(learner, clock, "scraper-1", 100, func(int) domain.TelemetrySample {
		return domain.TelemetrySample{Success: true, LatencyMS: 2000}
	})

	events, err := learner.RunLearningCycle(ctx, false)
	if err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}

	var timeout *domain.TuningEvent
	for i := range events {
		if events[i].ParameterName == "timeout_ms" {
			timeout = &events[i]
		}
	}
	if timeout == nil {
		t.Fatalf("expected a timeout proposal, got %+v", events)
	}
	// p99 of a flat 2000ms window times 1.5.
	if timeout.OldValue != 30000 || timeout.NewValue != 3000 {
		t.Fatalf("unexpected timeout proposal: old=%v new=%v", timeout.OldValue, timeout.NewValue)
	}
	if !timeout.Applied || timeout.ChangeType != domain.ChangeAuto {
		t.Fatalf("confident enforcing proposal should be applied: %+v", timeout)
	}

	// 100 samples against K=50 is comfortably past the confidence floor.
	if timeout.Confidence < 0.5 {
		t.Fatalf("expected confidence at or above the floor, got %v", timeout.Confidence)
	}

	params, err := learner.GetOptimalParameters(ctx, "scraper-1", domain.EntityScraper)
	if err != nil {
		t.Fatalf("GetOptimalParameters: %v", err)
	}
	if params.TimeoutMS != 3000 {
		t.Fatalf("applied timeout not visible: %+v", params)
	}

	profile, err := profiles.Get(ctx, "scraper-1", domain.EntityScraper)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.SuccessRate != 1.0 || profile.P99ResponseMS != 2000 {
		t.Fatalf("profile stats wrong: %+v", profile)
	}
}

func TestLearnerHillClimbsConcurrencyAndBatch(t *testing.T) {
	t.Parallel()

	learner, _, tuning, clock := newTestLearner(true)
	ctx := context.Background()

	feedSamples(learner, clock, "scraper-1", 100, func(int) domain.TelemetrySample {
		return domain.TelemetrySample{Success: true, LatencyMS: 500}
	})
	if _, err := learner.RunLearningCycle(ctx, false); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}

	conc := tuning.byParameter("scraper-1", "concurrency")
	if len(conc) != 1 || conc[0].OldValue != 4 || conc[0].NewValue != 5 {
		t.Fatalf("expected concurrency 4 -> 5, got %+v", conc)
	}
	batch := tuning.byParameter("scraper-1", "batch_size")
	if len(batch) != 1 || batch[0].OldValue != 20 || batch[0].NewValue != 25 {
		t.Fatalf("expected batch 20 -> 25, got %+v", batch)
	}
}

func TestLearnerBacksOffAboveErrorCeiling(t *testing.T) {
	t.Parallel()

	learner, _, tuning, clock := newTestLearner(true)
	ctx := context.Background()

	// 20% failures sits above the 15% ceiling, so the hill-climb reverses.
	feedSamples(learner, clock, "scraper-1", 100, func(i int) domain.TelemetrySample {
		if i%5 == 0 {
			return domain.TelemetrySample{LatencyMS: 900, Failure: domain.FailureServerError}
		}
		return domain.TelemetrySample{Success: true, LatencyMS: 500}
	})
	if _, err := learner.RunLearningCycle(ctx, false); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}

	conc := tuning.byParameter("scraper-1", "concurrency")
	if len(conc) != 1 || conc[0].NewValue != 3 {
		t.Fatalf("expected concurrency step down to 3, got %+v", conc)
	}
	batch := tuning.byParameter("scraper-1", "batch_size")
	if len(batch) != 1 || batch[0].NewValue != 15 {
		t.Fatalf("expected batch step down to 15, got %+v", batch)
	}
}

func TestLearnerShedsUselessRetries(t *testing.T) {
	t.Parallel()

	learner, _, tuning, clock := newTestLearner(true)
	ctx := context.Background()

	// Timeouts are retried but never recover.
	feedSamples(learner, clock, "scraper-1", 100, func(i int) domain.TelemetrySample {
		if i%10 == 0 {
			return domain.TelemetrySample{LatencyMS: 5000, Failure: domain.FailureTimeout, Retried: true}
		}
		return domain.TelemetrySample{Success: true, LatencyMS: 500}
	})
	if _, err := learner.RunLearningCycle(ctx, false); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}

	retries := tuning.byParameter("scraper-1", "retry_count")
	if len(retries) != 1 || retries[0].OldValue != 2 || retries[0].NewValue != 1 {
		t.Fatalf("expected retry count 2 -> 1, got %+v", retries)
	}
}

func TestLearnerGrowsHelpfulRetries(t *testing.T) {
	t.Parallel()

	learner, _, tuning, clock := newTestLearner(true)
	ctx := context.Background()

	// Retried 40, recovered 10: a 0.25 recovery rate sits between the shed
	// and grow bands, so nothing moves.
	feedSamples(learner, clock, "scraper-1", 100, func(i int) domain.TelemetrySample {
		switch {
		case i%10 < 3:
			return domain.TelemetrySample{LatencyMS: 3000, Failure: domain.FailureTimeout, Retried: true}
		case i%10 < 4:
			return domain.TelemetrySample{Success: true, LatencyMS: 800, Retried: true, RecoveredByRetry: true}
		default:
			return domain.TelemetrySample{Success: true, LatencyMS: 500}
		}
	})
	if _, err := learner.RunLearningCycle(ctx, false); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}

	retries := tuning.byParameter("scraper-1", "retry_count")
	if len(retries) != 0 {
		t.Fatalf("mid-band retry success must not move the knob, got %+v", retries)
	}

	feedSamples(learner, clock, "scraper-2", 100, func(i int) domain.TelemetrySample {
		switch {
		case i%10 < 3:
			return domain.TelemetrySample{LatencyMS: 3000, Failure: domain.FailureTimeout, Retried: true}
		default:
			return domain.TelemetrySample{Success: true, LatencyMS: 500, Retried: true, RecoveredByRetry: true}
		}
	})
	if _, err := learner.RunLearningCycle(ctx, false); err != nil {
		t.Fatalf("second RunLearningCycle: %v", err)
	}

	// 30% transient failures with a 0.7 recovery rate grows the knob.
	retries = tuning.byParameter("scraper-2", "retry_count")
	if len(retries) != 1 || retries[0].OldValue != 2 || retries[0].NewValue != 3 {
		t.Fatalf("expected retry count 2 -> 3, got %+v", retries)
	}
}

func TestLearnerAdvisoryModeRecordsWithoutApplying(t *testing.T) {
	t.Parallel()

	learner, profiles, _, clock := newTestLearner(false)
	ctx := context.Background()

	feedSamples(learner, clock, "scraper-1", 100, func(int) domain.TelemetrySample {
		return domain.TelemetrySample{Success: true, LatencyMS: 2000}
	})
	events, err := learner.RunLearningCycle(ctx, false)
	if err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("advisory mode must still record proposals")
	}
	for _, e := range events {
		if e.Applied {
			t.Fatalf("advisory proposal marked applied: %+v", e)
		}
	}

	profile, err := profiles.Get(ctx, "scraper-1", domain.EntityScraper)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	defaults := testLearnerSettings(false).DefaultParameters()
	if profile.Optimal != defaults {
		t.Fatalf("advisory mode must not change applied parameters: %+v", profile.Optimal)
	}
}

func TestLearnerSkipsThinWindowsUnlessForced(t *testing.T) {
	t.Parallel()

	learner, _, _, clock := newTestLearner(true)
	ctx := context.Background()

	feedSamples(learner, clock, "scraper-1", 10, func(int) domain.TelemetrySample {
		return domain.TelemetrySample{Success: true, LatencyMS: 700}
	})

	events, err := learner.RunLearningCycle(ctx, false)
	if err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("thin window should not produce proposals, got %+v", events)
	}

	// The window survives the skipped cycle and a forced run consumes it.
	events, err = learner.RunLearningCycle(ctx, true)
	if err != nil {
		t.Fatalf("forced RunLearningCycle: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("forced cycle should learn from the thin window")
	}
}

func TestLearnerCycleAbortsOnCancellation(t *testing.T) {
	t.Parallel()

	learner, profiles, _, clock := newTestLearner(true)

	feedSamples(learner, clock, "scraper-1", 100, func(int) domain.TelemetrySample {
		return domain.TelemetrySample{Success: true, LatencyMS: 700}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := learner.RunLearningCycle(ctx, false)
	if err == nil {
		t.Fatalf("cancelled cycle should return the context error")
	}

	if len(profiles.metrics) != 1 || !profiles.metrics[0].Aborted {
		t.Fatalf("aborted cycle should still record metrics: %+v", profiles.metrics)
	}
}

func TestLearnerReportsFailurePatterns(t *testing.T) {
	t.Parallel()

	learner, profiles, _, clock := newTestLearner(true)
	ctx := context.Background()

	// 30% rate limiting clears the 25% pattern floor.
	feedSamples(learner, clock, "scraper-1", 100, func(i int) domain.TelemetrySample {
		if i%10 < 3 {
			return domain.TelemetrySample{LatencyMS: 400, Failure: domain.FailureRateLimit}
		}
		return domain.TelemetrySample{Success: true, LatencyMS: 400}
	})
	if _, err := learner.RunLearningCycle(ctx, false); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}

	key := entityKey{id: "scraper-1", typ: domain.EntityScraper}
	pattern, ok := profiles.patterns[key][domain.FailureRateLimit]
	if !ok {
		t.Fatalf("expected a rate-limit pattern, got %+v", profiles.patterns[key])
	}
	if pattern.Rate != 0.3 {
		t.Fatalf("expected pattern rate 0.3, got %v", pattern.Rate)
	}
	if _, ok := profiles.patterns[key][domain.FailureTimeout]; ok {
		t.Fatalf("zero-rate category must not be reported")
	}
}

func TestLearnerKeepsWindowWhenPersistenceFails(t *testing.T) {
	t.Parallel()

	learner, profiles, _, clock := newTestLearner(true)
	ctx := context.Background()

	feedSamples(learner, clock, "scraper-1", 100, func(int) domain.TelemetrySample {
		return domain.TelemetrySample{Success: true, LatencyMS: 2000}
	})

	profiles.getErr = ports.ErrUnavailable
	events, err := learner.RunLearningCycle(ctx, false)
	if err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("failed cycle must not emit proposals, got %+v", events)
	}

	// The telemetry survives the outage; the next cycle learns from it.
	profiles.getErr = nil
	events, err = learner.RunLearningCycle(ctx, false)
	if err != nil {
		t.Fatalf("second RunLearningCycle: %v", err)
	}
	var timeout bool
	for _, e := range events {
		if e.ParameterName == "timeout_ms" && e.NewValue == 3000 {
			timeout = true
		}
	}
	if !timeout {
		t.Fatalf("retained window should drive the timeout proposal, got %+v", events)
	}
}

func TestLearnerDropsStaleSamples(t *testing.T) {
	t.Parallel()

	learner, _, _, clock := newTestLearner(true)
	ctx := context.Background()

	// All samples predate the window age, so the cycle has nothing to learn.
	for i := 0; i < 100; i++ {
		learner.RecordScrapeResult("scraper-1", domain.EntityScraper, domain.TelemetrySample{
			Success:    true,
			LatencyMS:  700,
			ObservedAt: clock.Now().Add(-5 * time.Hour),
		})
	}

	events, err := learner.RunLearningCycle(ctx, true)
	if err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("stale-only window should produce nothing, got %+v", events)
	}
}
