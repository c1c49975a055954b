package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// ScheduleOptimizer turns reputation and performance signals into bounded
// poll-frequency recommendations and applies them through the tuning ledger.
type ScheduleOptimizer struct {
	schedules ports.ScheduleRepository
	ledger    *Ledger
	logger    *slog.Logger

	minDeltaMinutes int
}

// NewScheduleOptimizer constructs the optimizer.
func NewScheduleOptimizer(schedules ports.ScheduleRepository, ledger *Ledger, minDeltaMinutes int, logger *slog.Logger) *ScheduleOptimizer {
	return &ScheduleOptimizer{
		schedules:       schedules,
		ledger:          ledger,
		logger:          logger,
		minDeltaMinutes: minDeltaMinutes,
	}
}

// Optimize computes frequency recommendations for every scheduled source.
// Only changes of at least the minimum delta are surfaced.
func (o *ScheduleOptimizer) Optimize(ctx context.Context) ([]domain.ScheduleRecommendation, error) {
	schedules, err := o.schedules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	var recs []domain.ScheduleRecommendation
	for _, s := range schedules {
		if ctx.Err() != nil {
			return recs, ctx.Err()
		}
		if rec, ok := recommend(s, o.minDeltaMinutes); ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// Apply writes the recommended frequencies. With dryRun the pass is only
// simulated; otherwise each change lands in the schedule store and the
// ledger. Per-source failures are counted, never fatal.
func (o *ScheduleOptimizer) Apply(ctx context.Context, recs []domain.ScheduleRecommendation, dryRun bool) (applied, failed int, err error) {
	for _, rec := range recs {
		if cErr := ctx.Err(); cErr != nil {
			return applied, failed, cErr
		}
		if dryRun {
			applied++
			continue
		}

		if uErr := o.schedules.UpdateFrequency(ctx, rec.SourceID, rec.RecommendedFrequency); uErr != nil {
			failed++
			o.logger.Warn("frequency update failed", "source", rec.SourceID, "error", uErr)
			continue
		}
		if _, lErr := o.ledger.Record(ctx, Change{
			EntityID:   rec.SourceID,
			Parameter:  "scrape_frequency_minutes",
			OldValue:   float64(rec.CurrentFrequency),
			NewValue:   float64(rec.RecommendedFrequency),
			Reason:     rec.Reason,
			Type:       domain.ChangeAuto,
			Confidence: 1.0,
			Applied:    true,
		}); lErr != nil {
			o.logger.Warn("frequency change not ledgered", "source", rec.SourceID, "error", lErr)
		}
		applied++
	}
	return applied, failed, nil
}

// recommend applies the three frequency rules in fixed order, re-clamping to
// the priority-tier bounds after each step: volume, failure backoff,
// reliability.
func recommend(s domain.SourceSchedule, minDelta int) (domain.ScheduleRecommendation, bool) {
	freq := float64(s.FrequencyMinutes)
	var reasons []string

	switch {
	case s.AvgArticlesPerScrape < 0.5:
		freq *= 1.5
		reasons = append(reasons, fmt.Sprintf("low volume (%.2f articles/scrape)", s.AvgArticlesPerScrape))
	case s.AvgArticlesPerScrape > 5:
		freq *= 0.75
		reasons = append(reasons, fmt.Sprintf("high volume (%.2f articles/scrape)", s.AvgArticlesPerScrape))
	}
	freq = s.Priority.ClampFrequency(freq)

	if s.ConsecutiveFailures >= 3 {
		candidate := float64(s.FrequencyMinutes) * math.Pow(2, float64(s.ConsecutiveFailures-2))
		if candidate > freq {
			freq = candidate
			reasons = append(reasons, fmt.Sprintf("backoff after %d consecutive failures", s.ConsecutiveFailures))
		}
	}
	freq = s.Priority.ClampFrequency(freq)

	if s.ReliabilityScore < 0.5 {
		freq *= 1.5
		reasons = append(reasons, fmt.Sprintf("low reliability (%.2f)", s.ReliabilityScore))
	}
	freq = s.Priority.ClampFrequency(freq)

	recommended := int(math.Round(freq))
	if abs(recommended-s.FrequencyMinutes) < minDelta {
		return domain.ScheduleRecommendation{}, false
	}

	return domain.ScheduleRecommendation{
		SourceID:             s.SourceID,
		CurrentFrequency:     s.FrequencyMinutes,
		RecommendedFrequency: recommended,
		Reason:               strings.Join(reasons, "; "),
	}, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
