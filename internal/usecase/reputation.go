package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

const (
	conflictRetries   = 4
	drainBatchSize    = 100
	queuedMaxAttempts = 10
	trendStreakDays   = 3
)

// ReputationDeps wires the store's collaborators.
type ReputationDeps struct {
	Repository ports.ReputationRepository
	History    ports.HistoryRepository
	Signals    ports.SignalRepository
	Ledger     *Ledger
	Thresholds *ThresholdsCache
	Clock      ports.Clock
	Logger     *slog.Logger

	InitialScore  float64
	QueueCapacity int
	HealthWeights HealthWeights
}

// HealthWeights blends rolling metrics into the snapshot health index.
type HealthWeights struct {
	AvgQuality        float64
	Accuracy          float64
	CrossVerification float64
}

type queuedOutcome struct {
	sourceID string
	outcome  domain.Outcome
	attempts int
}

// ReputationStore owns all per-source reputation state transitions. Updates
// are atomic read-modify-write cycles guarded by a version counter; reads on
// the hot path degrade to a transient default when persistence is down.
type ReputationStore struct {
	repo       ports.ReputationRepository
	history    ports.HistoryRepository
	signals    ports.SignalRepository
	ledger     *Ledger
	thresholds *ThresholdsCache
	clock      ports.Clock
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker

	initialScore  float64
	queueCapacity int
	healthWeights HealthWeights

	mu    sync.Mutex
	queue []queuedOutcome
}

// NewReputationStore constructs the store with a circuit breaker around
// repository reads.
func NewReputationStore(deps ReputationDeps) *ReputationStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reputation-store",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &ReputationStore{
		repo:          deps.Repository,
		history:       deps.History,
		signals:       deps.Signals,
		ledger:        deps.Ledger,
		thresholds:    deps.Thresholds,
		clock:         deps.Clock,
		logger:        deps.Logger,
		breaker:       breaker,
		initialScore:  deps.InitialScore,
		queueCapacity: deps.QueueCapacity,
		healthWeights: deps.HealthWeights,
	}
}

// GetOrCreate returns the reputation for a source, creating a fresh record at
// the configured initial score on first sight. While persistence is
// unavailable it serves a transient default marked Degraded instead of
// failing the hot path.
func (s *ReputationStore) GetOrCreate(ctx context.Context, sourceID string) (domain.SourceReputation, error) {
	if sourceID == "" {
		return domain.SourceReputation{}, fmt.Errorf("%w: empty source id", ports.ErrValidation)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		rep, err := s.repo.Get(ctx, sourceID)
		if errors.Is(err, ports.ErrNotFound) {
			rep = s.newReputation(sourceID)
			if cErr := s.repo.Create(ctx, rep); cErr != nil {
				return nil, cErr
			}
			return rep, nil
		}
		return rep, err
	})
	if err != nil {
		s.logger.Warn("reputation read degraded", "source", sourceID, "error", err)
		return s.transientDefault(sourceID), nil
	}

	return result.(domain.SourceReputation), nil
}

// RecordOutcome folds one filter outcome into the source's reputation. The
// update is retried on version conflict with bounded backoff; when
// persistence stays down the outcome is queued and drained later, never
// silently dropped.
func (s *ReputationStore) RecordOutcome(ctx context.Context, sourceID string, out domain.Outcome) error {
	if sourceID == "" {
		return fmt.Errorf("%w: empty source id", ports.ErrValidation)
	}
	if out.QualityScore < 0 || out.QualityScore > 100 {
		return fmt.Errorf("%w: quality score %v outside [0,100]", ports.ErrValidation, out.QualityScore)
	}

	if err := s.applyWithRetry(ctx, sourceID, out); err != nil {
		s.logger.Warn("outcome write queued", "source", sourceID, "error", err)
		s.enqueue(ctx, queuedOutcome{sourceID: sourceID, outcome: out})
	}
	return nil
}

func (s *ReputationStore) applyWithRetry(ctx context.Context, sourceID string, out domain.Outcome) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), conflictRetries), ctx)

	return backoff.Retry(func() error {
		err := s.applyOnce(ctx, sourceID, out)
		if errors.Is(err, ports.ErrVersionConflict) {
			return err // transient, retry
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
}

func (s *ReputationStore) applyOnce(ctx context.Context, sourceID string, out domain.Outcome) error {
	rep, err := s.repo.Get(ctx, sourceID)
	if errors.Is(err, ports.ErrNotFound) {
		rep = s.newReputation(sourceID)
		if cErr := s.repo.Create(ctx, rep); cErr != nil {
			return cErr
		}
	} else if err != nil {
		return err
	}

	th := s.thresholds.Current()
	version := rep.Version
	rep.ApplyOutcome(out, th.BoostRate, th.PenaltyRate, th.MinArticleQuality, s.clock.Now())

	return s.repo.Update(ctx, rep, version)
}

// ApplyDailyDecay runs the once-per-day evaluation: silent sources lose
// DecayRate, trend streaks are updated from the day's mean accepted quality,
// and sources past the poor-day limit are deactivated unless a manual
// override is in effect.
func (s *ReputationStore) ApplyDailyDecay(ctx context.Context) error {
	reps, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sources: %w", err)
	}

	now := s.clock.Now()
	var failed int
	for _, rep := range reps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sameDay(rep.LastEvaluatedAt, now) {
			continue
		}
		if err := s.evaluateDay(ctx, rep.SourceID, now); err != nil {
			failed++
			s.logger.Warn("daily evaluation failed", "source", rep.SourceID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("daily evaluation failed for %d sources", failed)
	}
	return nil
}

func (s *ReputationStore) evaluateDay(ctx context.Context, sourceID string, now time.Time) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), conflictRetries), ctx)

	return backoff.Retry(func() error {
		rep, err := s.repo.Get(ctx, sourceID)
		if err != nil {
			return backoff.Permanent(err)
		}

		th := s.thresholds.Current()
		version := rep.Version

		// Decay applies only when nothing was scored since the last
		// evaluation. The accumulators cover the whole elapsed period, so a
		// run shortly after midnight still credits yesterday's activity.
		if rep.TodayArticleCount == 0 {
			rep.ReputationScore = maxFloat(0, rep.ReputationScore-th.DecayRate)
			rep.Tier = domain.TierForScore(rep.ReputationScore)
		}

		// Trend streaks move only on days that actually saw articles. A day
		// whose kept-article quality mean clears the warning line counts as
		// a quality day; anything else, including an all-rejected day, is a
		// poor day.
		if rep.TodayArticleCount > 0 {
			qualityDay := false
			if rep.TodayAcceptedCount > 0 {
				qualityDay = rep.TodayQualitySum/float64(rep.TodayAcceptedCount) >= th.WarningQuality
			}
			if qualityDay {
				rep.ConsecutiveQualityDays++
				rep.ConsecutivePoorDays = 0
			} else {
				rep.ConsecutivePoorDays++
				rep.ConsecutiveQualityDays = 0
			}
		}
		rep.IsImproving = rep.ConsecutiveQualityDays >= trendStreakDays
		rep.IsDeclining = rep.ConsecutivePoorDays >= trendStreakDays

		if rep.ConsecutivePoorDays >= th.MaxConsecutivePoorDays && !rep.Override.InEffect(now) {
			rep.IsActive = false
			s.logger.Info("source deactivated", "source", sourceID, "poorDays", rep.ConsecutivePoorDays)
		}

		rep.TodayQualitySum = 0
		rep.TodayAcceptedCount = 0
		rep.TodayArticleCount = 0
		rep.LastEvaluatedAt = now
		rep.UpdatedAt = now

		err = s.repo.Update(ctx, rep, version)
		if errors.Is(err, ports.ErrVersionConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
}

// SetOverride pins a source's active state until the given deadline. While
// the override is in effect automatic deactivation is suspended; the score
// keeps updating for audit purposes. The change is logged as a manual event.
func (s *ReputationStore) SetOverride(ctx context.Context, sourceID string, active bool, until time.Time, reason, actor string) error {
	if sourceID == "" {
		return fmt.Errorf("%w: empty source id", ports.ErrValidation)
	}

	rep, err := s.repo.Get(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("load source %s: %w", sourceID, err)
	}

	oldActive := boolToFloat(rep.IsActive)
	version := rep.Version
	rep.IsActive = active
	rep.Override = domain.ManualOverride{Active: true, Reason: reason, By: actor, Until: until}
	rep.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, rep, version); err != nil {
		return fmt.Errorf("apply override for %s: %w", sourceID, err)
	}

	_, err = s.ledger.Record(ctx, Change{
		EntityID:   sourceID,
		Parameter:  "is_active",
		OldValue:   oldActive,
		NewValue:   boolToFloat(active),
		Reason:     fmt.Sprintf("manual override by %s: %s", actor, reason),
		Type:       domain.ChangeManual,
		Confidence: 1.0,
		Applied:    true,
	})
	return err
}

// SnapshotAll writes one immutable history snapshot per active source.
func (s *ReputationStore) SnapshotAll(ctx context.Context) error {
	reps, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sources: %w", err)
	}

	now := s.clock.Now()
	day := now.Truncate(24 * time.Hour)
	var failed int
	for _, rep := range reps {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		prevScore := rep.ReputationScore
		prevTier := rep.Tier
		if prev, pErr := s.history.Latest(ctx, rep.SourceID); pErr == nil {
			prevScore = prev.ReputationScore
			prevTier = prev.Tier
		}

		snap := domain.ReputationHistorySnapshot{
			SourceID:        rep.SourceID,
			SnapshotDate:    day,
			ReputationScore: rep.ReputationScore,
			Tier:            rep.Tier,
			AvgQualityScore: rep.AvgQualityScore,
			AcceptanceRate:  rep.AcceptanceRate,
			TotalArticles:   rep.TotalArticles,
			ScoreChange:     rep.ReputationScore - prevScore,
			TierChanged:     rep.Tier != prevTier,
			HealthIndex:     s.healthIndex(rep),
			CreatedAt:       now,
		}
		if err := s.history.SaveSnapshot(ctx, snap); err != nil {
			failed++
			s.logger.Warn("snapshot failed", "source", rep.SourceID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("snapshot failed for %d sources", failed)
	}
	return nil
}

func (s *ReputationStore) healthIndex(rep domain.SourceReputation) float64 {
	w := s.healthWeights
	return w.AvgQuality*(rep.AvgQualityScore/100) +
		w.Accuracy*rep.AccuracyRate +
		w.CrossVerification*rep.CrossVerificationRate
}

// DrainQueue retries queued outcome writes, pulling any spilled signals back
// from persistence first.
func (s *ReputationStore) DrainQueue(ctx context.Context) error {
	if s.signals != nil {
		spilled, err := s.signals.TakeBatch(ctx, drainBatchSize)
		if err != nil && !errors.Is(err, ports.ErrUnavailable) {
			s.logger.Warn("loading spilled signals failed", "error", err)
		}
		for _, sig := range spilled {
			s.enqueue(ctx, queuedOutcome{
				sourceID: sig.SourceID,
				outcome:  domain.Outcome{QualityScore: sig.Quality, Accepted: sig.Accepted, Flagged: sig.Flagged},
				attempts: sig.Attempts,
			})
		}
	}

	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, item := range pending {
		if ctx.Err() != nil {
			s.requeue(pending)
			return ctx.Err()
		}
		if err := s.applyWithRetry(ctx, item.sourceID, item.outcome); err != nil {
			item.attempts++
			if item.attempts >= queuedMaxAttempts {
				s.logger.Error("queued outcome dropped after max attempts", "source", item.sourceID)
				continue
			}
			s.enqueue(ctx, item)
		}
	}
	return nil
}

func (s *ReputationStore) enqueue(ctx context.Context, item queuedOutcome) {
	s.mu.Lock()
	if len(s.queue) < s.queueCapacity {
		s.queue = append(s.queue, item)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Queue full: spill to persistence so the outcome survives the process.
	if s.signals == nil {
		s.logger.Error("outcome queue full, signal spill unavailable", "source", item.sourceID)
		return
	}
	sig := domain.FeedbackSignal{
		ID:       uuid.NewString(),
		SourceID: item.sourceID,
		Quality:  item.outcome.QualityScore,
		Accepted: item.outcome.Accepted,
		Flagged:  item.outcome.Flagged,
		QueuedAt: s.clock.Now(),
		Attempts: item.attempts,
	}
	if err := s.signals.Save(ctx, sig); err != nil {
		s.logger.Error("signal spill failed", "source", item.sourceID, "error", err)
	}
}

func (s *ReputationStore) requeue(items []queuedOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.queueCapacity - len(s.queue)
	if room > len(items) {
		room = len(items)
	}
	if room > 0 {
		s.queue = append(s.queue, items[:room]...)
	}
}

// QueueDepth reports how many outcome writes are waiting for persistence.
func (s *ReputationStore) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *ReputationStore) newReputation(sourceID string) domain.SourceReputation {
	now := s.clock.Now()
	return domain.SourceReputation{
		SourceID:        sourceID,
		ReputationScore: s.initialScore,
		Tier:            domain.TierForScore(s.initialScore),
		IsActive:        true,
		Version:         1, // matches the version Create persists
		CreatedAt:       now,
		UpdatedAt:       now,
		LastEvaluatedAt: now,
	}
}

func (s *ReputationStore) transientDefault(sourceID string) domain.SourceReputation {
	now := s.clock.Now()
	return domain.SourceReputation{
		SourceID:        sourceID,
		ReputationScore: 0.75,
		Tier:            domain.TierGold,
		IsActive:        true,
		UpdatedAt:       now,
		Degraded:        true,
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
