package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// minCycleSamples is the smallest window a non-forced cycle will learn from.
const minCycleSamples = 25

// LearnerSettings bounds every parameter proposal the learner can make.
type LearnerSettings struct {
	Enforcing bool

	WindowSize int
	WindowAge  time.Duration

	MinTimeoutMS, MaxTimeoutMS     int
	MinRetries, MaxRetries         int
	MinConcurrency, MaxConcurrency int
	MinBatchSize, MaxBatchSize     int

	ErrorCeiling    float64
	ConfidenceFloor float64
	ConfidenceK     int64
	PatternFloor    float64
}

// DefaultParameters are the operational settings used before anything has
// been learned for an entity.
func (s LearnerSettings) DefaultParameters() domain.OptimalParameters {
	return domain.OptimalParameters{
		TimeoutMS:   clampInt(30000, s.MinTimeoutMS, s.MaxTimeoutMS),
		RetryCount:  clampInt(2, s.MinRetries, s.MaxRetries),
		Concurrency: clampInt(4, s.MinConcurrency, s.MaxConcurrency),
		BatchSize:   clampInt(20, s.MinBatchSize, s.MaxBatchSize),
	}
}

type entityKey struct {
	id  string
	typ domain.EntityType
}

type telemetryWindow struct {
	mu      sync.Mutex
	samples []domain.TelemetrySample
}

// Learner aggregates rolling per-entity telemetry and proposes operational
// parameter changes through the tuning ledger. Proposals below the confidence
// floor are recorded as advisory; confident ones are applied when the learner
// runs in enforcing mode.
type Learner struct {
	profiles ports.ProfileRepository
	ledger   *Ledger
	settings LearnerSettings
	clock    ports.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	windows map[entityKey]*telemetryWindow

	// cycleMu keeps two learning cycles from racing each other; per-entity
	// window locks keep recording and learning consistent per entity.
	cycleMu sync.Mutex
}

// NewLearner constructs the performance learner.
func NewLearner(profiles ports.ProfileRepository, ledger *Ledger, settings LearnerSettings, clock ports.Clock, logger *slog.Logger) *Learner {
	return &Learner{
		profiles: profiles,
		ledger:   ledger,
		settings: settings,
		clock:    clock,
		logger:   logger,
		windows:  map[entityKey]*telemetryWindow{},
	}
}

// RecordScrapeResult appends one scrape attempt to the entity's window.
func (l *Learner) RecordScrapeResult(entityID string, entityType domain.EntityType, sample domain.TelemetrySample) {
	l.record(entityID, entityType, sample)
}

// RecordValidationResult appends one validation attempt to the entity's window.
func (l *Learner) RecordValidationResult(entityID string, entityType domain.EntityType, sample domain.TelemetrySample) {
	l.record(entityID, entityType, sample)
}

func (l *Learner) record(entityID string, entityType domain.EntityType, sample domain.TelemetrySample) {
	if entityID == "" {
		return
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = l.clock.Now()
	}

	w := l.window(entityKey{id: entityID, typ: entityType})
	w.mu.Lock()
	w.samples = append(w.samples, sample)
	if over := len(w.samples) - l.settings.WindowSize; over > 0 {
		w.samples = w.samples[over:]
	}
	w.mu.Unlock()
}

func (l *Learner) window(key entityKey) *telemetryWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &telemetryWindow{}
		l.windows[key] = w
	}
	return w
}

// GetOptimalParameters returns the learned settings for an entity, falling
// back to bounded defaults when nothing has been learned yet.
func (l *Learner) GetOptimalParameters(ctx context.Context, entityID string, entityType domain.EntityType) (domain.OptimalParameters, error) {
	profile, err := l.profiles.Get(ctx, entityID, entityType)
	if errors.Is(err, ports.ErrNotFound) {
		return l.settings.DefaultParameters(), nil
	}
	if err != nil {
		return l.settings.DefaultParameters(), fmt.Errorf("load profile %s: %w", entityID, err)
	}
	return profile.Optimal, nil
}

// RunLearningCycle consumes every entity's telemetry window, recomputes its
// profile, and records parameter proposals. The cycle is abortable between
// entities: cancellation never leaves a partially applied proposal set for
// any entity.
func (l *Learner) RunLearningCycle(ctx context.Context, force bool) ([]domain.TuningEvent, error) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	metrics := domain.LearningMetrics{
		ID:             uuid.NewString(),
		CycleStartedAt: l.clock.Now(),
	}

	l.mu.Lock()
	keys := make([]entityKey, 0, len(l.windows))
	for key := range l.windows {
		keys = append(keys, key)
	}
	l.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })

	var events []domain.TuningEvent
	var cycleErr error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			metrics.Aborted = true
			cycleErr = err
			break
		}

		applied, proposed, err := l.learnEntity(ctx, key, force)
		if err != nil {
			l.logger.Warn("learning skipped for entity", "entity", key.id, "error", err)
			continue
		}
		if proposed == nil {
			continue
		}
		metrics.EntitiesSeen++
		metrics.ProposalsTotal += len(proposed)
		metrics.ProposalsApplied += applied
		events = append(events, proposed...)
	}

	metrics.CycleFinishedAt = l.clock.Now()
	if err := l.profiles.SaveMetrics(ctx, metrics); err != nil {
		l.logger.Warn("learning metrics save failed", "error", err)
	}

	return events, cycleErr
}

// learnEntity recomputes one entity's profile and either applies or records
// its proposals as a unit. Returns nil proposals when the window was too thin.
func (l *Learner) learnEntity(ctx context.Context, key entityKey, force bool) (applied int, proposed []domain.TuningEvent, err error) {
	w := l.window(key)
	w.mu.Lock()
	samples := l.trimStale(w.samples)
	if !force && len(samples) < minCycleSamples {
		w.samples = samples
		w.mu.Unlock()
		return 0, nil, nil
	}
	w.samples = nil // window consumed by this cycle
	w.mu.Unlock()
	if len(samples) == 0 {
		return 0, nil, nil
	}
	// A failed cycle must not cost the entity its telemetry: put the window
	// back so the next cycle can learn from it.
	defer func() {
		if err != nil {
			l.restore(key, samples)
		}
	}()

	prev, err := l.profiles.Get(ctx, key.id, key.typ)
	if errors.Is(err, ports.ErrNotFound) {
		prev = domain.PerformanceProfile{
			EntityID:   key.id,
			EntityType: key.typ,
			Optimal:    l.settings.DefaultParameters(),
		}
	} else if err != nil {
		return 0, nil, fmt.Errorf("load profile: %w", err)
	}

	profile := l.buildProfile(key, prev, samples)
	confidence := profile.Confidence(l.settings.ConfidenceK)
	enforce := l.settings.Enforcing && confidence >= l.settings.ConfidenceFloor

	for _, p := range l.proposals(profile, prev) {
		event, rErr := l.ledger.Record(ctx, Change{
			EntityID:   key.id,
			Parameter:  p.name,
			OldValue:   float64(p.old),
			NewValue:   float64(p.new),
			Reason:     p.reason,
			Type:       domain.ChangeAuto,
			Confidence: confidence,
			Applied:    enforce,
		})
		if rErr != nil {
			return applied, proposed, fmt.Errorf("record proposal %s: %w", p.name, rErr)
		}
		proposed = append(proposed, event)
		if enforce {
			p.apply(&profile.Optimal)
			applied++
		}
	}
	if !enforce {
		profile.Optimal = prev.Optimal
	}

	if err := l.profiles.Save(ctx, profile); err != nil {
		return applied, proposed, fmt.Errorf("save profile: %w", err)
	}

	l.reportPatterns(ctx, key, profile)
	return applied, proposed, nil
}

// restore prepends consumed samples back onto the entity's window, keeping
// anything recorded in the meantime and the usual size bound.
func (l *Learner) restore(key entityKey, samples []domain.TelemetrySample) {
	w := l.window(key)
	w.mu.Lock()
	w.samples = append(samples, w.samples...)
	if over := len(w.samples) - l.settings.WindowSize; over > 0 {
		w.samples = w.samples[over:]
	}
	w.mu.Unlock()
}

func (l *Learner) trimStale(samples []domain.TelemetrySample) []domain.TelemetrySample {
	cutoff := l.clock.Now().Add(-l.settings.WindowAge)
	kept := samples[:0]
	for _, s := range samples {
		if s.ObservedAt.After(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}

func (l *Learner) buildProfile(key entityKey, prev domain.PerformanceProfile, samples []domain.TelemetrySample) domain.PerformanceProfile {
	profile := domain.PerformanceProfile{
		EntityID:      key.id,
		EntityType:    key.typ,
		Optimal:       prev.Optimal,
		SampleCount:   prev.SampleCount + int64(len(samples)),
		HourlySuccess: prev.HourlySuccess,
		UpdatedAt:     l.clock.Now(),
	}

	latencies := make([]float64, 0, len(samples))
	var successes, retried, recovered int
	var timeouts, rateLimits, serverErrors int
	first, last := samples[0].ObservedAt, samples[0].ObservedAt

	for _, s := range samples {
		latencies = append(latencies, s.LatencyMS)
		if s.Success {
			successes++
			profile.HourlySuccess[s.ObservedAt.UTC().Hour()]++
		}
		if s.Retried {
			retried++
			if s.RecoveredByRetry {
				recovered++
			}
		}
		switch s.Failure {
		case domain.FailureTimeout:
			timeouts++
		case domain.FailureRateLimit:
			rateLimits++
		case domain.FailureServerError:
			serverErrors++
		}
		if s.ObservedAt.Before(first) {
			first = s.ObservedAt
		}
		if s.ObservedAt.After(last) {
			last = s.ObservedAt
		}
	}

	n := float64(len(samples))
	sort.Float64s(latencies)
	var sum float64
	for _, v := range latencies {
		sum += v
	}
	profile.AvgResponseMS = sum / n
	profile.P95ResponseMS = percentile(latencies, 0.95)
	profile.P99ResponseMS = percentile(latencies, 0.99)
	profile.SuccessRate = float64(successes) / n
	if retried > 0 {
		profile.RetrySuccessRate = float64(recovered) / float64(retried)
	}
	profile.TimeoutRate = float64(timeouts) / n
	profile.RateLimitRate = float64(rateLimits) / n
	profile.ServerErrorRate = float64(serverErrors) / n

	spanMinutes := last.Sub(first).Minutes()
	if spanMinutes < 1 {
		spanMinutes = 1
	}
	profile.Throughput = float64(successes) / spanMinutes

	return profile
}

type proposal struct {
	name   string
	old    int
	new    int
	reason string
	apply  func(*domain.OptimalParameters)
}

// proposals derives candidate parameter changes from the fresh profile
// against the currently applied settings.
func (l *Learner) proposals(profile, prev domain.PerformanceProfile) []proposal {
	s := l.settings
	cur := prev.Optimal
	var out []proposal

	// Timeout tracks tail latency with headroom.
	wantTimeout := clampInt(int(math.Round(profile.P99ResponseMS*1.5)), s.MinTimeoutMS, s.MaxTimeoutMS)
	if wantTimeout != cur.TimeoutMS {
		v := wantTimeout
		out = append(out, proposal{
			name: "timeout_ms", old: cur.TimeoutMS, new: v,
			reason: fmt.Sprintf("p99 latency %.0fms x1.5", profile.P99ResponseMS),
			apply:  func(p *domain.OptimalParameters) { p.TimeoutMS = v },
		})
	}

	// Retries shrink when they rarely help and grow when transient failures
	// are common and retrying does help.
	transientRate := profile.TimeoutRate + profile.RateLimitRate + profile.ServerErrorRate
	if transientRate > 0 && profile.RetrySuccessRate < 0.2 && cur.RetryCount > s.MinRetries {
		v := cur.RetryCount - 1
		out = append(out, proposal{
			name: "retry_count", old: cur.RetryCount, new: v,
			reason: fmt.Sprintf("retry success rate %.2f, retries rarely help", profile.RetrySuccessRate),
			apply:  func(p *domain.OptimalParameters) { p.RetryCount = v },
		})
	} else if transientRate > 0.2 && profile.RetrySuccessRate >= 0.5 && cur.RetryCount < s.MaxRetries {
		v := cur.RetryCount + 1
		out = append(out, proposal{
			name: "retry_count", old: cur.RetryCount, new: v,
			reason: fmt.Sprintf("transient failure rate %.2f with retry success %.2f", transientRate, profile.RetrySuccessRate),
			apply:  func(p *domain.OptimalParameters) { p.RetryCount = v },
		})
	}

	// Concurrency and batch size hill-climb toward throughput, bounded to a
	// quarter step per cycle so the loop cannot oscillate.
	errRate := 1 - profile.SuccessRate
	climbing := errRate <= s.ErrorCeiling && profile.Throughput >= prev.Throughput
	reason := fmt.Sprintf("throughput %.2f/min vs %.2f/min, error rate %.2f", profile.Throughput, prev.Throughput, errRate)

	wantConc := clampInt(quarterStep(cur.Concurrency, climbing), s.MinConcurrency, s.MaxConcurrency)
	if wantConc != cur.Concurrency {
		v := wantConc
		out = append(out, proposal{
			name: "concurrency", old: cur.Concurrency, new: v, reason: reason,
			apply: func(p *domain.OptimalParameters) { p.Concurrency = v },
		})
	}

	wantBatch := clampInt(quarterStep(cur.BatchSize, climbing), s.MinBatchSize, s.MaxBatchSize)
	if wantBatch != cur.BatchSize {
		v := wantBatch
		out = append(out, proposal{
			name: "batch_size", old: cur.BatchSize, new: v, reason: reason,
			apply: func(p *domain.OptimalParameters) { p.BatchSize = v },
		})
	}

	return out
}

func (l *Learner) reportPatterns(ctx context.Context, key entityKey, profile domain.PerformanceProfile) {
	for category, rate := range map[domain.FailureCategory]float64{
		domain.FailureTimeout:     profile.TimeoutRate,
		domain.FailureRateLimit:   profile.RateLimitRate,
		domain.FailureServerError: profile.ServerErrorRate,
	} {
		if rate < l.settings.PatternFloor {
			continue
		}
		pattern := domain.QualityPattern{
			ID:         uuid.NewString(),
			EntityID:   key.id,
			EntityType: key.typ,
			Category:   category,
			Rate:       rate,
			Samples:    profile.SampleCount,
			DetectedAt: l.clock.Now(),
		}
		if err := l.profiles.UpsertPattern(ctx, pattern); err != nil {
			l.logger.Warn("pattern upsert failed", "entity", key.id, "category", category, "error", err)
		}
	}
}

// quarterStep moves a value by at most 25% in the given direction, always by
// at least one unit.
func quarterStep(v int, up bool) int {
	step := v / 4
	if step < 1 {
		step = 1
	}
	if up {
		return v + step
	}
	return v - step
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// percentile expects sorted values and uses the nearest-rank method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
