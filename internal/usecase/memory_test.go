package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memReputationRepo implements ports.ReputationRepository with version
// checking, plus switches for simulating outages and update conflicts.
type memReputationRepo struct {
	mu        sync.Mutex
	records   map[string]domain.SourceReputation
	getErr    error
	createErr error
	updateErr error
	conflicts int // remaining forced version conflicts on Update
	stale     int // updates rejected because the caller held a stale version
}

func newMemReputationRepo() *memReputationRepo {
	return &memReputationRepo{records: map[string]domain.SourceReputation{}}
}

func (r *memReputationRepo) Get(_ context.Context, sourceID string) (domain.SourceReputation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.SourceReputation{}, r.getErr
	}
	rep, ok := r.records[sourceID]
	if !ok {
		return domain.SourceReputation{}, ports.ErrNotFound
	}
	return rep, nil
}

func (r *memReputationRepo) Create(_ context.Context, rep domain.SourceReputation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	rep.Version = 1
	r.records[rep.SourceID] = rep
	return nil
}

func (r *memReputationRepo) Update(_ context.Context, rep domain.SourceReputation, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if r.conflicts > 0 {
		r.conflicts--
		return ports.ErrVersionConflict
	}
	stored, ok := r.records[rep.SourceID]
	if !ok || stored.Version != expectedVersion {
		r.stale++
		return ports.ErrVersionConflict
	}
	rep.Version = expectedVersion + 1
	r.records[rep.SourceID] = rep
	return nil
}

func (r *memReputationRepo) ListActive(_ context.Context) ([]domain.SourceReputation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	var out []domain.SourceReputation
	for _, rep := range r.records {
		if rep.IsActive {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (r *memReputationRepo) get(sourceID string) domain.SourceReputation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[sourceID]
}

func (r *memReputationRepo) put(rep domain.SourceReputation) {
	r.mu.Lock()
	if rep.Version == 0 {
		rep.Version = 1
	}
	r.records[rep.SourceID] = rep
	r.mu.Unlock()
}

type memHistoryRepo struct {
	mu    sync.Mutex
	snaps map[string][]domain.ReputationHistorySnapshot
}

func newMemHistoryRepo() *memHistoryRepo {
	return &memHistoryRepo{snaps: map[string][]domain.ReputationHistorySnapshot{}}
}

func (r *memHistoryRepo) SaveSnapshot(_ context.Context, snap domain.ReputationHistorySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.snaps[snap.SourceID] {
		if existing.SnapshotDate.Equal(snap.SnapshotDate) {
			return nil // duplicate day, keep the first write
		}
	}
	r.snaps[snap.SourceID] = append(r.snaps[snap.SourceID], snap)
	return nil
}

func (r *memHistoryRepo) Latest(_ context.Context, sourceID string) (domain.ReputationHistorySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := r.snaps[sourceID]
	if len(snaps) == 0 {
		return domain.ReputationHistorySnapshot{}, ports.ErrNotFound
	}
	latest := snaps[0]
	for _, s := range snaps[1:] {
		if s.SnapshotDate.After(latest.SnapshotDate) {
			latest = s
		}
	}
	return latest, nil
}

type memDecisionLog struct {
	mu      sync.Mutex
	entries []domain.FilterDecisionLogEntry
	issues  []domain.QualityIssue
}

func (r *memDecisionLog) Append(_ context.Context, entry domain.FilterDecisionLogEntry) error {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *memDecisionLog) RecordIssue(_ context.Context, issue domain.QualityIssue) error {
	r.mu.Lock()
	r.issues = append(r.issues, issue)
	r.mu.Unlock()
	return nil
}

type memTuningRepo struct {
	mu     sync.Mutex
	events []domain.TuningEvent
}

func (r *memTuningRepo) Append(_ context.Context, event domain.TuningEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *memTuningRepo) Get(_ context.Context, eventID string) (domain.TuningEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == eventID {
			return e, nil
		}
	}
	return domain.TuningEvent{}, ports.ErrNotFound
}

func (r *memTuningRepo) LatestApplied(_ context.Context, entityID, parameter string) (domain.TuningEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.EntityID == entityID && e.ParameterName == parameter && e.Applied && !e.RolledBack {
			return e, nil
		}
	}
	return domain.TuningEvent{}, ports.ErrNotFound
}

func (r *memTuningRepo) MarkRolledBack(_ context.Context, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e.ID == eventID && !e.RolledBack {
			r.events[i].RolledBack = true
			r.events[i].RolledBackAt = at
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *memTuningRepo) all() []domain.TuningEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TuningEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *memTuningRepo) byParameter(entityID, parameter string) []domain.TuningEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TuningEvent
	for _, e := range r.events {
		if e.EntityID == entityID && e.ParameterName == parameter {
			out = append(out, e)
		}
	}
	return out
}

type memProfileRepo struct {
	mu       sync.Mutex
	profiles map[entityKey]domain.PerformanceProfile
	metrics  []domain.LearningMetrics
	patterns map[entityKey]map[domain.FailureCategory]domain.QualityPattern
	getErr   error
	saveErr  error
}

func newMemProfileRepo() *memProfileRepo {
	return &memProfileRepo{
		profiles: map[entityKey]domain.PerformanceProfile{},
		patterns: map[entityKey]map[domain.FailureCategory]domain.QualityPattern{},
	}
}

func (r *memProfileRepo) Get(_ context.Context, entityID string, entityType domain.EntityType) (domain.PerformanceProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.PerformanceProfile{}, r.getErr
	}
	profile, ok := r.profiles[entityKey{id: entityID, typ: entityType}]
	if !ok {
		return domain.PerformanceProfile{}, ports.ErrNotFound
	}
	return profile, nil
}

func (r *memProfileRepo) Save(_ context.Context, profile domain.PerformanceProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.profiles[entityKey{id: profile.EntityID, typ: profile.EntityType}] = profile
	return nil
}

func (r *memProfileRepo) SaveMetrics(_ context.Context, metrics domain.LearningMetrics) error {
	r.mu.Lock()
	r.metrics = append(r.metrics, metrics)
	r.mu.Unlock()
	return nil
}

func (r *memProfileRepo) UpsertPattern(_ context.Context, pattern domain.QualityPattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entityKey{id: pattern.EntityID, typ: pattern.EntityType}
	if r.patterns[key] == nil {
		r.patterns[key] = map[domain.FailureCategory]domain.QualityPattern{}
	}
	r.patterns[key][pattern.Category] = pattern
	return nil
}

type memScheduleRepo struct {
	mu        sync.Mutex
	schedules []domain.SourceSchedule
	failFor   map[string]error
}

func (r *memScheduleRepo) List(_ context.Context) ([]domain.SourceSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SourceSchedule, len(r.schedules))
	copy(out, r.schedules)
	return out, nil
}

func (r *memScheduleRepo) UpdateFrequency(_ context.Context, sourceID string, minutes int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failFor[sourceID]; err != nil {
		return err
	}
	for i := range r.schedules {
		if r.schedules[i].SourceID == sourceID {
			r.schedules[i].FrequencyMinutes = minutes
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *memScheduleRepo) frequency(sourceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.schedules {
		if s.SourceID == sourceID {
			return s.FrequencyMinutes
		}
	}
	return 0
}

type memThresholdRepo struct {
	mu      sync.Mutex
	history []domain.Thresholds
}

func (r *memThresholdRepo) Load(_ context.Context) (domain.Thresholds, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return domain.Thresholds{}, ports.ErrNotFound
	}
	return r.history[len(r.history)-1], nil
}

func (r *memThresholdRepo) Save(_ context.Context, t domain.Thresholds) error {
	r.mu.Lock()
	r.history = append(r.history, t)
	r.mu.Unlock()
	return nil
}

type memSignalRepo struct {
	mu      sync.Mutex
	signals []domain.FeedbackSignal
}

func (r *memSignalRepo) Save(_ context.Context, signal domain.FeedbackSignal) error {
	r.mu.Lock()
	r.signals = append(r.signals, signal)
	r.mu.Unlock()
	return nil
}

func (r *memSignalRepo) TakeBatch(_ context.Context, limit int) ([]domain.FeedbackSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.signals) {
		limit = len(r.signals)
	}
	taken := make([]domain.FeedbackSignal, limit)
	copy(taken, r.signals[:limit])
	r.signals = r.signals[limit:]
	return taken, nil
}

func (r *memSignalRepo) depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

// testEnv bundles the fakes most usecase tests need.
type testEnv struct {
	clock      *fakeClock
	reputation *memReputationRepo
	history    *memHistoryRepo
	decisions  *memDecisionLog
	tuning     *memTuningRepo
	signals    *memSignalRepo
	thresholds *ThresholdsCache
	ledger     *Ledger
}

func newTestEnv(t domain.Thresholds) *testEnv {
	clock := newFakeClock(time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC))
	tuning := &memTuningRepo{}
	return &testEnv{
		clock:      clock,
		reputation: newMemReputationRepo(),
		history:    newMemHistoryRepo(),
		decisions:  &memDecisionLog{},
		tuning:     tuning,
		signals:    &memSignalRepo{},
		thresholds: NewThresholdsCache(t),
		ledger:     NewLedger(tuning, clock, discardLogger()),
	}
}

func (e *testEnv) store() *ReputationStore {
	return NewReputationStore(ReputationDeps{
		Repository:    e.reputation,
		History:       e.history,
		Signals:       e.signals,
		Ledger:        e.ledger,
		Thresholds:    e.thresholds,
		Clock:         e.clock,
		Logger:        discardLogger(),
		InitialScore:  0.75,
		QueueCapacity: 16,
		HealthWeights: HealthWeights{AvgQuality: 0.5, Accuracy: 0.3, CrossVerification: 0.2},
	})
}

func (e *testEnv) filter(store *ReputationStore, soft, failOpen bool) *QualityFilter {
	return NewQualityFilter(FilterDeps{
		Store:      store,
		Log:        e.decisions,
		Thresholds: e.thresholds,
		Clock:      e.clock,
		Logger:     discardLogger(),
		SoftMode:   soft,
		FailOpen:   failOpen,
	})
}
