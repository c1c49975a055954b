package ports

import (
	"context"
	"errors"
	"time"

	"IngestTuner/internal/domain"
)

// Shared sentinel errors surfaced by repositories.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrValidation      = errors.New("validation failed")
	ErrUnavailable     = errors.New("persistence unavailable")
)

// ReputationRepository persists per-source reputation state.
type ReputationRepository interface {
	Get(ctx context.Context, sourceID string) (domain.SourceReputation, error)
	Create(ctx context.Context, rep domain.SourceReputation) error
	// Update applies the record only if the stored version still matches
	// expectedVersion; otherwise it returns ErrVersionConflict.
	Update(ctx context.Context, rep domain.SourceReputation, expectedVersion int64) error
	ListActive(ctx context.Context) ([]domain.SourceReputation, error)
}

// HistoryRepository stores immutable daily reputation snapshots.
type HistoryRepository interface {
	SaveSnapshot(ctx context.Context, snap domain.ReputationHistorySnapshot) error
	Latest(ctx context.Context, sourceID string) (domain.ReputationHistorySnapshot, error)
}

// DecisionLogRepository appends filter audit records and quality issues.
type DecisionLogRepository interface {
	Append(ctx context.Context, entry domain.FilterDecisionLogEntry) error
	RecordIssue(ctx context.Context, issue domain.QualityIssue) error
}

// ProfileRepository persists rolling performance profiles and cycle output.
type ProfileRepository interface {
	Get(ctx context.Context, entityID string, entityType domain.EntityType) (domain.PerformanceProfile, error)
	Save(ctx context.Context, profile domain.PerformanceProfile) error
	SaveMetrics(ctx context.Context, metrics domain.LearningMetrics) error
	UpsertPattern(ctx context.Context, pattern domain.QualityPattern) error
}

// TuningRepository is the append-only parameter-change ledger.
type TuningRepository interface {
	Append(ctx context.Context, event domain.TuningEvent) error
	Get(ctx context.Context, eventID string) (domain.TuningEvent, error)
	// LatestApplied returns the newest applied, not-rolled-back event for the
	// (entity, parameter) pair.
	LatestApplied(ctx context.Context, entityID, parameter string) (domain.TuningEvent, error)
	MarkRolledBack(ctx context.Context, eventID string, at time.Time) error
}

// ScheduleRepository holds per-source polling state for the optimizer.
type ScheduleRepository interface {
	List(ctx context.Context) ([]domain.SourceSchedule, error)
	UpdateFrequency(ctx context.Context, sourceID string, minutes int) error
}

// ThresholdRepository versions the named control values.
type ThresholdRepository interface {
	Load(ctx context.Context) (domain.Thresholds, error)
	Save(ctx context.Context, t domain.Thresholds) error
}

// SignalRepository spills queued outcome writes that must outlive the process.
type SignalRepository interface {
	Save(ctx context.Context, signal domain.FeedbackSignal) error
	TakeBatch(ctx context.Context, limit int) ([]domain.FeedbackSignal, error)
}

// Scheduler drives the periodic control jobs.
type Scheduler interface {
	Schedule(spec string, job func(context.Context)) error
	Start()
	Stop(ctx context.Context) error
}

// Clock abstracts time for decay and trend evaluation.
type Clock interface {
	Now() time.Time
}
