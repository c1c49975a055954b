package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// Change describes one parameter transition to be recorded in the ledger.
type Change struct {
	EntityID   string
	Parameter  string
	OldValue   float64
	NewValue   float64
	Reason     string
	Type       domain.ChangeType
	Confidence float64
	Applied    bool
}

// Ledger is the append-only tuning history with rollback. Existing events are
// never mutated beyond the rolled-back flag; every rollback appends a fresh
// reversal event.
type Ledger struct {
	repo   ports.TuningRepository
	clock  ports.Clock
	logger *slog.Logger
}

// NewLedger wires the tuning-history repository.
func NewLedger(repo ports.TuningRepository, clock ports.Clock, logger *slog.Logger) *Ledger {
	return &Ledger{repo: repo, clock: clock, logger: logger}
}

// Record appends one tuning event.
func (l *Ledger) Record(ctx context.Context, change Change) (domain.TuningEvent, error) {
	if change.EntityID == "" || change.Parameter == "" {
		return domain.TuningEvent{}, fmt.Errorf("%w: entity and parameter are required", ports.ErrValidation)
	}

	event := domain.TuningEvent{
		ID:            uuid.NewString(),
		EntityID:      change.EntityID,
		ParameterName: change.Parameter,
		OldValue:      change.OldValue,
		NewValue:      change.NewValue,
		ChangeReason:  change.Reason,
		ChangeType:    change.Type,
		Confidence:    change.Confidence,
		Applied:       change.Applied,
		CreatedAt:     l.clock.Now(),
	}

	if err := l.repo.Append(ctx, event); err != nil {
		return domain.TuningEvent{}, fmt.Errorf("append tuning event: %w", err)
	}

	l.logger.Info("tuning event recorded",
		"entity", change.EntityID,
		"parameter", change.Parameter,
		"old", change.OldValue,
		"new", change.NewValue,
		"type", change.Type,
		"applied", change.Applied)

	return event, nil
}

// Rollback reverses the identified event: it flips the rolled-back flag on the
// original and appends a reversal event with old/new values swapped.
func (l *Ledger) Rollback(ctx context.Context, eventID string) (domain.TuningEvent, error) {
	event, err := l.repo.Get(ctx, eventID)
	if err != nil {
		return domain.TuningEvent{}, fmt.Errorf("load tuning event %s: %w", eventID, err)
	}

	return l.rollback(ctx, event)
}

// RollbackLatest is the convenience path: it reverses the most recent applied,
// not-rolled-back event for the (entity, parameter) pair.
func (l *Ledger) RollbackLatest(ctx context.Context, entityID, parameter string) (domain.TuningEvent, error) {
	event, err := l.repo.LatestApplied(ctx, entityID, parameter)
	if err != nil {
		return domain.TuningEvent{}, fmt.Errorf("load latest applied event for %s/%s: %w", entityID, parameter, err)
	}

	return l.rollback(ctx, event)
}

func (l *Ledger) rollback(ctx context.Context, event domain.TuningEvent) (domain.TuningEvent, error) {
	if !event.Applied {
		return domain.TuningEvent{}, fmt.Errorf("%w: event %s was never applied", ports.ErrValidation, event.ID)
	}
	if event.RolledBack {
		return domain.TuningEvent{}, fmt.Errorf("%w: event %s is already rolled back", ports.ErrValidation, event.ID)
	}

	now := l.clock.Now()
	if err := l.repo.MarkRolledBack(ctx, event.ID, now); err != nil {
		return domain.TuningEvent{}, fmt.Errorf("mark event %s rolled back: %w", event.ID, err)
	}

	reversal := domain.TuningEvent{
		ID:            uuid.NewString(),
		EntityID:      event.EntityID,
		ParameterName: event.ParameterName,
		OldValue:      event.NewValue,
		NewValue:      event.OldValue,
		ChangeReason:  fmt.Sprintf("rollback of event %s", event.ID),
		ChangeType:    domain.ChangeRollback,
		Confidence:    1.0,
		Applied:       true,
		CreatedAt:     now,
	}

	if err := l.repo.Append(ctx, reversal); err != nil {
		return domain.TuningEvent{}, fmt.Errorf("append rollback event: %w", err)
	}

	l.logger.Info("tuning event rolled back",
		"entity", event.EntityID,
		"parameter", event.ParameterName,
		"event", event.ID,
		"restored", event.OldValue)

	return reversal, nil
}
