package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// TuningRepository is the append-only parameter-change ledger table. The only
// permitted mutation of an existing row is the rolled-back flag.
type TuningRepository struct {
	db *sqlx.DB
}

var _ ports.TuningRepository = (*TuningRepository)(nil)

// NewTuningRepository wires a sqlx handle.
func NewTuningRepository(db *sqlx.DB) *TuningRepository {
	return &TuningRepository{db: db}
}

type tuningRow struct {
	ID            string       `db:"id"`
	EntityID      string       `db:"entity_id"`
	ParameterName string       `db:"parameter_name"`
	OldValue      float64      `db:"old_value"`
	NewValue      float64      `db:"new_value"`
	ChangeReason  string       `db:"change_reason"`
	ChangeType    string       `db:"change_type"`
	Confidence    float64      `db:"confidence"`
	Applied       bool         `db:"applied"`
	RolledBack    bool         `db:"rolled_back"`
	RolledBackAt  sql.NullTime `db:"rolled_back_at"`
	CreatedAt     time.Time    `db:"created_at"`
}

var tuningColumns = []string{
	"id", "entity_id", "parameter_name", "old_value", "new_value",
	"change_reason", "change_type", "confidence", "applied",
	"rolled_back", "rolled_back_at", "created_at",
}

// Append writes one immutable tuning event.
func (r *TuningRepository) Append(ctx context.Context, event domain.TuningEvent) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Insert("l1_tuning_history").
		Columns(tuningColumns...).
		Values(event.ID, event.EntityID, event.ParameterName, event.OldValue, event.NewValue,
			event.ChangeReason, string(event.ChangeType), event.Confidence, event.Applied,
			event.RolledBack, nullTime(event.RolledBackAt), event.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert tuning event: %w", err)
	}
	return nil
}

// Get loads one tuning event by id.
func (r *TuningRepository) Get(ctx context.Context, eventID string) (domain.TuningEvent, error) {
	if r.db == nil {
		return domain.TuningEvent{}, ports.ErrUnavailable
	}

	query, args, err := psq.Select(tuningColumns...).
		From("l1_tuning_history").
		Where(sq.Eq{"id": eventID}).
		ToSql()
	if err != nil {
		return domain.TuningEvent{}, fmt.Errorf("build query: %w", err)
	}

	var row tuningRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TuningEvent{}, ports.ErrNotFound
		}
		return domain.TuningEvent{}, fmt.Errorf("query tuning event: %w", err)
	}

	return row.toDomain()
}

// LatestApplied returns the newest applied, not-rolled-back event for the
// (entity, parameter) pair.
func (r *TuningRepository) LatestApplied(ctx context.Context, entityID, parameter string) (domain.TuningEvent, error) {
	if r.db == nil {
		return domain.TuningEvent{}, ports.ErrUnavailable
	}

	query, args, err := psq.Select(tuningColumns...).
		From("l1_tuning_history").
		Where(sq.Eq{"entity_id": entityID, "parameter_name": parameter, "applied": true, "rolled_back": false}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.TuningEvent{}, fmt.Errorf("build query: %w", err)
	}

	var row tuningRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TuningEvent{}, ports.ErrNotFound
		}
		return domain.TuningEvent{}, fmt.Errorf("query latest applied: %w", err)
	}

	return row.toDomain()
}

// MarkRolledBack flips the rolled-back flag on an event.
func (r *TuningRepository) MarkRolledBack(ctx context.Context, eventID string, at time.Time) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Update("l1_tuning_history").
		Set("rolled_back", true).
		Set("rolled_back_at", at).
		Where(sq.Eq{"id": eventID, "rolled_back": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark rolled back: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (row tuningRow) toDomain() (domain.TuningEvent, error) {
	changeType, err := domain.ParseChangeType(row.ChangeType)
	if err != nil {
		return domain.TuningEvent{}, fmt.Errorf("event %s: %w", row.ID, err)
	}
	return domain.TuningEvent{
		ID:            row.ID,
		EntityID:      row.EntityID,
		ParameterName: row.ParameterName,
		OldValue:      row.OldValue,
		NewValue:      row.NewValue,
		ChangeReason:  row.ChangeReason,
		ChangeType:    changeType,
		Confidence:    row.Confidence,
		Applied:       row.Applied,
		RolledBack:    row.RolledBack,
		RolledBackAt:  row.RolledBackAt.Time,
		CreatedAt:     row.CreatedAt,
	}, nil
}
