package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// SignalRepository spills queued outcome writes so they survive the process.
type SignalRepository struct {
	db *sqlx.DB
}

var _ ports.SignalRepository = (*SignalRepository)(nil)

// NewSignalRepository wires a sqlx handle.
func NewSignalRepository(db *sqlx.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

type signalRow struct {
	ID       string    `db:"id"`
	SourceID string    `db:"source_id"`
	Quality  float64   `db:"quality"`
	Accepted bool      `db:"accepted"`
	Flagged  bool      `db:"flagged"`
	QueuedAt time.Time `db:"queued_at"`
	Attempts int       `db:"attempts"`
}

// Save persists one queued outcome.
func (r *SignalRepository) Save(ctx context.Context, sig domain.FeedbackSignal) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Insert("l1_feedback_signals").
		Columns("id", "source_id", "quality", "accepted", "flagged", "queued_at", "attempts").
		Values(sig.ID, sig.SourceID, sig.Quality, sig.Accepted, sig.Flagged, sig.QueuedAt, sig.Attempts).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert feedback signal: %w", err)
	}
	return nil
}

// TakeBatch removes and returns up to limit queued outcomes, oldest first.
func (r *SignalRepository) TakeBatch(ctx context.Context, limit int) ([]domain.FeedbackSignal, error) {
	if r.db == nil {
		return nil, ports.ErrUnavailable
	}

	const query = `DELETE FROM l1_feedback_signals
		WHERE id IN (
			SELECT id FROM l1_feedback_signals ORDER BY queued_at LIMIT $1
		)
		RETURNING id, source_id, quality, accepted, flagged, queued_at, attempts`

	var rows []signalRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("take signal batch: %w", err)
	}

	signals := make([]domain.FeedbackSignal, 0, len(rows))
	for _, row := range rows {
		signals = append(signals, domain.FeedbackSignal{
			ID:       row.ID,
			SourceID: row.SourceID,
			Quality:  row.Quality,
			Accepted: row.Accepted,
			Flagged:  row.Flagged,
			QueuedAt: row.QueuedAt,
			Attempts: row.Attempts,
		})
	}
	return signals, nil
}
