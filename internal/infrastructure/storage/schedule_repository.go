package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// ScheduleRepository holds per-source polling state for the optimizer.
type ScheduleRepository struct {
	db *sqlx.DB
}

var _ ports.ScheduleRepository = (*ScheduleRepository)(nil)

// NewScheduleRepository wires a sqlx handle.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

type scheduleRow struct {
	SourceID             string    `db:"source_id"`
	Priority             string    `db:"priority"`
	FrequencyMinutes     int       `db:"frequency_minutes"`
	AvgArticlesPerScrape float64   `db:"avg_articles_per_scrape"`
	ConsecutiveFailures  int       `db:"consecutive_failures"`
	ReliabilityScore     float64   `db:"reliability_score"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// List returns the scheduling state for every source.
func (r *ScheduleRepository) List(ctx context.Context) ([]domain.SourceSchedule, error) {
	if r.db == nil {
		return nil, ports.ErrUnavailable
	}

	query, args, err := psq.Select("source_id", "priority", "frequency_minutes",
		"avg_articles_per_scrape", "consecutive_failures", "reliability_score", "updated_at").
		From("source_schedules").
		OrderBy("source_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []scheduleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}

	schedules := make([]domain.SourceSchedule, 0, len(rows))
	for _, row := range rows {
		priority, err := domain.ParsePriorityTier(row.Priority)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", row.SourceID, err)
		}
		schedules = append(schedules, domain.SourceSchedule{
			SourceID:             row.SourceID,
			Priority:             priority,
			FrequencyMinutes:     row.FrequencyMinutes,
			AvgArticlesPerScrape: row.AvgArticlesPerScrape,
			ConsecutiveFailures:  row.ConsecutiveFailures,
			ReliabilityScore:     row.ReliabilityScore,
			UpdatedAt:            row.UpdatedAt,
		})
	}
	return schedules, nil
}

// UpdateFrequency writes a new poll frequency for a source.
func (r *ScheduleRepository) UpdateFrequency(ctx context.Context, sourceID string, minutes int) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Update("source_schedules").
		Set("frequency_minutes", minutes).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update frequency: %w", err)
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
