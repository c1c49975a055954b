package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// ThresholdRepository versions the named control values: every save inserts a
// new version row, and Load returns the newest.
type ThresholdRepository struct {
	db *sqlx.DB
}

var _ ports.ThresholdRepository = (*ThresholdRepository)(nil)

// NewThresholdRepository wires a sqlx handle.
func NewThresholdRepository(db *sqlx.DB) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

type thresholdRow struct {
	Version                int64     `db:"version"`
	MinReputationActive    float64   `db:"min_reputation_active"`
	MinArticleQuality      float64   `db:"min_article_quality"`
	WarningQuality         float64   `db:"warning_quality"`
	ExcellentQuality       float64   `db:"excellent_quality"`
	BoostRate              float64   `db:"boost_rate"`
	PenaltyRate            float64   `db:"penalty_rate"`
	DecayRate              float64   `db:"decay_rate"`
	MaxConsecutivePoorDays int       `db:"max_consecutive_poor_days"`
	FlagMultiplier         float64   `db:"flag_multiplier"`
	BoostBonus             float64   `db:"boost_bonus"`
	MaxMultiplier          float64   `db:"max_multiplier"`
	UpdatedAt              time.Time `db:"updated_at"`
}

// Load returns the newest threshold version.
func (r *ThresholdRepository) Load(ctx context.Context) (domain.Thresholds, error) {
	if r.db == nil {
		return domain.Thresholds{}, ports.ErrUnavailable
	}

	query, args, err := psq.Select("version", "min_reputation_active", "min_article_quality",
		"warning_quality", "excellent_quality", "boost_rate", "penalty_rate", "decay_rate",
		"max_consecutive_poor_days", "flag_multiplier", "boost_bonus", "max_multiplier", "updated_at").
		From("reputation_thresholds").
		OrderBy("version DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.Thresholds{}, fmt.Errorf("build query: %w", err)
	}

	var row thresholdRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Thresholds{}, ports.ErrNotFound
		}
		return domain.Thresholds{}, fmt.Errorf("query thresholds: %w", err)
	}

	return domain.Thresholds{
		Version:                row.Version,
		MinReputationActive:    row.MinReputationActive,
		MinArticleQuality:      row.MinArticleQuality,
		WarningQuality:         row.WarningQuality,
		ExcellentQuality:       row.ExcellentQuality,
		BoostRate:              row.BoostRate,
		PenaltyRate:            row.PenaltyRate,
		DecayRate:              row.DecayRate,
		MaxConsecutivePoorDays: row.MaxConsecutivePoorDays,
		FlagMultiplier:         row.FlagMultiplier,
		BoostBonus:             row.BoostBonus,
		MaxMultiplier:          row.MaxMultiplier,
		UpdatedAt:              row.UpdatedAt,
	}, nil
}

// Save appends a new threshold version.
func (r *ThresholdRepository) Save(ctx context.Context, t domain.Thresholds) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Insert("reputation_thresholds").
		Columns("version", "min_reputation_active", "min_article_quality", "warning_quality",
			"excellent_quality", "boost_rate", "penalty_rate", "decay_rate",
			"max_consecutive_poor_days", "flag_multiplier", "boost_bonus", "max_multiplier", "updated_at").
		Values(t.Version, t.MinReputationActive, t.MinArticleQuality, t.WarningQuality,
			t.ExcellentQuality, t.BoostRate, t.PenaltyRate, t.DecayRate,
			t.MaxConsecutivePoorDays, t.FlagMultiplier, t.BoostBonus, t.MaxMultiplier, t.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert thresholds: %w", err)
	}
	return nil
}
