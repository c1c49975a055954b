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

// HistoryRepository stores immutable daily reputation snapshots.
type HistoryRepository struct {
	db *sqlx.DB
}

var _ ports.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository wires a sqlx handle.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

type snapshotRow struct {
	SourceID        string    `db:"source_id"`
	SnapshotDate    time.Time `db:"snapshot_date"`
	ReputationScore float64   `db:"reputation_score"`
	Tier            string    `db:"tier"`
	AvgQualityScore float64   `db:"avg_quality_score"`
	AcceptanceRate  float64   `db:"acceptance_rate"`
	TotalArticles   int64     `db:"total_articles"`
	ScoreChange     float64   `db:"score_change"`
	TierChanged     bool      `db:"tier_changed"`
	HealthIndex     float64   `db:"health_index"`
	CreatedAt       time.Time `db:"created_at"`
}

var snapshotColumns = []string{
	"source_id", "snapshot_date", "reputation_score", "tier", "avg_quality_score",
	"acceptance_rate", "total_articles", "score_change", "tier_changed", "health_index", "created_at",
}

// SaveSnapshot inserts one (source, date) snapshot; a rerun of the snapshot
// job for the same day keeps the first write.
func (r *HistoryRepository) SaveSnapshot(ctx context.Context, snap domain.ReputationHistorySnapshot) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Insert("source_reputation_history").
		Columns(snapshotColumns...).
		Values(snap.SourceID, snap.SnapshotDate, snap.ReputationScore, string(snap.Tier), snap.AvgQualityScore,
			snap.AcceptanceRate, snap.TotalArticles, snap.ScoreChange, snap.TierChanged, snap.HealthIndex, snap.CreatedAt).
		Suffix("ON CONFLICT (source_id, snapshot_date) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot for a source.
func (r *HistoryRepository) Latest(ctx context.Context, sourceID string) (domain.ReputationHistorySnapshot, error) {
	if r.db == nil {
		return domain.ReputationHistorySnapshot{}, ports.ErrUnavailable
	}

	query, args, err := psq.Select(snapshotColumns...).
		From("source_reputation_history").
		Where(sq.Eq{"source_id": sourceID}).
		OrderBy("snapshot_date DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.ReputationHistorySnapshot{}, fmt.Errorf("build query: %w", err)
	}

	var row snapshotRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReputationHistorySnapshot{}, ports.ErrNotFound
		}
		return domain.ReputationHistorySnapshot{}, fmt.Errorf("query snapshot: %w", err)
	}

	tier, err := domain.ParseTier(row.Tier)
	if err != nil {
		return domain.ReputationHistorySnapshot{}, fmt.Errorf("snapshot %s: %w", row.SourceID, err)
	}
	return domain.ReputationHistorySnapshot{
		SourceID:        row.SourceID,
		SnapshotDate:    row.SnapshotDate,
		ReputationScore: row.ReputationScore,
		Tier:            tier,
		AvgQualityScore: row.AvgQualityScore,
		AcceptanceRate:  row.AcceptanceRate,
		TotalArticles:   row.TotalArticles,
		ScoreChange:     row.ScoreChange,
		TierChanged:     row.TierChanged,
		HealthIndex:     row.HealthIndex,
		CreatedAt:       row.CreatedAt,
	}, nil
}
