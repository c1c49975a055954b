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

// ReputationRepository persists per-source reputation state in Postgres.
type ReputationRepository struct {
	db *sqlx.DB
}

var _ ports.ReputationRepository = (*ReputationRepository)(nil)

// NewReputationRepository wires a sqlx handle.
func NewReputationRepository(db *sqlx.DB) *ReputationRepository {
	return &ReputationRepository{db: db}
}

type reputationRow struct {
	SourceID              string       `db:"source_id"`
	ReputationScore       float64      `db:"reputation_score"`
	Tier                  string       `db:"tier"`
	AvgQualityScore       float64      `db:"avg_quality_score"`
	AccuracyRate          float64      `db:"accuracy_rate"`
	AcceptanceRate        float64      `db:"acceptance_rate"`
	CrossVerificationRate float64      `db:"cross_verification_rate"`
	TotalArticles         int64        `db:"total_articles"`
	AcceptedArticles      int64        `db:"accepted_articles"`
	RejectedArticles      int64        `db:"rejected_articles"`
	FlaggedArticles       int64        `db:"flagged_articles"`
	ArticlesLast30Days    int64        `db:"articles_last_30_days"`
	IsImproving           bool         `db:"is_improving"`
	IsDeclining           bool         `db:"is_declining"`
	ConsecutiveQualityDays int         `db:"consecutive_quality_days"`
	ConsecutivePoorDays   int          `db:"consecutive_poor_days"`
	TodayQualitySum       float64      `db:"today_quality_sum"`
	TodayAcceptedCount    int64        `db:"today_accepted_count"`
	TodayArticleCount     int64        `db:"today_article_count"`
	IsActive              bool         `db:"is_active"`
	OverrideActive        bool         `db:"override_active"`
	OverrideReason        string       `db:"override_reason"`
	OverrideBy            string       `db:"override_by"`
	OverrideUntil         sql.NullTime `db:"override_until"`
	LastArticleAt         sql.NullTime `db:"last_article_at"`
	LastEvaluatedAt       sql.NullTime `db:"last_evaluated_at"`
	CreatedAt             time.Time    `db:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at"`
	Version               int64        `db:"version"`
}

var reputationColumns = []string{
	"source_id", "reputation_score", "tier",
	"avg_quality_score", "accuracy_rate", "acceptance_rate", "cross_verification_rate",
	"total_articles", "accepted_articles", "rejected_articles", "flagged_articles", "articles_last_30_days",
	"is_improving", "is_declining", "consecutive_quality_days", "consecutive_poor_days",
	"today_quality_sum", "today_accepted_count", "today_article_count",
	"is_active", "override_active", "override_reason", "override_by", "override_until",
	"last_article_at", "last_evaluated_at", "created_at", "updated_at", "version",
}

// Get loads one source's reputation.
func (r *ReputationRepository) Get(ctx context.Context, sourceID string) (domain.SourceReputation, error) {
	if r.db == nil {
		return domain.SourceReputation{}, ports.ErrUnavailable
	}

	query, args, err := psq.Select(reputationColumns...).
		From("source_reputation").
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return domain.SourceReputation{}, fmt.Errorf("build query: %w", err)
	}

	var row reputationRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SourceReputation{}, ports.ErrNotFound
		}
		return domain.SourceReputation{}, fmt.Errorf("query reputation: %w", err)
	}

	return row.toDomain()
}

// Create inserts a first-seen source at version 1.
func (r *ReputationRepository) Create(ctx context.Context, rep domain.SourceReputation) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	rep.Version = 1
	query, args, err := psq.Insert("source_reputation").
		Columns(reputationColumns...).
		Values(rowValues(rep)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert reputation: %w", err)
	}
	return nil
}

// Update applies the record only while the stored version still matches
// expectedVersion, bumping the version on success.
func (r *ReputationRepository) Update(ctx context.Context, rep domain.SourceReputation, expectedVersion int64) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Update("source_reputation").
		SetMap(map[string]interface{}{
			"reputation_score":         rep.ReputationScore,
			"tier":                     string(rep.Tier),
			"avg_quality_score":        rep.AvgQualityScore,
			"accuracy_rate":            rep.AccuracyRate,
			"acceptance_rate":          rep.AcceptanceRate,
			"cross_verification_rate":  rep.CrossVerificationRate,
			"total_articles":           rep.TotalArticles,
			"accepted_articles":        rep.AcceptedArticles,
			"rejected_articles":        rep.RejectedArticles,
			"flagged_articles":         rep.FlaggedArticles,
			"articles_last_30_days":    rep.ArticlesLast30Days,
			"is_improving":             rep.IsImproving,
			"is_declining":             rep.IsDeclining,
			"consecutive_quality_days": rep.ConsecutiveQualityDays,
			"consecutive_poor_days":    rep.ConsecutivePoorDays,
			"today_quality_sum":        rep.TodayQualitySum,
			"today_accepted_count":     rep.TodayAcceptedCount,
			"today_article_count":      rep.TodayArticleCount,
			"is_active":                rep.IsActive,
			"override_active":          rep.Override.Active,
			"override_reason":          rep.Override.Reason,
			"override_by":              rep.Override.By,
			"override_until":           nullTime(rep.Override.Until),
			"last_article_at":          nullTime(rep.LastArticleAt),
			"last_evaluated_at":        nullTime(rep.LastEvaluatedAt),
			"updated_at":               rep.UpdatedAt,
			"version":                  expectedVersion + 1,
		}).
		Where(sq.Eq{"source_id": rep.SourceID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update reputation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ports.ErrVersionConflict
	}
	return nil
}

// ListActive returns every active source's reputation.
func (r *ReputationRepository) ListActive(ctx context.Context) ([]domain.SourceReputation, error) {
	if r.db == nil {
		return nil, ports.ErrUnavailable
	}

	query, args, err := psq.Select(reputationColumns...).
		From("source_reputation").
		Where(sq.Eq{"is_active": true}).
		OrderBy("source_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []reputationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query active reputations: %w", err)
	}

	reps := make([]domain.SourceReputation, 0, len(rows))
	for _, row := range rows {
		rep, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	return reps, nil
}

func (row reputationRow) toDomain() (domain.SourceReputation, error) {
	tier, err := domain.ParseTier(row.Tier)
	if err != nil {
		return domain.SourceReputation{}, fmt.Errorf("source %s: %w", row.SourceID, err)
	}
	return domain.SourceReputation{
		SourceID:              row.SourceID,
		ReputationScore:       row.ReputationScore,
		Tier:                  tier,
		AvgQualityScore:       row.AvgQualityScore,
		AccuracyRate:          row.AccuracyRate,
		AcceptanceRate:        row.AcceptanceRate,
		CrossVerificationRate: row.CrossVerificationRate,
		TotalArticles:         row.TotalArticles,
		AcceptedArticles:      row.AcceptedArticles,
		RejectedArticles:      row.RejectedArticles,
		FlaggedArticles:       row.FlaggedArticles,
		ArticlesLast30Days:    row.ArticlesLast30Days,
		IsImproving:           row.IsImproving,
		IsDeclining:           row.IsDeclining,
		ConsecutiveQualityDays: row.ConsecutiveQualityDays,
		ConsecutivePoorDays:   row.ConsecutivePoorDays,
		TodayQualitySum:       row.TodayQualitySum,
		TodayAcceptedCount:    row.TodayAcceptedCount,
		TodayArticleCount:     row.TodayArticleCount,
		IsActive:              row.IsActive,
		Override: domain.ManualOverride{
			Active: row.OverrideActive,
			Reason: row.OverrideReason,
			By:     row.OverrideBy,
			Until:  row.OverrideUntil.Time,
		},
		LastArticleAt:   row.LastArticleAt.Time,
		LastEvaluatedAt: row.LastEvaluatedAt.Time,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		Version:         row.Version,
	}, nil
}

func rowValues(rep domain.SourceReputation) []interface{} {
	return []interface{}{
		rep.SourceID, rep.ReputationScore, string(rep.Tier),
		rep.AvgQualityScore, rep.AccuracyRate, rep.AcceptanceRate, rep.CrossVerificationRate,
		rep.TotalArticles, rep.AcceptedArticles, rep.RejectedArticles, rep.FlaggedArticles, rep.ArticlesLast30Days,
		rep.IsImproving, rep.IsDeclining, rep.ConsecutiveQualityDays, rep.ConsecutivePoorDays,
		rep.TodayQualitySum, rep.TodayAcceptedCount, rep.TodayArticleCount,
		rep.IsActive, rep.Override.Active, rep.Override.Reason, rep.Override.By, nullTime(rep.Override.Until),
		nullTime(rep.LastArticleAt), nullTime(rep.LastEvaluatedAt), rep.CreatedAt, rep.UpdatedAt, rep.Version,
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
