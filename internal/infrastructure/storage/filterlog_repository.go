package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// FilterLogRepository appends filter decisions and quality issues. Both
// tables are append-only, so writes are safe under concurrent writers.
type FilterLogRepository struct {
	db *sqlx.DB
}

var _ ports.DecisionLogRepository = (*FilterLogRepository)(nil)

// NewFilterLogRepository wires a sqlx handle.
func NewFilterLogRepository(db *sqlx.DB) *FilterLogRepository {
	return &FilterLogRepository{db: db}
}

// Append writes one immutable decision record.
func (r *FilterLogRepository) Append(ctx context.Context, entry domain.FilterDecisionLogEntry) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Insert("quality_filter_log").
		Columns("id", "article_id", "source_id", "stage", "action",
			"source_reputation_score", "article_quality_score", "threshold_applied",
			"weight_multiplier", "latency_ms", "reviewed_by", "review_note", "created_at").
		Values(entry.ID, entry.ArticleID, entry.SourceID, entry.Stage, string(entry.Action),
			entry.SourceReputationScore, entry.ArticleQualityScore, entry.ThresholdApplied,
			entry.WeightMultiplier, entry.LatencyMS, entry.ReviewedBy, entry.ReviewNote, entry.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert decision log: %w", err)
	}
	return nil
}

// RecordIssue writes one quality issue for later pattern mining.
func (r *FilterLogRepository) RecordIssue(ctx context.Context, issue domain.QualityIssue) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Insert("l1_quality_issues").
		Columns("id", "article_id", "source_id", "issue_type", "quality_score", "threshold", "created_at").
		Values(issue.ID, issue.ArticleID, issue.SourceID, issue.IssueType, issue.QualityScore, issue.Threshold, issue.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert quality issue: %w", err)
	}
	return nil
}
