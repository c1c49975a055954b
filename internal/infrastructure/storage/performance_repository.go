package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// PerformanceRepository persists profiles, learning-cycle metrics, and
// recurring quality patterns.
type PerformanceRepository struct {
	db *sqlx.DB
}

var _ ports.ProfileRepository = (*PerformanceRepository)(nil)

// NewPerformanceRepository wires a sqlx handle.
func NewPerformanceRepository(db *sqlx.DB) *PerformanceRepository {
	return &PerformanceRepository{db: db}
}

type profileRow struct {
	EntityID         string        `db:"entity_id"`
	EntityType       string        `db:"entity_type"`
	AvgResponseMS    float64       `db:"avg_response_ms"`
	P95ResponseMS    float64       `db:"p95_response_ms"`
	P99ResponseMS    float64       `db:"p99_response_ms"`
	SuccessRate      float64       `db:"success_rate"`
	RetrySuccessRate float64       `db:"retry_success_rate"`
	TimeoutRate      float64       `db:"timeout_rate"`
	RateLimitRate    float64       `db:"rate_limit_rate"`
	ServerErrorRate  float64       `db:"server_error_rate"`
	OptimalTimeoutMS int           `db:"optimal_timeout_ms"`
	OptimalRetries   int           `db:"optimal_retry_count"`
	OptimalConc      int           `db:"optimal_concurrency"`
	OptimalBatch     int           `db:"optimal_batch_size"`
	Throughput       float64       `db:"throughput"`
	SampleCount      int64         `db:"sample_count"`
	HourlySuccess    pq.Int64Array `db:"hourly_success"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

var profileColumns = []string{
	"entity_id", "entity_type", "avg_response_ms", "p95_response_ms", "p99_response_ms",
	"success_rate", "retry_success_rate", "timeout_rate", "rate_limit_rate", "server_error_rate",
	"optimal_timeout_ms", "optimal_retry_count", "optimal_concurrency", "optimal_batch_size",
	"throughput", "sample_count", "hourly_success", "updated_at",
}

// Get loads one entity's performance profile.
func (r *PerformanceRepository) Get(ctx context.Context, entityID string, entityType domain.EntityType) (domain.PerformanceProfile, error) {
	if r.db == nil {
		return domain.PerformanceProfile{}, ports.ErrUnavailable
	}

	query, args, err := psq.Select(profileColumns...).
		From("l1_performance_profiles").
		Where(sq.Eq{"entity_id": entityID, "entity_type": string(entityType)}).
		ToSql()
	if err != nil {
		return domain.PerformanceProfile{}, fmt.Errorf("build query: %w", err)
	}

	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PerformanceProfile{}, ports.ErrNotFound
		}
		return domain.PerformanceProfile{}, fmt.Errorf("query profile: %w", err)
	}

	return row.toDomain()
}

// Save upserts one entity's performance profile.
func (r *PerformanceRepository) Save(ctx context.Context, profile domain.PerformanceProfile) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	hourly := make(pq.Int64Array, len(profile.HourlySuccess))
	copy(hourly, profile.HourlySuccess[:])

	query, args, err := psq.Insert("l1_performance_profiles").
		Columns(profileColumns...).
		Values(profile.EntityID, string(profile.EntityType),
			profile.AvgResponseMS, profile.P95ResponseMS, profile.P99ResponseMS,
			profile.SuccessRate, profile.RetrySuccessRate,
			profile.TimeoutRate, profile.RateLimitRate, profile.ServerErrorRate,
			profile.Optimal.TimeoutMS, profile.Optimal.RetryCount, profile.Optimal.Concurrency, profile.Optimal.BatchSize,
			profile.Throughput, profile.SampleCount, hourly, profile.UpdatedAt).
		Suffix(`ON CONFLICT (entity_id, entity_type) DO UPDATE SET
			avg_response_ms = EXCLUDED.avg_response_ms,
			p95_response_ms = EXCLUDED.p95_response_ms,
			p99_response_ms = EXCLUDED.p99_response_ms,
			success_rate = EXCLUDED.success_rate,
			retry_success_rate = EXCLUDED.retry_success_rate,
			timeout_rate = EXCLUDED.timeout_rate,
			rate_limit_rate = EXCLUDED.rate_limit_rate,
			server_error_rate = EXCLUDED.server_error_rate,
			optimal_timeout_ms = EXCLUDED.optimal_timeout_ms,
			optimal_retry_count = EXCLUDED.optimal_retry_count,
			optimal_concurrency = EXCLUDED.optimal_concurrency,
			optimal_batch_size = EXCLUDED.optimal_batch_size,
			throughput = EXCLUDED.throughput,
			sample_count = EXCLUDED.sample_count,
			hourly_success = EXCLUDED.hourly_success,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// SaveMetrics appends one learning-cycle summary row.
func (r *PerformanceRepository) SaveMetrics(ctx context.Context, m domain.LearningMetrics) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Insert("l1_learning_metrics").
		Columns("id", "cycle_started_at", "cycle_finished_at", "entities_seen",
			"proposals_total", "proposals_applied", "aborted").
		Values(m.ID, m.CycleStartedAt, m.CycleFinishedAt, m.EntitiesSeen,
			m.ProposalsTotal, m.ProposalsApplied, m.Aborted).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert learning metrics: %w", err)
	}
	return nil
}

// UpsertPattern records a recurring failure category, refreshing the rate on
// repeat detections.
func (r *PerformanceRepository) UpsertPattern(ctx context.Context, p domain.QualityPattern) error {
	if r.db == nil {
		return ports.ErrUnavailable
	}

	query, args, err := psq.Insert("l1_quality_patterns").
		Columns("id", "entity_id", "entity_type", "category", "rate", "samples", "detected_at").
		Values(p.ID, p.EntityID, string(p.EntityType), string(p.Category), p.Rate, p.Samples, p.DetectedAt).
		Suffix(`ON CONFLICT (entity_id, entity_type, category) DO UPDATE SET
			rate = EXCLUDED.rate,
			samples = EXCLUDED.samples,
			detected_at = EXCLUDED.detected_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert quality pattern: %w", err)
	}
	return nil
}

func (row profileRow) toDomain() (domain.PerformanceProfile, error) {
	entityType, err := domain.ParseEntityType(row.EntityType)
	if err != nil {
		return domain.PerformanceProfile{}, fmt.Errorf("profile %s: %w", row.EntityID, err)
	}

	profile := domain.PerformanceProfile{
		EntityID:         row.EntityID,
		EntityType:       entityType,
		AvgResponseMS:    row.AvgResponseMS,
		P95ResponseMS:    row.P95ResponseMS,
		P99ResponseMS:    row.P99ResponseMS,
		SuccessRate:      row.SuccessRate,
		RetrySuccessRate: row.RetrySuccessRate,
		TimeoutRate:      row.TimeoutRate,
		RateLimitRate:    row.RateLimitRate,
		ServerErrorRate:  row.ServerErrorRate,
		Optimal: domain.OptimalParameters{
			TimeoutMS:   row.OptimalTimeoutMS,
			RetryCount:  row.OptimalRetries,
			Concurrency: row.OptimalConc,
			BatchSize:   row.OptimalBatch,
		},
		Throughput:  row.Throughput,
		SampleCount: row.SampleCount,
		UpdatedAt:   row.UpdatedAt,
	}
	for i, v := range row.HourlySuccess {
		if i >= len(profile.HourlySuccess) {
			break
		}
		profile.HourlySuccess[i] = v
	}
	return profile, nil
}
