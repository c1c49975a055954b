package domain

import (
	"fmt"
	"time"
)

// EntityType distinguishes what a performance profile describes.
type EntityType string

const (
	EntitySource  EntityType = "source"
	EntityScraper EntityType = "scraper"
)

// ParseEntityType converts a stored label into a closed EntityType value.
func ParseEntityType(value string) (EntityType, error) {
	switch EntityType(value) {
	case EntitySource, EntityScraper:
		return EntityType(value), nil
	}
	return "", fmt.Errorf("unknown entity type %q", value)
}

// FailureCategory buckets telemetry errors for rate computation.
type FailureCategory string

const (
	FailureNone        FailureCategory = ""
	FailureTimeout     FailureCategory = "timeout"
	FailureRateLimit   FailureCategory = "rate_limit"
	FailureServerError FailureCategory = "server_error"
)

// Transient reports whether retrying this failure category can plausibly help.
func (c FailureCategory) Transient() bool {
	return c == FailureTimeout || c == FailureRateLimit || c == FailureServerError
}

// TelemetrySample is one observed scrape or validation attempt.
type TelemetrySample struct {
	Success          bool
	LatencyMS        float64
	Failure          FailureCategory
	Retried          bool
	RecoveredByRetry bool
	ObservedAt       time.Time
}

// OptimalParameters are the learned operational settings for an entity.
type OptimalParameters struct {
	TimeoutMS   int
	RetryCount  int
	Concurrency int
	BatchSize   int
}

// PerformanceProfile is the rolling statistical summary for one entity plus
// its learned settings. Recomputed each learning cycle; never deleted.
type PerformanceProfile struct {
	EntityID   string
	EntityType EntityType

	AvgResponseMS float64
	P95ResponseMS float64
	P99ResponseMS float64

	SuccessRate      float64
	RetrySuccessRate float64
	TimeoutRate      float64
	RateLimitRate    float64
	ServerErrorRate  float64

	Optimal    OptimalParameters
	Throughput float64 // successful samples per minute of window span

	SampleCount int64
	// HourlySuccess holds per-hour-of-day success counts, index 0–23.
	HourlySuccess [24]int64

	UpdatedAt time.Time
}

// Confidence saturates toward 1.0 as the sample count grows.
// K is the half-confidence point.
func (p PerformanceProfile) Confidence(k int64) float64 {
	if p.SampleCount <= 0 {
		return 0
	}
	return float64(p.SampleCount) / float64(p.SampleCount+k)
}

// LearningMetrics summarizes one learning cycle run.
type LearningMetrics struct {
	ID               string
	CycleStartedAt   time.Time
	CycleFinishedAt  time.Time
	EntitiesSeen     int
	ProposalsTotal   int
	ProposalsApplied int
	Aborted          bool
}

// QualityPattern is a recurring failure category detected over a full window.
type QualityPattern struct {
	ID         string
	EntityID   string
	EntityType EntityType
	Category   FailureCategory
	Rate       float64
	Samples    int64
	DetectedAt time.Time
}
