package domain

import (
	"fmt"
	"time"
)

// PriorityTier buckets sources by how aggressively they are polled.
type PriorityTier string

const (
	PriorityCritical PriorityTier = "critical"
	PriorityHigh     PriorityTier = "high"
	PriorityMedium   PriorityTier = "medium"
	PriorityLow      PriorityTier = "low"
)

// ParsePriorityTier converts a stored label into a closed PriorityTier value.
func ParsePriorityTier(value string) (PriorityTier, error) {
	switch PriorityTier(value) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return PriorityTier(value), nil
	}
	return "", fmt.Errorf("unknown priority tier %q", value)
}

// FrequencyBounds returns the allowed poll-frequency range in minutes.
func (p PriorityTier) FrequencyBounds() (min, max int) {
	switch p {
	case PriorityCritical:
		return 5, 15
	case PriorityHigh:
		return 15, 60
	case PriorityMedium:
		return 60, 240
	default:
		return 240, 1440
	}
}

// ClampFrequency bounds a candidate frequency to the tier range.
func (p PriorityTier) ClampFrequency(minutes float64) float64 {
	lo, hi := p.FrequencyBounds()
	if minutes < float64(lo) {
		return float64(lo)
	}
	if minutes > float64(hi) {
		return float64(hi)
	}
	return minutes
}

// SourceSchedule is the scheduling state the optimizer reads and adjusts.
type SourceSchedule struct {
	SourceID            string
	Priority            PriorityTier
	FrequencyMinutes    int
	AvgArticlesPerScrape float64
	ConsecutiveFailures int
	ReliabilityScore    float64
	UpdatedAt           time.Time
}

// ScheduleRecommendation is one surfaced frequency change.
type ScheduleRecommendation struct {
	SourceID             string
	CurrentFrequency     int
	RecommendedFrequency int
	Reason               string
}
