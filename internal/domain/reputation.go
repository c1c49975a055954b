package domain

import (
	"fmt"
	"time"
)

// Tier is the discrete reputation band derived from the continuous score.
type Tier string

const (
	TierPlatinum    Tier = "platinum"
	TierGold        Tier = "gold"
	TierSilver      Tier = "silver"
	TierBronze      Tier = "bronze"
	TierProbation   Tier = "probation"
	TierBlacklisted Tier = "blacklisted"
)

// Fixed, non-overlapping score breakpoints. Tier is always a pure function
// of score; the stored tier column is only a cache of this derivation.
func TierForScore(score float64) Tier {
	switch {
	case score >= 0.90:
		return TierPlatinum
	case score >= 0.75:
		return TierGold
	case score >= 0.60:
		return TierSilver
	case score >= 0.45:
		return TierBronze
	case score >= 0.30:
		return TierProbation
	default:
		return TierBlacklisted
	}
}

// WeightMultiplier maps a tier to the scalar applied downstream to content
// from sources in that tier.
func (t Tier) WeightMultiplier() float64 {
	switch t {
	case TierPlatinum:
		return 1.30
	case TierGold:
		return 1.15
	case TierSilver:
		return 1.00
	case TierBronze:
		return 0.85
	case TierProbation:
		return 0.70
	default:
		return 0.0
	}
}

// ParseTier converts a stored label into a closed Tier value.
func ParseTier(value string) (Tier, error) {
	switch Tier(value) {
	case TierPlatinum, TierGold, TierSilver, TierBronze, TierProbation, TierBlacklisted:
		return Tier(value), nil
	}
	return "", fmt.Errorf("unknown tier %q", value)
}

// ManualOverride suspends automatic deactivation for a source until a deadline.
type ManualOverride struct {
	Active bool
	Reason string
	By     string
	Until  time.Time
}

// InEffect reports whether the override suppresses automatic deactivation at now.
func (o ManualOverride) InEffect(now time.Time) bool {
	return o.Active && now.Before(o.Until)
}

// SourceReputation is the per-source control state. Mutated only by the
// reputation store; never deleted, only deactivated.
type SourceReputation struct {
	SourceID        string
	ReputationScore float64 // invariant: 0.0–1.0
	Tier            Tier    // derived from ReputationScore

	AvgQualityScore       float64 // 0–100
	AccuracyRate          float64
	AcceptanceRate        float64
	CrossVerificationRate float64

	TotalArticles      int64
	AcceptedArticles   int64
	RejectedArticles   int64
	FlaggedArticles    int64
	ArticlesLast30Days int64

	IsImproving         bool
	IsDeclining         bool
	ConsecutiveQualityDays int
	ConsecutivePoorDays    int

	// Same-day accumulators feeding the daily trend evaluation. The quality
	// sum covers kept (accepted or flagged) articles only; the article count
	// covers every scored article, so all-rejected days still register.
	TodayQualitySum    float64
	TodayAcceptedCount int64
	TodayArticleCount  int64

	IsActive bool
	Override ManualOverride

	LastArticleAt   time.Time
	LastEvaluatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Version guards concurrent read-modify-write cycles.
	Version int64

	// Degraded marks a transient default served while persistence is down.
	Degraded bool
}

// ApplyOutcome folds one filter outcome into the reputation state and
// recomputes score, tier, and the rolling counters.
//
// Delta rule: accepted content pulls the score up proportionally to quality;
// content below minQuality pushes it down proportionally to the shortfall.
func (r *SourceReputation) ApplyOutcome(out Outcome, boostRate, penaltyRate, minQuality float64, now time.Time) {
	var delta float64
	if out.Accepted || out.Flagged {
		delta = boostRate * (out.QualityScore / 100)
	} else {
		delta = -penaltyRate * max(0, (minQuality-out.QualityScore)/minQuality)
	}
	r.ReputationScore = clampScore(r.ReputationScore + delta)
	r.Tier = TierForScore(r.ReputationScore)

	r.TotalArticles++
	r.ArticlesLast30Days++
	switch {
	case out.Flagged:
		r.FlaggedArticles++
	case out.Accepted:
		r.AcceptedArticles++
	default:
		r.RejectedArticles++
	}
	if r.TotalArticles > 0 {
		r.AcceptanceRate = float64(r.AcceptedArticles) / float64(r.TotalArticles)
	}
	// Cumulative mean over every scored article.
	r.AvgQualityScore += (out.QualityScore - r.AvgQualityScore) / float64(r.TotalArticles)

	if out.Accepted || out.Flagged {
		r.TodayQualitySum += out.QualityScore
		r.TodayAcceptedCount++
	}
	r.TodayArticleCount++

	r.LastArticleAt = now
	r.UpdatedAt = now
}

// Outcome is one post-filter result fed back into the reputation state.
// Flagged content is kept downstream, so it is not a rejection, but it does
// not count as a clean accept either.
type Outcome struct {
	QualityScore float64 // 0–100
	Accepted     bool
	Flagged      bool
}

// ReputationHistorySnapshot is an immutable periodic copy of the key fields,
// keyed by (SourceID, SnapshotDate).
type ReputationHistorySnapshot struct {
	SourceID        string
	SnapshotDate    time.Time
	ReputationScore float64
	Tier            Tier
	AvgQualityScore float64
	AcceptanceRate  float64
	TotalArticles   int64
	ScoreChange     float64
	TierChanged     bool
	HealthIndex     float64
	CreatedAt       time.Time
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
