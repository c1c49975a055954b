package domain

import (
	"fmt"
	"time"
)

// Thresholds enumerates every recognized numeric control by name. Loaded once
// at startup, validated before any decision logic runs, and mutable only
// through the logged administrative path.
type Thresholds struct {
	MinReputationActive float64 // below this, pre-filter rejects outright
	MinArticleQuality   float64 // 0–100, below this post-filter rejects
	WarningQuality      float64 // 0–100, below this post-filter flags
	ExcellentQuality    float64 // 0–100, at or above this post-filter boosts

	BoostRate   float64 // score gain per accepted outcome, scaled by quality
	PenaltyRate float64 // score loss per rejected outcome, scaled by shortfall
	DecayRate   float64 // daily score loss while a source is silent

	MaxConsecutivePoorDays int

	FlagMultiplier float64 // weight factor applied to flagged content
	BoostBonus     float64 // additive multiplier bonus for excellent content
	MaxMultiplier  float64 // cap on any weight multiplier

	Version   int64
	UpdatedAt time.Time
}

// DefaultThresholds returns the shipped control values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinReputationActive:    0.30,
		MinArticleQuality:      40,
		WarningQuality:         60,
		ExcellentQuality:       85,
		BoostRate:              0.01,
		PenaltyRate:            0.02,
		DecayRate:              0.005,
		MaxConsecutivePoorDays: 7,
		FlagMultiplier:         0.5,
		BoostBonus:             0.15,
		MaxMultiplier:          1.5,
	}
}

// Validate rejects threshold sets that would make decisions incoherent.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"minReputationActive": t.MinReputationActive,
		"boostRate":           t.BoostRate,
		"penaltyRate":         t.PenaltyRate,
		"decayRate":           t.DecayRate,
		"flagMultiplier":      t.FlagMultiplier,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s=%v outside [0,1]", name, v)
		}
	}
	for name, v := range map[string]float64{
		"minArticleQuality": t.MinArticleQuality,
		"warningQuality":    t.WarningQuality,
		"excellentQuality":  t.ExcellentQuality,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("threshold %s=%v outside [0,100]", name, v)
		}
	}
	if !(t.MinArticleQuality < t.WarningQuality && t.WarningQuality < t.ExcellentQuality) {
		return fmt.Errorf("quality thresholds out of order: %v / %v / %v",
			t.MinArticleQuality, t.WarningQuality, t.ExcellentQuality)
	}
	if t.MinArticleQuality <= 0 {
		return fmt.Errorf("minArticleQuality must be positive")
	}
	if t.MaxConsecutivePoorDays <= 0 {
		return fmt.Errorf("maxConsecutivePoorDays must be positive")
	}
	if t.BoostBonus < 0 || t.MaxMultiplier < 1 {
		return fmt.Errorf("invalid multiplier bounds: bonus=%v max=%v", t.BoostBonus, t.MaxMultiplier)
	}
	return nil
}

// Value looks a threshold up by its administrative name.
func (t Thresholds) Value(name string) (float64, error) {
	switch name {
	case "MIN_REPUTATION_ACTIVE":
		return t.MinReputationActive, nil
	case "MIN_ARTICLE_QUALITY":
		return t.MinArticleQuality, nil
	case "WARNING_QUALITY":
		return t.WarningQuality, nil
	case "EXCELLENT_QUALITY":
		return t.ExcellentQuality, nil
	case "REPUTATION_BOOST_RATE":
		return t.BoostRate, nil
	case "REPUTATION_PENALTY_RATE":
		return t.PenaltyRate, nil
	case "REPUTATION_DECAY_RATE":
		return t.DecayRate, nil
	case "MAX_CONSECUTIVE_POOR_DAYS":
		return float64(t.MaxConsecutivePoorDays), nil
	case "FLAG_MULTIPLIER":
		return t.FlagMultiplier, nil
	case "BOOST_BONUS":
		return t.BoostBonus, nil
	case "MAX_MULTIPLIER":
		return t.MaxMultiplier, nil
	}
	return 0, fmt.Errorf("unknown threshold %q", name)
}

// WithValue returns a copy with the named threshold replaced.
func (t Thresholds) WithValue(name string, value float64) (Thresholds, error) {
	switch name {
	case "MIN_REPUTATION_ACTIVE":
		t.MinReputationActive = value
	case "MIN_ARTICLE_QUALITY":
		t.MinArticleQuality = value
	case "WARNING_QUALITY":
		t.WarningQuality = value
	case "EXCELLENT_QUALITY":
		t.ExcellentQuality = value
	case "REPUTATION_BOOST_RATE":
		t.BoostRate = value
	case "REPUTATION_PENALTY_RATE":
		t.PenaltyRate = value
	case "REPUTATION_DECAY_RATE":
		t.DecayRate = value
	case "MAX_CONSECUTIVE_POOR_DAYS":
		t.MaxConsecutivePoorDays = int(value)
	case "FLAG_MULTIPLIER":
		t.FlagMultiplier = value
	case "BOOST_BONUS":
		t.BoostBonus = value
	case "MAX_MULTIPLIER":
		t.MaxMultiplier = value
	default:
		return t, fmt.Errorf("unknown threshold %q", name)
	}
	return t, nil
}
