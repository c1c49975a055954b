package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// ThresholdsCache holds the active threshold set for lock-free-ish reads on
// the hot filter path.
type ThresholdsCache struct {
	mu      sync.RWMutex
	current domain.Thresholds
}

// NewThresholdsCache seeds the cache with a validated threshold set.
func NewThresholdsCache(t domain.Thresholds) *ThresholdsCache {
	return &ThresholdsCache{current: t}
}

// Current returns the active threshold set.
func (c *ThresholdsCache) Current() domain.Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Replace swaps in a new threshold set.
func (c *ThresholdsCache) Replace(t domain.Thresholds) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Admin is the administrative surface for threshold changes. Every write is
// validated, versioned, and logged as a manual tuning event.
type Admin struct {
	cache  *ThresholdsCache
	repo   ports.ThresholdRepository
	ledger *Ledger
	clock  ports.Clock
	logger *slog.Logger
}

// NewAdmin wires the threshold administration path.
func NewAdmin(cache *ThresholdsCache, repo ports.ThresholdRepository, ledger *Ledger, clock ports.Clock, logger *slog.Logger) *Admin {
	return &Admin{cache: cache, repo: repo, ledger: ledger, clock: clock, logger: logger}
}

// LoadOrSeed pulls the persisted threshold set into the cache, seeding the
// store with the configured defaults when none exists yet.
func (a *Admin) LoadOrSeed(ctx context.Context) error {
	stored, err := a.repo.Load(ctx)
	switch {
	case err == nil:
		if vErr := stored.Validate(); vErr != nil {
			return fmt.Errorf("persisted thresholds invalid: %w", vErr)
		}
		a.cache.Replace(stored)
		return nil
	case errors.Is(err, ports.ErrNotFound):
		seed := a.cache.Current()
		seed.Version = 1
		seed.UpdatedAt = a.clock.Now()
		if sErr := a.repo.Save(ctx, seed); sErr != nil {
			return fmt.Errorf("seed thresholds: %w", sErr)
		}
		a.cache.Replace(seed)
		return nil
	default:
		return fmt.Errorf("load thresholds: %w", err)
	}
}

// UpdateThreshold changes one named threshold through the logged path.
func (a *Admin) UpdateThreshold(ctx context.Context, name string, value float64, actor string) error {
	current := a.cache.Current()

	old, err := current.Value(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrValidation, err)
	}

	next, err := current.WithValue(name, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrValidation, err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrValidation, err)
	}

	next.Version = current.Version + 1
	next.UpdatedAt = a.clock.Now()

	if _, err := a.ledger.Record(ctx, Change{
		EntityID:   "thresholds",
		Parameter:  name,
		OldValue:   old,
		NewValue:   value,
		Reason:     fmt.Sprintf("manual threshold update by %s", actor),
		Type:       domain.ChangeManual,
		Confidence: 1.0,
		Applied:    true,
	}); err != nil {
		return err
	}

	if err := a.repo.Save(ctx, next); err != nil {
		return fmt.Errorf("save thresholds: %w", err)
	}

	a.cache.Replace(next)
	a.logger.Info("threshold updated", "name", name, "old", old, "new", value, "actor", actor, "version", next.Version)
	return nil
}
