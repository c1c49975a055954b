package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"IngestTuner/internal/domain"
	"IngestTuner/internal/ports"
)

// FilterDeps wires the quality filter's collaborators.
type FilterDeps struct {
	Store      *ReputationStore
	Log        ports.DecisionLogRepository
	Thresholds *ThresholdsCache
	Clock      ports.Clock
	Logger     *slog.Logger

	SoftMode bool
	FailOpen bool
}

// QualityFilter gates content before and after quality scoring. Decisions are
// pure functions of the current reputation and thresholds plus the supplied
// quality score, so identical inputs always yield identical decisions.
type QualityFilter struct {
	store      *ReputationStore
	log        ports.DecisionLogRepository
	thresholds *ThresholdsCache
	clock      ports.Clock
	logger     *slog.Logger

	softMode bool
	failOpen bool
}

// NewQualityFilter constructs the two-stage filter.
func NewQualityFilter(deps FilterDeps) *QualityFilter {
	return &QualityFilter{
		store:      deps.Store,
		log:        deps.Log,
		thresholds: deps.Thresholds,
		clock:      deps.Clock,
		logger:     deps.Logger,
		softMode:   deps.SoftMode,
		failOpen:   deps.FailOpen,
	}
}

// PreFilter gates a source before expensive processing starts.
func (f *QualityFilter) PreFilter(ctx context.Context, sourceID string) (domain.FilterDecision, error) {
	started := time.Now()

	rep, err := f.store.GetOrCreate(ctx, sourceID)
	if err != nil {
		return domain.FilterDecision{}, err
	}

	th := f.thresholds.Current()
	decision := decidePre(rep, th, f.softMode, f.failOpen)

	f.appendLog(ctx, domain.FilterDecisionLogEntry{
		ID:                    uuid.NewString(),
		SourceID:              sourceID,
		Stage:                 "pre",
		Action:                decision.Action,
		SourceReputationScore: rep.ReputationScore,
		ThresholdApplied:      th.MinReputationActive,
		WeightMultiplier:      decision.WeightMultiplier,
		LatencyMS:             float64(time.Since(started).Microseconds()) / 1000,
		CreatedAt:             f.clock.Now(),
	})

	return decision, nil
}

// PostFilter gates a scored article and feeds the outcome back into the
// source's reputation.
func (f *QualityFilter) PostFilter(ctx context.Context, articleID, sourceID string, qualityScore float64) (domain.FilterDecision, error) {
	if qualityScore < 0 || qualityScore > 100 {
		return domain.FilterDecision{}, fmt.Errorf("%w: quality score %v outside [0,100]", ports.ErrValidation, qualityScore)
	}
	started := time.Now()

	rep, err := f.store.GetOrCreate(ctx, sourceID)
	if err != nil {
		return domain.FilterDecision{}, err
	}

	th := f.thresholds.Current()
	decision, threshold := decidePost(qualityScore, rep, th, f.softMode, f.failOpen)

	f.appendLog(ctx, domain.FilterDecisionLogEntry{
		ID:                    uuid.NewString(),
		ArticleID:             articleID,
		SourceID:              sourceID,
		Stage:                 "post",
		Action:                decision.Action,
		SourceReputationScore: rep.ReputationScore,
		ArticleQualityScore:   qualityScore,
		ThresholdApplied:      threshold,
		WeightMultiplier:      decision.WeightMultiplier,
		LatencyMS:             float64(time.Since(started).Microseconds()) / 1000,
		CreatedAt:             f.clock.Now(),
	})

	if decision.Action == domain.ActionRejected || decision.Action == domain.ActionFlagged {
		f.recordIssue(ctx, articleID, sourceID, qualityScore, decision.Action, th)
	}

	// The reputation outcome follows content quality, not gating policy:
	// rejection-grade content kept by soft mode or fail-open still carries
	// the penalty, never a boost.
	outcome := domain.Outcome{QualityScore: qualityScore}
	switch {
	case qualityScore < th.MinArticleQuality:
	case qualityScore < th.WarningQuality:
		outcome.Flagged = true
	default:
		outcome.Accepted = true
	}
	if err := f.store.RecordOutcome(ctx, sourceID, outcome); err != nil {
		f.logger.Warn("outcome record failed", "source", sourceID, "article", articleID, "error", err)
	}

	return decision, nil
}

func (f *QualityFilter) appendLog(ctx context.Context, entry domain.FilterDecisionLogEntry) {
	if err := f.log.Append(ctx, entry); err != nil {
		f.logger.Warn("decision log append failed", "source", entry.SourceID, "error", err)
	}
}

func (f *QualityFilter) recordIssue(ctx context.Context, articleID, sourceID string, quality float64, action domain.FilterAction, th domain.Thresholds) {
	issue := domain.QualityIssue{
		ID:           uuid.NewString(),
		ArticleID:    articleID,
		SourceID:     sourceID,
		QualityScore: quality,
		CreatedAt:    f.clock.Now(),
	}
	if action == domain.ActionRejected {
		issue.IssueType = "low_quality"
		issue.Threshold = th.MinArticleQuality
	} else {
		issue.IssueType = "below_warning"
		issue.Threshold = th.WarningQuality
	}
	if err := f.log.RecordIssue(ctx, issue); err != nil {
		f.logger.Warn("quality issue record failed", "source", sourceID, "error", err)
	}
}

// decidePre is the pure pre-ingestion gate: it looks only at the source's
// standing, never at content quality.
func decidePre(rep domain.SourceReputation, th domain.Thresholds, soft, failOpen bool) domain.FilterDecision {
	if rep.Degraded {
		if failOpen {
			return domain.FilterDecision{
				Action:           domain.ActionFlagged,
				WeightMultiplier: rep.Tier.WeightMultiplier() * th.FlagMultiplier,
				Reason:           "reputation unavailable, fail-open at reduced weight",
				Degraded:         true,
			}
		}
		return domain.FilterDecision{
			Action:   domain.ActionRejected,
			Reason:   "reputation unavailable, fail-closed",
			Degraded: true,
		}
	}

	if !rep.IsActive {
		return softenReject(domain.FilterDecision{
			Action: domain.ActionRejected,
			Reason: "source is deactivated",
		}, th, soft)
	}
	if rep.ReputationScore < th.MinReputationActive {
		return softenReject(domain.FilterDecision{
			Action: domain.ActionRejected,
			Reason: fmt.Sprintf("reputation %.2f below minimum %.2f", rep.ReputationScore, th.MinReputationActive),
		}, th, soft)
	}

	return domain.FilterDecision{
		Action:           domain.ActionAccepted,
		WeightMultiplier: rep.Tier.WeightMultiplier(),
		Reason:           fmt.Sprintf("tier %s", rep.Tier),
	}
}

// decidePost is the pure post-scoring gate. Threshold order is fixed:
// reject below MinArticleQuality, flag below WarningQuality, accept below
// ExcellentQuality, boost at or above it. Returns the threshold that decided.
func decidePost(quality float64, rep domain.SourceReputation, th domain.Thresholds, soft, failOpen bool) (domain.FilterDecision, float64) {
	if rep.Degraded && !failOpen {
		return domain.FilterDecision{
			Action:   domain.ActionRejected,
			Reason:   "reputation unavailable, fail-closed",
			Degraded: true,
		}, th.MinArticleQuality
	}

	tierMult := rep.Tier.WeightMultiplier()

	switch {
	case quality < th.MinArticleQuality:
		d := softenReject(domain.FilterDecision{
			Action:   domain.ActionRejected,
			Reason:   fmt.Sprintf("quality %.1f below minimum %.1f", quality, th.MinArticleQuality),
			Degraded: rep.Degraded,
		}, th, soft)
		return d, th.MinArticleQuality

	case quality < th.WarningQuality:
		return domain.FilterDecision{
			Action:           domain.ActionFlagged,
			WeightMultiplier: tierMult * th.FlagMultiplier,
			Reason:           fmt.Sprintf("quality %.1f below warning %.1f", quality, th.WarningQuality),
			Degraded:         rep.Degraded,
		}, th.WarningQuality

	case quality < th.ExcellentQuality:
		return domain.FilterDecision{
			Action:           domain.ActionAccepted,
			WeightMultiplier: tierMult,
			Reason:           fmt.Sprintf("tier %s", rep.Tier),
			Degraded:         rep.Degraded,
		}, th.ExcellentQuality

	default:
		mult := tierMult + th.BoostBonus
		if mult > th.MaxMultiplier {
			mult = th.MaxMultiplier
		}
		return domain.FilterDecision{
			Action:           domain.ActionBoosted,
			WeightMultiplier: mult,
			Reason:           fmt.Sprintf("quality %.1f at or above excellent %.1f", quality, th.ExcellentQuality),
			Degraded:         rep.Degraded,
		}, th.ExcellentQuality
	}
}

// softenReject downgrades a rejection to a minimum-weight flag in soft mode,
// so no content is destroyed while thresholds are being tuned.
func softenReject(d domain.FilterDecision, th domain.Thresholds, soft bool) domain.FilterDecision {
	if !soft || d.Action != domain.ActionRejected {
		return d
	}
	return domain.FilterDecision{
		Action:           domain.ActionFlagged,
		WeightMultiplier: domain.TierProbation.WeightMultiplier() * th.FlagMultiplier,
		Reason:           d.Reason + " (soft mode: kept at minimum weight)",
		Degraded:         d.Degraded,
	}
}
