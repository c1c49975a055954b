package domain

import (
	"fmt"
	"time"
)

// FilterAction enumerates gating outcomes.
type FilterAction string

const (
	ActionAccepted   FilterAction = "accepted"
	ActionRejected   FilterAction = "rejected"
	ActionFlagged    FilterAction = "flagged"
	ActionBoosted    FilterAction = "boosted"
	ActionDowngraded FilterAction = "downgraded"
)

// ParseFilterAction converts a stored label into a closed FilterAction value.
func ParseFilterAction(value string) (FilterAction, error) {
	switch FilterAction(value) {
	case ActionAccepted, ActionRejected, ActionFlagged, ActionBoosted, ActionDowngraded:
		return FilterAction(value), nil
	}
	return "", fmt.Errorf("unknown filter action %q", value)
}

// Keeps reports whether content with this action survives downstream.
func (a FilterAction) Keeps() bool {
	return a != ActionRejected
}

// FilterDecision is what pre/post filter calls return to the pipeline.
type FilterDecision struct {
	Action           FilterAction
	WeightMultiplier float64
	Reason           string
	Degraded         bool
}

// FilterDecisionLogEntry is the immutable per-article audit record.
type FilterDecisionLogEntry struct {
	ID                    string
	ArticleID             string
	SourceID              string
	Stage                 string // "pre" or "post"
	Action                FilterAction
	SourceReputationScore float64
	ArticleQualityScore   float64
	ThresholdApplied      float64
	WeightMultiplier      float64
	LatencyMS             float64
	ReviewedBy            string
	ReviewNote            string
	CreatedAt             time.Time
}

// QualityIssue records a rejected or flagged article for later pattern mining.
type QualityIssue struct {
	ID           string
	ArticleID    string
	SourceID     string
	IssueType    string // "low_quality" or "below_warning"
	QualityScore float64
	Threshold    float64
	CreatedAt    time.Time
}
