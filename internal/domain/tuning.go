package domain

import (
	"fmt"
	"time"
)

// ChangeType classifies a tuning event.
type ChangeType string

const (
	ChangeAuto     ChangeType = "auto"
	ChangeManual   ChangeType = "manual"
	ChangeRollback ChangeType = "rollback"
)

// ParseChangeType converts a stored label into a closed ChangeType value.
func ParseChangeType(value string) (ChangeType, error) {
	switch ChangeType(value) {
	case ChangeAuto, ChangeManual, ChangeRollback:
		return ChangeType(value), nil
	}
	return "", fmt.Errorf("unknown change type %q", value)
}

// TuningEvent is the immutable audit record of one parameter change. Only
// RolledBack/RolledBackAt may change after the event is written; a rollback
// appends a fresh event instead of editing history.
type TuningEvent struct {
	ID            string
	EntityID      string
	ParameterName string
	OldValue      float64
	NewValue      float64
	ChangeReason  string
	ChangeType    ChangeType
	Confidence    float64
	Applied       bool
	RolledBack    bool
	RolledBackAt  time.Time
	CreatedAt     time.Time
}

// FeedbackSignal is a queued outcome write that could not be applied while
// persistence was unavailable; drained by a periodic job.
type FeedbackSignal struct {
	ID        string
	SourceID  string
	Quality   float64
	Accepted  bool
	Flagged   bool
	QueuedAt  time.Time
	Attempts  int
}
