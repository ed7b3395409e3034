package store

import (
	"time"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #region trace-record

// TraceRecord is one row in reasoning_traces: the full run, success or failure.
type TraceRecord struct {
	RunID          string
	UserID         string
	SignalID       string
	Status         string // "completed" | "partial" | "failed"
	Approved       bool
	AutoExecuted   bool
	DraftID        string
	ReviewReason   string
	StepsJSON      string
	ErrorsJSON     string
	FinalStateJSON string
	DurationMs     int64
	CreatedAt      time.Time
}

// #endregion trace-record

// #region cognitive-limit-record

// CognitiveLimitRecord is one row in cognitive_limits.
type CognitiveLimitRecord struct {
	ID        string
	RunID     string
	UserID    string
	Limit     state.CognitiveLimit
	CreatedAt time.Time
}

// #endregion cognitive-limit-record

// #region improvement-record

// ImprovementRecord is one row in improvements. Status starts as "proposed".
type ImprovementRecord struct {
	ID          string
	RunID       string
	UserID      string
	Improvement state.Improvement
	Status      string
	CreatedAt   time.Time
}

// #endregion improvement-record

// #region draft-record

// DraftRecord is one row in drafts.
type DraftRecord struct {
	Draft        state.Draft
	RunID        string
	UserID       string
	ReviewReason string
	ExecutedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// #endregion draft-record

// #region constraint-violation

// ConstraintViolation is one row in constraint_violations.
type ConstraintViolation struct {
	ID         string
	RunID      string
	UserID     string
	DraftID    string
	Constraint string
	Note       string
	CreatedAt  time.Time
}

// #endregion constraint-violation

// #region draft-counts

// DraftCounts summarises a user's draft history by final status.
type DraftCounts struct {
	Approved     int
	Rejected     int
	AutoExecuted int
	Pending      int
}

// Settled returns drafts that reached a human or automated verdict.
func (c DraftCounts) Settled() int {
	return c.Approved + c.Rejected + c.AutoExecuted
}

// #endregion draft-counts
