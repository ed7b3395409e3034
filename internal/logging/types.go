package logging

import (
	"context"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
)

// #region trace-writer
// TraceWriter is the slice of the record store the persister needs.
type TraceWriter interface {
	InsertTrace(ctx context.Context, rec store.TraceRecord) error
	InsertCognitiveLimit(ctx context.Context, rec store.CognitiveLimitRecord) error
	InsertImprovement(ctx context.Context, rec store.ImprovementRecord) error
}

// #endregion trace-writer

// #region trace-status
// Trace status values stored on reasoning_traces.status.
const (
	StatusCompleted = "completed" // no stage errors
	StatusPartial   = "partial"   // errors, but a draft was produced
	StatusFailed    = "failed"    // errors and no draft
)

// #endregion trace-status

// #region report
// Report says which writes of one Persist call landed. Failures are already
// logged; the report exists for callers and tests.
type Report struct {
	TraceWritten        bool
	LimitsWritten       int
	LimitsFailed        int
	ImprovementsWritten int
	ImprovementsFailed  int
	Errors              []string
}

// OK reports whether every write succeeded.
func (r Report) OK() bool { return len(r.Errors) == 0 }

// #endregion report
