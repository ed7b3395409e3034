package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
)

// #region persister
// Persister writes the final state of a run. It never returns an error and
// never panics; each record is written independently.
type Persister struct {
	w       TraceWriter
	timeout time.Duration
	logger  *zap.Logger
}

// NewPersister creates a persister. timeout bounds each individual write.
func NewPersister(w TraceWriter, timeout time.Duration, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Persister{w: w, timeout: timeout, logger: logger.Named("persister")}
}

// Persist writes the trace row, then each cognitive limit and improvement.
// Writes use a context detached from ctx's cancellation so a cancelled run
// still leaves its trace behind.
func (p *Persister) Persist(ctx context.Context, st state.PipelineState, now time.Time) (report Report) {
	log := p.logger.With(zap.String("run_id", st.RunID), zap.String("user_id", st.UserID))
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("persist panic: %v", r)
			log.Error("trace persistence panicked", zap.Any("panic", r))
			report.Errors = append(report.Errors, msg)
		}
	}()

	base := context.WithoutCancel(ctx)

	rec, err := BuildTraceRecord(st, now)
	if err != nil {
		// Still write what we can: steps/errors are already encoded.
		log.Warn("encode trace", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
	}
	if err := p.write(base, func(c context.Context) error { return p.w.InsertTrace(c, rec) }); err != nil {
		log.Warn("insert trace failed", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.TraceWritten = true
	}

	for _, limit := range st.CognitiveIssues {
		r := store.CognitiveLimitRecord{RunID: st.RunID, UserID: st.UserID, Limit: limit, CreatedAt: now}
		if err := p.write(base, func(c context.Context) error { return p.w.InsertCognitiveLimit(c, r) }); err != nil {
			log.Warn("insert cognitive limit failed", zap.String("type", string(limit.Type)), zap.Error(err))
			report.LimitsFailed++
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.LimitsWritten++
	}

	for _, imp := range st.Improvements {
		r := store.ImprovementRecord{RunID: st.RunID, UserID: st.UserID, Improvement: imp, Status: "proposed", CreatedAt: now}
		if err := p.write(base, func(c context.Context) error { return p.w.InsertImprovement(c, r) }); err != nil {
			log.Warn("insert improvement failed", zap.String("target", imp.Target), zap.Error(err))
			report.ImprovementsFailed++
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.ImprovementsWritten++
	}

	log.Debug("trace persisted",
		zap.Bool("trace", report.TraceWritten),
		zap.Int("limits", report.LimitsWritten),
		zap.Int("improvements", report.ImprovementsWritten))
	return report
}

// write runs fn under a per-record timeout and converts panics to errors.
func (p *Persister) write(base context.Context, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(base, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write panic: %v", r)
		}
	}()
	return fn(ctx)
}

// #endregion persister

// #region build-record
// BuildTraceRecord flattens the final state into a reasoning_traces row.
func BuildTraceRecord(st state.PipelineState, now time.Time) (store.TraceRecord, error) {
	rec := store.TraceRecord{
		RunID:        st.RunID,
		UserID:       st.UserID,
		SignalID:     st.Signal.ID,
		Status:       TraceStatus(st),
		Approved:     st.Approved,
		AutoExecuted: st.ExecutionResult != nil && st.ExecutionResult.Status == state.ExecutionExecuted,
		ReviewReason: st.ReviewReason,
		DurationMs:   st.Duration(now).Milliseconds(),
		CreatedAt:    now,
	}
	if st.Draft != nil {
		rec.DraftID = st.Draft.ID
	}

	var firstErr error
	encode := func(v any, empty string) string {
		b, err := json.Marshal(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("encode trace %s: %w", st.RunID, err)
			}
			return empty
		}
		return string(b)
	}
	steps := st.Trace
	if steps == nil {
		steps = []state.ReasoningStep{}
	}
	errs := st.Errors
	if errs == nil {
		errs = []string{}
	}
	rec.StepsJSON = encode(steps, "[]")
	rec.ErrorsJSON = encode(errs, "[]")
	rec.FinalStateJSON = encode(st, "{}")
	return rec, firstErr
}

// TraceStatus classifies a finished run.
func TraceStatus(st state.PipelineState) string {
	switch {
	case len(st.Errors) == 0:
		return StatusCompleted
	case st.Draft != nil:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// #endregion build-record
