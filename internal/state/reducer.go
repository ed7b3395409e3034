package state

import (
	"time"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/signals"
)

// #region constructor

// New creates the empty state for a run. Context load errors are carried
// into Errors so the run cannot auto-execute on a partial context.
func New(runID string, sig signals.Signal, userID string, uctx UserContext, explore bool, now time.Time) PipelineState {
	var errs []string
	for _, e := range uctx.LoadErrors {
		errs = append(errs, "user context: "+e)
	}
	return PipelineState{
		RunID:     runID,
		UserID:    userID,
		Signal:    sig,
		Context:   uctx,
		Explore:   explore,
		Errors:    errs,
		StartedAt: now,
	}
}

// #endregion constructor

// #region reducers

// Replace returns b when present, otherwise a.
func Replace[T any](a, b *T) *T {
	if b != nil {
		return b
	}
	return a
}

// ReplaceValue returns *b when present, otherwise a.
func ReplaceValue[T any](a T, b *T) T {
	if b != nil {
		return *b
	}
	return a
}

// Append returns a followed by b in a fresh slice, or a unchanged when b is empty.
func Append[T any](a, b []T) []T {
	if len(b) == 0 {
		return a
	}
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

type fieldReducer struct {
	field string
	apply func(s *PipelineState, u Update)
}

// reducers maps every mergeable field to its reducer. Order is irrelevant;
// each reducer touches exactly one field.
var reducers = []fieldReducer{
	{"observations", func(s *PipelineState, u Update) { s.Observations = Append(s.Observations, u.Observations) }},
	{"intent", func(s *PipelineState, u Update) { s.Intent = Replace(s.Intent, u.Intent) }},
	{"draft", func(s *PipelineState, u Update) { s.Draft = Replace(s.Draft, u.Draft) }},
	{"cognitiveIssues", func(s *PipelineState, u Update) { s.CognitiveIssues = Append(s.CognitiveIssues, u.CognitiveIssues) }},
	{"simulations", func(s *PipelineState, u Update) { s.Simulations = Append(s.Simulations, u.Simulations) }},
	{"simulationVerdict", func(s *PipelineState, u Update) { s.SimulationVerdict = ReplaceValue(s.SimulationVerdict, u.SimulationVerdict) }},
	{"improvements", func(s *PipelineState, u Update) { s.Improvements = Append(s.Improvements, u.Improvements) }},
	{"hardGuard", func(s *PipelineState, u Update) { s.HardGuard = Replace(s.HardGuard, u.HardGuard) }},
	{"review", func(s *PipelineState, u Update) { s.Review = Replace(s.Review, u.Review) }},
	{"escalation", func(s *PipelineState, u Update) { s.Escalation = Replace(s.Escalation, u.Escalation) }},
	{"calibratedConfidence", func(s *PipelineState, u Update) {
		s.CalibratedConfidence = Replace(s.CalibratedConfidence, u.CalibratedConfidence)
	}},
	{"approved", func(s *PipelineState, u Update) { s.Approved = ReplaceValue(s.Approved, u.Approved) }},
	{"shouldAutoExecute", func(s *PipelineState, u Update) { s.ShouldAutoExecute = ReplaceValue(s.ShouldAutoExecute, u.ShouldAutoExecute) }},
	{"executionResult", func(s *PipelineState, u Update) { s.ExecutionResult = Replace(s.ExecutionResult, u.ExecutionResult) }},
	{"reviewReason", func(s *PipelineState, u Update) { s.ReviewReason = ReplaceValue(s.ReviewReason, u.ReviewReason) }},
	{"trace", func(s *PipelineState, u Update) { s.Trace = Append(s.Trace, u.Trace) }},
	{"errors", func(s *PipelineState, u Update) { s.Errors = Append(s.Errors, u.Errors) }},
}

// Apply merges u into s using the reducer table and returns the new state.
// s itself is not modified.
func Apply(s PipelineState, u Update) PipelineState {
	for _, r := range reducers {
		r.apply(&s, u)
	}
	return s
}

// ReducerFields lists the fields covered by the reducer table.
func ReducerFields() []string {
	fields := make([]string, len(reducers))
	for i, r := range reducers {
		fields[i] = r.field
	}
	return fields
}

// #endregion reducers

// #region accessors

// DraftConfidence returns the raw draft confidence, or 0 when there is no draft.
func (s PipelineState) DraftConfidence() float64 {
	if s.Draft == nil {
		return 0
	}
	return s.Draft.Confidence
}

// HardApproved reports whether HardGuard has run and found no blocks.
func (s PipelineState) HardApproved() bool {
	return s.HardGuard != nil && s.HardGuard.HardApproved
}

// Duration returns the elapsed run time relative to now.
func (s PipelineState) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// #endregion accessors
