// Package replay audits persisted runs: it re-derives the HardGuard verdict
// and the post-draft route from each run's final state and reports runs
// whose recorded outcome disagrees with what the rules allow today.
package replay

import (
	"encoding/json"
	"fmt"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/gate"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/graph"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
)

// #region types

// Audit actions, in decreasing severity.
const (
	ActionVetoViolation       = "veto_violation"       // recorded approved, HardGuard now vetoes
	ActionUnapprovedExecution = "unapproved_execution" // executed without approval in the final state
	ActionRouteMismatch       = "route_mismatch"       // post-draft router now picks the other branch
	ActionOK                  = "ok"
)

// Entry is one recorded run to audit.
type Entry struct {
	RunID            string
	RecordedApproved bool
	AutoExecuted     bool
	State            state.PipelineState
}

// ReplayConfig holds the rule set runs are re-checked against.
type ReplayConfig struct {
	GateConfig  gate.GateConfig
	RouteConfig graph.RouteConfig
}

// DefaultReplayConfig returns the production rules.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		GateConfig:  gate.DefaultGateConfig(),
		RouteConfig: graph.DefaultRouteConfig(),
	}
}

// ReplayResult is the audit outcome for one run.
type ReplayResult struct {
	RunID  string
	Action string
	Reason string

	GateDecision gate.GateDecision

	// Post-draft route; empty when the run never produced a draft step.
	RecordedRoute graph.Label
	ReplayedRoute graph.Label
}

// ReplaySummary aggregates audit results.
type ReplaySummary struct {
	Total                int
	OK                   int
	VetoViolations       int
	UnapprovedExecutions int
	RouteMismatches      int
}

// Clean reports whether no run violated a safety rule. Route mismatches
// are drift, not violations.
func (s ReplaySummary) Clean() bool {
	return s.VetoViolations == 0 && s.UnapprovedExecutions == 0
}

// #endregion types

// #region entries

// FromTrace decodes a persisted trace row into an Entry.
func FromTrace(rec store.TraceRecord) (Entry, error) {
	var st state.PipelineState
	if err := json.Unmarshal([]byte(rec.FinalStateJSON), &st); err != nil {
		return Entry{}, fmt.Errorf("decode final state of run %s: %w", rec.RunID, err)
	}
	return Entry{
		RunID:            rec.RunID,
		RecordedApproved: rec.Approved,
		AutoExecuted:     rec.AutoExecuted,
		State:            st,
	}, nil
}

// #endregion entries

// #region replay

// Replay re-checks every entry against config. Pure; no store access.
func Replay(entries []Entry, config ReplayConfig) []ReplayResult {
	g := gate.NewGate(config.GateConfig)
	postDraft := graph.PostDraft(config.RouteConfig)
	results := make([]ReplayResult, 0, len(entries))

	for _, e := range entries {
		st := e.State
		decision := g.Evaluate(st)
		res := ReplayResult{RunID: e.RunID, Action: ActionOK, GateDecision: decision}

		if atDraft, recorded, ok := draftSnapshot(st); ok {
			res.RecordedRoute = recorded
			res.ReplayedRoute = postDraft(atDraft)
		}

		executed := e.AutoExecuted ||
			(st.ExecutionResult != nil && st.ExecutionResult.Status == state.ExecutionExecuted)

		switch {
		case (e.RecordedApproved || executed) && decision.Vetoed:
			res.Action = ActionVetoViolation
			res.Reason = "recorded as approved but HardGuard vetoes: " + firstReason(decision)
		case executed && !(st.Approved && st.ShouldAutoExecute):
			res.Action = ActionUnapprovedExecution
			res.Reason = "executed although the final state is not approved for auto-execution"
		case res.RecordedRoute != res.ReplayedRoute:
			res.Action = ActionRouteMismatch
			res.Reason = fmt.Sprintf("post-draft route was %s, rules now choose %s", res.RecordedRoute, res.ReplayedRoute)
		default:
			res.Reason = "consistent"
		}
		results = append(results, res)
	}
	return results
}

// draftSnapshot rebuilds the state the post-draft router saw: the trace up
// to and including the draft step and the errors raised by then.
func draftSnapshot(st state.PipelineState) (state.PipelineState, graph.Label, bool) {
	draftName := graph.StageDraft.String()
	idx := -1
	for i, step := range st.Trace {
		if step.Node == draftName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return st, "", false
	}

	snap := st
	snap.Trace = st.Trace[:idx+1]
	snap.Errors = nil
	for _, step := range snap.Trace {
		if step.Error != "" {
			snap.Errors = append(snap.Errors, step.Node+": "+step.Error)
		}
	}

	recorded := graph.LabelDirect
	if idx+1 < len(st.Trace) && st.Trace[idx+1].Node == graph.StageDiagnoser.String() {
		recorded = graph.LabelDeep
	}
	return snap, recorded, true
}

func firstReason(d gate.GateDecision) string {
	if len(d.VetoSignals) == 0 {
		return ""
	}
	return d.VetoSignals[0].Reason
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{Total: len(results)}
	for _, r := range results {
		switch r.Action {
		case ActionOK:
			s.OK++
		case ActionVetoViolation:
			s.VetoViolations++
		case ActionUnapprovedExecution:
			s.UnapprovedExecutions++
		case ActionRouteMismatch:
			s.RouteMismatches++
		}
	}
	return s
}

// #endregion replay
