// Package graph declares the pipeline's stages, the routers that pick the
// next stage, and the transition table that ties them together.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #region stages
// StageID identifies one pipeline stage.
type StageID int

const (
	StageObserver StageID = iota
	StageIntent
	StageDraft
	StageDiagnoser
	StageSimulator
	StageEvolver
	StageGuardian
	StageExecutor
	StageReview
	StageEnd

	numStages
)

var stageNames = [numStages]string{
	StageObserver:  "observer",
	StageIntent:    "intent_predictor",
	StageDraft:     "draft_generator",
	StageDiagnoser: "diagnoser",
	StageSimulator: "simulator",
	StageEvolver:   "evolver",
	StageGuardian:  "guardian",
	StageExecutor:  "executor",
	StageReview:    "review_queuer",
	StageEnd:       "end",
}

func (s StageID) String() string {
	if s.Valid() {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Valid reports whether s is a declared stage.
func (s StageID) Valid() bool {
	return s >= 0 && s < numStages
}

// Stages returns every runnable stage (End excluded) in declaration order.
func Stages() []StageID {
	out := make([]StageID, 0, StageEnd)
	for s := StageObserver; s < StageEnd; s++ {
		out = append(out, s)
	}
	return out
}

// #endregion stages

// #region labels
// Label names an outgoing edge.
type Label string

const (
	LabelNext    Label = "next"
	LabelDeep    Label = "deep"
	LabelDirect  Label = "direct"
	LabelExecute Label = "execute"
	LabelReview  Label = "review"
)

// Router picks an outgoing label from state. Routers must be pure.
type Router func(s state.PipelineState) Label

// Always routes unconditionally to LabelNext.
func Always(state.PipelineState) Label { return LabelNext }

// #endregion labels

// #region transition-table
// Edge is one row of the transition table: from -> router -> {label: next}.
type Edge struct {
	From    StageID
	Route   Router
	Targets map[Label]StageID
}

// Graph is a validated transition table.
type Graph struct {
	entry StageID
	edges map[StageID]Edge
}

// Build validates the table. Every runnable stage must have exactly one
// edge, be reachable from entry, and every target must be a declared stage.
func Build(entry StageID, edges []Edge) (*Graph, error) {
	if !entry.Valid() || entry == StageEnd {
		return nil, fmt.Errorf("invalid entry stage %s", entry)
	}
	g := &Graph{entry: entry, edges: make(map[StageID]Edge, len(edges))}

	var problems []string
	for _, e := range edges {
		switch {
		case !e.From.Valid() || e.From == StageEnd:
			problems = append(problems, fmt.Sprintf("edge from invalid stage %s", e.From))
			continue
		case e.Route == nil:
			problems = append(problems, fmt.Sprintf("%s: nil router", e.From))
		case len(e.Targets) == 0:
			problems = append(problems, fmt.Sprintf("%s: no targets", e.From))
		}
		if _, dup := g.edges[e.From]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate edge", e.From))
		}
		for label, to := range e.Targets {
			if !to.Valid() {
				problems = append(problems, fmt.Sprintf("%s[%s]: invalid target %s", e.From, label, to))
			}
		}
		g.edges[e.From] = e
	}

	for _, s := range Stages() {
		if _, ok := g.edges[s]; !ok {
			problems = append(problems, fmt.Sprintf("%s: missing edge", s))
		}
	}

	reached := g.reachable()
	for _, s := range Stages() {
		if !reached[s] {
			problems = append(problems, fmt.Sprintf("%s: unreachable from %s", s, entry))
		}
	}
	if !reached[StageEnd] {
		problems = append(problems, "end is unreachable")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("invalid pipeline graph: %s", strings.Join(problems, "; "))
	}
	return g, nil
}

func (g *Graph) reachable() map[StageID]bool {
	seen := map[StageID]bool{g.entry: true}
	queue := []StageID{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range g.edges[cur].Targets {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	return seen
}

// Entry returns the first stage.
func (g *Graph) Entry() StageID { return g.entry }

// Next routes from the given stage. An undeclared label is an error.
func (g *Graph) Next(from StageID, s state.PipelineState) (StageID, Label, error) {
	e, ok := g.edges[from]
	if !ok {
		return StageEnd, "", fmt.Errorf("no edge from %s", from)
	}
	label := e.Route(s)
	to, ok := e.Targets[label]
	if !ok {
		return StageEnd, label, fmt.Errorf("%s: router returned undeclared label %q", from, label)
	}
	return to, label, nil
}

// #endregion transition-table

// #region pipeline
// RouteConfig tunes the post-draft router.
type RouteConfig struct {
	MinTraceSteps int     // trace length required before deep analysis
	DeepCutoff    float64 // draft confidence below this triggers deep analysis
}

// DefaultRouteConfig returns the production routing thresholds.
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{MinTraceSteps: 3, DeepCutoff: 0.7}
}

// PostDraft routes to deep analysis when enough trace exists and the run
// has errors, a weak draft, or was sampled for exploration.
func PostDraft(cfg RouteConfig) Router {
	return func(s state.PipelineState) Label {
		if len(s.Trace) < cfg.MinTraceSteps {
			return LabelDirect
		}
		if len(s.Errors) > 0 || s.DraftConfidence() < cfg.DeepCutoff || s.Explore {
			return LabelDeep
		}
		return LabelDirect
	}
}

// PostGuardian routes to the executor only for approved auto-executable runs.
func PostGuardian(s state.PipelineState) Label {
	if s.Approved && s.ShouldAutoExecute {
		return LabelExecute
	}
	return LabelReview
}

// Pipeline builds the standard signal-to-action graph.
func Pipeline(cfg RouteConfig) (*Graph, error) {
	next := func(to StageID) map[Label]StageID { return map[Label]StageID{LabelNext: to} }
	return Build(StageObserver, []Edge{
		{From: StageObserver, Route: Always, Targets: next(StageIntent)},
		{From: StageIntent, Route: Always, Targets: next(StageDraft)},
		{From: StageDraft, Route: PostDraft(cfg), Targets: map[Label]StageID{
			LabelDeep:   StageDiagnoser,
			LabelDirect: StageGuardian,
		}},
		{From: StageDiagnoser, Route: Always, Targets: next(StageSimulator)},
		{From: StageSimulator, Route: Always, Targets: next(StageEvolver)},
		{From: StageEvolver, Route: Always, Targets: next(StageGuardian)},
		{From: StageGuardian, Route: PostGuardian, Targets: map[Label]StageID{
			LabelExecute: StageExecutor,
			LabelReview:  StageReview,
		}},
		{From: StageExecutor, Route: Always, Targets: next(StageEnd)},
		{From: StageReview, Route: Always, Targets: next(StageEnd)},
	})
}

// #endregion pipeline
