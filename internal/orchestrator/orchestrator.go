// Package orchestrator runs the signal-to-action pipeline: observe, predict
// intent, draft, optionally diagnose/simulate/evolve, guard, then execute
// or queue for review. Every run is persisted exactly once.
package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/calibration"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/escalation"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/gate"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/graph"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/signals"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #endregion

// #region orchestrator-struct

// Orchestrator is safe for concurrent ProcessSignal calls; runs share no
// mutable state.
type Orchestrator struct {
	deps       Deps
	opts       Options
	graph      *graph.Graph
	gate       Guard
	escalation Escalator
	stageFns   map[graph.StageID]stageFunc
	logger     *zap.Logger
	maxSteps   int
}

// #endregion

// #region constructor

// New validates deps, fills defaults and builds the stage graph.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	var missing []error
	if deps.Oracle == nil {
		missing = append(missing, errors.New("oracle is required"))
	}
	if deps.Drafts == nil {
		missing = append(missing, errors.New("draft store is required"))
	}
	if deps.Persister == nil {
		missing = append(missing, errors.New("trace persister is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return ulid.Make().String() }
	}
	if deps.Gate == nil {
		deps.Gate = gate.NewGate(gate.DefaultGateConfig())
	}
	if deps.Escalation == nil {
		deps.Escalation = escalation.NewEngine(escalation.DefaultConfig(), nil, nil)
	}
	def := DefaultOptions()
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = def.StageTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}

	g, err := graph.Pipeline(opts.Routes)
	if err != nil {
		return nil, fmt.Errorf("build pipeline graph: %w", err)
	}

	o := &Orchestrator{
		deps:       deps,
		opts:       opts,
		graph:      g,
		gate:       deps.Gate,
		escalation: deps.Escalation,
		logger:     deps.Logger.Named("orchestrator"),
		maxSteps:   len(graph.Stages()) + 1,
	}
	o.stageFns = o.stages()
	return o, nil
}

func (o *Orchestrator) now() time.Time {
	return o.deps.Now()
}

// #endregion

// #region process-signal

// ProcessSignal runs the pipeline for one signal and returns the final
// state. It never fails: every problem is recorded in the state's Errors,
// the run is routed to review, and exactly one trace is persisted.
func (o *Orchestrator) ProcessSignal(ctx context.Context, sig signals.Signal, userID string, uctx state.UserContext) (final state.PipelineState) {
	if userID == "" {
		userID = sig.UserID
	}
	runID := o.deps.NewRunID()
	explore := uctx.ExploreEnabled && signals.Sampled(sig, o.opts.Sampling)
	st := state.New(runID, sig, userID, uctx, explore, o.now())
	r := &run{
		factor: calibration.Factor{Ratio: 1},
		logger: o.logger.With(
			zap.String("run_id", runID),
			zap.String("user_id", userID),
			zap.String("signal_id", sig.ID),
		),
	}

	defer func() {
		if p := recover(); p != nil {
			st = o.failClosed(ctx, r, st, fmt.Errorf("panic: %v", p))
		}
		report := o.deps.Persister.Persist(context.WithoutCancel(ctx), st, o.now())
		if !report.TraceWritten {
			r.logger.Error("trace not persisted", zap.Strings("errors", report.Errors))
		}
		outcome := outcomeOf(st)
		o.deps.Metrics.run(outcome)
		r.logger.Info("run finished",
			zap.String("outcome", outcome),
			zap.Bool("approved", st.Approved),
			zap.Int("errors", len(st.Errors)),
			zap.Int("steps", len(st.Trace)),
		)
		final = st
	}()

	if err := signals.Validate(sig); err != nil {
		st = o.failClosed(ctx, r, st, fmt.Errorf("invalid signal: %w", err))
		return st
	}
	r.factor = o.loadFactor(ctx, r, userID)

	st = o.walk(ctx, r, st)
	return st
}

// loadFactor snapshots the draft calibration for the run. Failure means no
// adjustment.
func (o *Orchestrator) loadFactor(ctx context.Context, r *run, userID string) calibration.Factor {
	if o.deps.Calibration == nil {
		return calibration.Factor{Ratio: 1}
	}
	fctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
	defer cancel()
	f, err := o.deps.Calibration.Factor(fctx, userID, stageDraftGenerator)
	if err != nil {
		r.logger.Warn("load calibration factor failed", zap.Error(err))
		return calibration.Factor{Ratio: 1}
	}
	return f
}

// #endregion

// #region walk

// walk follows the transition table from the entry stage to StageEnd.
func (o *Orchestrator) walk(ctx context.Context, r *run, st state.PipelineState) state.PipelineState {
	stage := o.graph.Entry()
	for steps := 0; stage != graph.StageEnd; steps++ {
		if steps >= o.maxSteps {
			return o.failClosed(ctx, r, st, fmt.Errorf("graph did not terminate after %d stages", steps))
		}
		if err := ctx.Err(); err != nil {
			return o.failClosed(ctx, r, st, fmt.Errorf("run cancelled before %s: %w", stage, err))
		}
		st = o.runStage(ctx, r, stage, st)

		next, label, err := o.graph.Next(stage, st)
		if err != nil {
			return o.failClosed(ctx, r, st, fmt.Errorf("route from %s: %w", stage, err))
		}
		r.logger.Debug("route", zap.String("from", stage.String()), zap.String("label", string(label)), zap.String("to", next.String()))
		stage = next
	}

	// The executor refused or failed before producing a result.
	if st.ExecutionResult == nil && st.ReviewReason == "" {
		st = o.runStage(context.WithoutCancel(ctx), r, graph.StageReview, st)
	}
	return st
}

// failClosed records a graph-level failure, revokes approval and queues the
// draft for review with a context that survives cancellation.
func (o *Orchestrator) failClosed(ctx context.Context, r *run, st state.PipelineState, err error) state.PipelineState {
	r.logger.Error("pipeline failure", zap.Error(err))
	st = state.Apply(st, state.Update{
		Errors:            []string{"pipeline: " + err.Error()},
		Approved:          state.Ptr(false),
		ShouldAutoExecute: state.Ptr(false),
	})
	if st.ExecutionResult == nil && st.ReviewReason == "" {
		st = o.runStage(context.WithoutCancel(ctx), r, graph.StageReview, st)
	}
	return st
}

// outcomeOf labels a finished run for metrics.
func outcomeOf(st state.PipelineState) string {
	switch {
	case st.ExecutionResult != nil && st.ExecutionResult.Status == state.ExecutionExecuted:
		return "auto_executed"
	case st.ExecutionResult != nil:
		return "execution_failed"
	default:
		return "queued"
	}
}

// #endregion
