package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/calibration"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/graph"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #endregion

// #region run

// run carries the per-run snapshots that stages read but never change.
type run struct {
	factor calibration.Factor // draft_generator calibration, loaded at run start
	logger *zap.Logger
}

type stageFunc func(ctx context.Context, r *run, s state.PipelineState) stageResult

// stages maps every executable stage to its body.
func (o *Orchestrator) stages() map[graph.StageID]stageFunc {
	return map[graph.StageID]stageFunc{
		graph.StageObserver:  o.observe,
		graph.StageIntent:    o.predictIntent,
		graph.StageDraft:     o.generateDraft,
		graph.StageDiagnoser: o.diagnose,
		graph.StageSimulator: o.simulate,
		graph.StageEvolver:   o.evolve,
		graph.StageGuardian:  o.guardian,
		graph.StageExecutor:  o.execute,
		graph.StageReview:    o.queueReview,
	}
}

// #endregion

// #region run-stage

// runStage invokes one stage under a timeout, records its ReasoningStep and
// merges its update. A panicking stage becomes a stage error and revokes
// any approval.
func (o *Orchestrator) runStage(ctx context.Context, r *run, id graph.StageID, s state.PipelineState) state.PipelineState {
	name := id.String()
	started := o.now()

	res := o.invoke(ctx, r, id, s)

	elapsed := o.now().Sub(started)
	step := state.ReasoningStep{
		Node:       name,
		Input:      summarize(res.input),
		Output:     summarize(res.output),
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  started,
	}
	upd := res.update
	if res.err != nil {
		step.Error = res.err.Error()
		upd.Errors = append(append([]string(nil), upd.Errors...), name+": "+res.err.Error())
		r.logger.Warn("stage failed", zap.String("stage", name), zap.Error(res.err))
	} else {
		r.logger.Debug("stage done", zap.String("stage", name), zap.Duration("duration", elapsed))
	}
	upd.Trace = []state.ReasoningStep{step}
	o.deps.Metrics.observeStage(name, elapsed, res.err != nil)

	return state.Apply(s, upd)
}

func (o *Orchestrator) invoke(ctx context.Context, r *run, id graph.StageID, s state.PipelineState) (res stageResult) {
	fn, ok := o.stageFns[id]
	if !ok {
		return stageResult{err: fmt.Errorf("no body for stage %s", id)}
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("stage panicked", zap.String("stage", id.String()), zap.Any("panic", p))
			res = stageResult{
				update: state.Update{Approved: state.Ptr(false), ShouldAutoExecute: state.Ptr(false)},
				input:  res.input,
				err:    fmt.Errorf("panic: %v", p),
			}
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	defer cancel()
	return fn(sctx, r, s)
}

// summarize encodes a step summary; anything unencodable is recorded as a string.
func summarize(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprintf("unencodable summary: %v", err))
	}
	return b
}

// #endregion
