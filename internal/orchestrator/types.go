package orchestrator

// #region imports
import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/calibration"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/escalation"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/gate"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/graph"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/logging"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/oracle"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/publish"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/signals"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
)

// #endregion

// #region collaborators

// DraftStore is the slice of the record store the executor and review
// queue write to.
type DraftStore interface {
	SaveDraft(ctx context.Context, rec store.DraftRecord) error
	UpdateDraftStatus(ctx context.Context, draftID string, status state.DraftStatus, executedAt *time.Time) error
	InsertConstraintViolation(ctx context.Context, v store.ConstraintViolation) error
}

// Calibrator records stage predictions and serves calibration factors.
type Calibrator interface {
	RecordPrediction(p calibration.Prediction)
	Factor(ctx context.Context, userID, stage string) (calibration.Factor, error)
}

// Escalator decides whether an action class may run unattended.
type Escalator interface {
	Decide(profile state.AutonomyProfile, action escalation.Action) state.EscalationDecision
	AllowsAutoExecution(level int) bool
}

// Guard is the deterministic veto layer.
type Guard interface {
	Evaluate(s state.PipelineState) gate.GateDecision
}

// TracePersister writes the final state of a run exactly once.
type TracePersister interface {
	Persist(ctx context.Context, st state.PipelineState, now time.Time) logging.Report
}

// #endregion

// #region deps

// Deps are the long-lived collaborators injected at process start.
// Oracle, Drafts and Persister are required; the rest have defaults.
type Deps struct {
	Oracle      oracle.Oracle
	Drafts      DraftStore
	Persister   TracePersister
	Calibration Calibrator        // nil: no predictions recorded, factor 1
	Escalation  Escalator         // nil: escalation.NewEngine with default tiers
	Gate        Guard             // nil: gate.NewGate(gate.DefaultGateConfig())
	Publisher   publish.Publisher // nil: executions are recorded but not announced
	Metrics     *Metrics
	Logger      *zap.Logger
	Now         func() time.Time
	NewRunID    func() string
}

// #endregion

// #region options

// Options are the per-process pipeline thresholds.
type Options struct {
	AutoExecuteThreshold float64 // calibrated confidence needed to auto-execute
	Routes               graph.RouteConfig
	Sampling             signals.SamplingConfig
	StageTimeout         time.Duration // bound on each stage, oracle retries included
	StoreTimeout         time.Duration // bound on each draft/violation/calibration call
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		AutoExecuteThreshold: 0.8,
		Routes:               graph.DefaultRouteConfig(),
		Sampling:             signals.DefaultSamplingConfig(),
		StageTimeout:         45 * time.Second,
		StoreTimeout:         5 * time.Second,
	}
}

// #endregion

// #region stage-result

// stageResult is what a stage body hands back to the runner. input and
// output are summaries recorded on the ReasoningStep.
type stageResult struct {
	update state.Update
	input  any
	output any
	err    error
}

// #endregion

// Calibration stage names.
const (
	stageIntentPredictor = "intent_predictor"
	stageDraftGenerator  = "draft_generator"
)
