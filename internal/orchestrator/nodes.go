package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/calibration"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/escalation"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/extract"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/publish"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
)

// #endregion

// #region oracle-call

// ask renders the template and invokes the oracle.
func (o *Orchestrator) ask(ctx context.Context, p promptTemplate, input any) (string, error) {
	prompt, err := p.render(input)
	if err != nil {
		return "", err
	}
	resp, err := o.deps.Oracle.Invoke(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("oracle: %w", err)
	}
	return resp, nil
}

// #endregion

// #region observer

func (o *Orchestrator) observe(ctx context.Context, _ *run, s state.PipelineState) stageResult {
	input := map[string]any{
		"signal":         s.Signal,
		"recentOutcomes": s.Context.RecentOutcomes,
	}
	summary := map[string]any{
		"signalId":       s.Signal.ID,
		"signalType":     s.Signal.SignalType,
		"recentOutcomes": len(s.Context.RecentOutcomes),
	}

	resp, err := o.ask(ctx, observerPrompt, input)
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	obs, err := decodeList[state.Observation](resp, observerSchema, "observations")
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	return stageResult{
		update: state.Update{Observations: obs},
		input:  summary,
		output: map[string]any{"observations": len(obs)},
	}
}

// #endregion

// #region intent-predictor

type intentResponse struct {
	PredictedNeed   string        `json:"predictedNeed"`
	Confidence      float64       `json:"confidence"`
	Reasoning       string        `json:"reasoning"`
	SuggestedAction string        `json:"suggestedAction"`
	DraftType       string        `json:"draftType"`
	Urgency         state.Urgency `json:"urgency"`
}

func (o *Orchestrator) predictIntent(ctx context.Context, r *run, s state.PipelineState) stageResult {
	when := s.Signal.CreatedAt
	if when.IsZero() {
		when = s.StartedAt
	}
	bucket := TimeOfDay(when, s.Context.Timezone)
	input := map[string]any{
		"signal":       s.Signal,
		"observations": s.Observations,
		"goals":        s.Context.Goals,
		"preferences":  s.Context.Preferences,
		"strategies":   s.Context.Strategies,
		"timeOfDay":    bucket,
	}
	summary := map[string]any{
		"signalId":     s.Signal.ID,
		"observations": len(s.Observations),
		"goals":        len(s.Context.Goals),
		"timeOfDay":    bucket,
	}

	resp, err := o.ask(ctx, intentPrompt, input)
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	out, err := extract.DecodeAs[intentResponse](resp, intentSchema)
	if err != nil {
		return stageResult{input: summary, err: err}
	}

	intent := &state.Intent{
		ID:              uuid.NewString(),
		SignalID:        s.Signal.ID,
		PredictedNeed:   out.PredictedNeed,
		Confidence:      out.Confidence,
		Reasoning:       out.Reasoning,
		SuggestedAction: out.SuggestedAction,
		DraftType:       out.DraftType,
		Urgency:         out.Urgency,
	}
	o.recordPrediction(s, stageIntentPredictor, intent.Confidence, intent)

	return stageResult{
		update: state.Update{Intent: intent},
		input:  summary,
		output: map[string]any{"intentId": intent.ID, "predictedNeed": intent.PredictedNeed, "confidence": intent.Confidence},
	}
}

// TimeOfDay buckets t in the named IANA zone (UTC when unknown) into
// night, morning, afternoon or evening.
func TimeOfDay(t time.Time, tz string) string {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	switch h := t.In(loc).Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}

// recordPrediction hands a stage confidence to the ledger. Never blocks.
func (o *Orchestrator) recordPrediction(s state.PipelineState, stage string, confidence float64, snapshot any) {
	if o.deps.Calibration == nil {
		return
	}
	o.deps.Calibration.RecordPrediction(calibration.Prediction{
		UserID:     s.UserID,
		RunID:      s.RunID,
		Stage:      stage,
		Confidence: confidence,
		Snapshot:   snapshot,
		CreatedAt:  o.now(),
	})
}

// #endregion

// #region draft-generator

type draftResponse struct {
	DraftType  string  `json:"draftType"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

var errNoIntent = errors.New("no intent to draft from")

func (o *Orchestrator) generateDraft(ctx context.Context, _ *run, s state.PipelineState) stageResult {
	if s.Intent == nil {
		return stageResult{input: map[string]any{"intentId": nil}, err: errNoIntent}
	}
	summary := map[string]any{"intentId": s.Intent.ID, "draftType": s.Intent.DraftType}

	resp, err := o.ask(ctx, draftPrompt, map[string]any{"intent": s.Intent})
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	out, err := extract.DecodeAs[draftResponse](resp, draftSchema)
	if err != nil {
		return stageResult{input: summary, err: err}
	}

	draftType := out.DraftType
	if draftType == "" {
		draftType = s.Intent.DraftType
	}
	draft := &state.Draft{
		ID:         uuid.NewString(),
		IntentID:   s.Intent.ID,
		DraftType:  draftType,
		Title:      out.Title,
		Content:    out.Content,
		Confidence: out.Confidence,
		Status:     state.DraftPendingReview,
	}
	o.recordPrediction(s, stageDraftGenerator, draft.Confidence, draft)

	return stageResult{
		update: state.Update{Draft: draft},
		input:  summary,
		output: map[string]any{"draftId": draft.ID, "draftType": draft.DraftType, "confidence": draft.Confidence},
	}
}

// #endregion

// #region diagnoser

func (o *Orchestrator) diagnose(ctx context.Context, _ *run, s state.PipelineState) stageResult {
	steps := make([]map[string]any, 0, len(s.Trace))
	for _, st := range s.Trace {
		steps = append(steps, map[string]any{"node": st.Node, "output": st.Output, "error": st.Error})
	}
	input := map[string]any{
		"trace":        steps,
		"observations": s.Observations,
		"errors":       s.Errors,
	}
	summary := map[string]any{"steps": len(s.Trace), "observations": len(s.Observations), "errors": len(s.Errors)}

	resp, err := o.ask(ctx, diagnoserPrompt, input)
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	limits, err := decodeList[state.CognitiveLimit](resp, diagnoserSchema, "cognitiveLimits")
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	return stageResult{
		update: state.Update{CognitiveIssues: limits},
		input:  summary,
		output: map[string]any{"cognitiveLimits": len(limits)},
	}
}

// #endregion

// #region simulator

type simulatorResponse struct {
	Simulations    []state.Simulation `json:"simulations"`
	Recommendation state.Verdict      `json:"recommendation"`
}

func (o *Orchestrator) simulate(ctx context.Context, _ *run, s state.PipelineState) stageResult {
	if s.Draft == nil {
		return stageResult{input: map[string]any{"draftId": nil}, err: errors.New("no draft to simulate")}
	}
	summary := map[string]any{"draftId": s.Draft.ID, "cognitiveLimits": len(s.CognitiveIssues)}

	resp, err := o.ask(ctx, simulatorPrompt, map[string]any{"draft": s.Draft, "cognitiveLimits": s.CognitiveIssues})
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	out, err := extract.DecodeAs[simulatorResponse](resp, simulatorSchema)
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	return stageResult{
		update: state.Update{Simulations: out.Simulations, SimulationVerdict: state.Ptr(out.Recommendation)},
		input:  summary,
		output: map[string]any{"simulations": len(out.Simulations), "recommendation": out.Recommendation},
	}
}

// #endregion

// #region evolver

func (o *Orchestrator) evolve(ctx context.Context, _ *run, s state.PipelineState) stageResult {
	summary := map[string]any{"cognitiveLimits": len(s.CognitiveIssues)}
	if len(s.CognitiveIssues) == 0 {
		return stageResult{input: summary, output: map[string]any{"skipped": true, "improvements": 0}}
	}

	resp, err := o.ask(ctx, evolverPrompt, map[string]any{"cognitiveLimits": s.CognitiveIssues})
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	proposals, err := decodeList[state.Improvement](resp, evolverSchema, "improvements")
	if err != nil {
		return stageResult{input: summary, err: err}
	}
	return stageResult{
		update: state.Update{Improvements: proposals},
		input:  summary,
		output: map[string]any{"improvements": len(proposals)},
	}
}

// #endregion

// #region guardian

// safeReview is the Guardian's verdict when the oracle cannot be consulted.
func safeReview() state.GuardianReview {
	return state.GuardianReview{
		Approved:              false,
		ConstraintChecks:      []state.ConstraintCheck{},
		ModificationsRequired: []string{},
		RiskAssessment:        state.LevelHigh,
		Recommendation:        state.RecommendReject,
	}
}

func (o *Orchestrator) guardian(ctx context.Context, r *run, s state.PipelineState) stageResult {
	summary := map[string]any{
		"draftId":       nil,
		"constraints":   len(s.Context.Constraints),
		"autonomyLevel": s.Context.Autonomy.Level,
	}

	review := safeReview()
	var reviewErr error
	if s.Draft == nil {
		reviewErr = errors.New("no draft to review")
	} else {
		summary["draftId"] = s.Draft.ID
		review, reviewErr = o.review(ctx, s)
	}

	// HardGuard sees this stage's own failure as well.
	probe := s
	if reviewErr != nil {
		probe.Errors = state.Append(s.Errors, []string{reviewErr.Error()})
	}
	decision := o.gate.Evaluate(probe)
	hard := decision.Result()
	for _, v := range decision.VetoSignals {
		o.deps.Metrics.guardBlock(string(v.Type))
	}

	calibrated := r.factor.Apply(s.DraftConfidence())
	action := ClassifyAction(s)
	action.Confidence = calibrated
	esc := o.escalation.Decide(s.Context.Autonomy, action)

	approved := review.Approved && review.Recommendation == state.RecommendApprove && hard.HardApproved
	auto := approved &&
		hard.HardApproved &&
		!hard.RequiresHumanReview &&
		esc.CanProceed &&
		!esc.RequiresConfirmation &&
		calibrated >= o.opts.AutoExecuteThreshold &&
		review.RiskAssessment == state.LevelLow &&
		s.Context.Autonomy.Level >= escalation.MinAutoLevel &&
		o.escalation.AllowsAutoExecution(s.Context.Autonomy.Level)

	o.recordViolations(ctx, r, s, review.ConstraintChecks)

	return stageResult{
		update: state.Update{
			Review:               &review,
			HardGuard:            &hard,
			Escalation:           &esc,
			CalibratedConfidence: state.Ptr(calibrated),
			Approved:             state.Ptr(approved),
			ShouldAutoExecute:    state.Ptr(auto),
		},
		input: summary,
		output: map[string]any{
			"approved":             approved,
			"shouldAutoExecute":    auto,
			"hardBlocks":           hard.HardBlocks,
			"calibratedConfidence": calibrated,
			"domain":               action.Domain,
			"riskAssessment":       review.RiskAssessment,
		},
		err: reviewErr,
	}
}

// review consults the oracle. Any failure returns safeReview.
func (o *Orchestrator) review(ctx context.Context, s state.PipelineState) (state.GuardianReview, error) {
	input := map[string]any{
		"draft":       s.Draft,
		"constraints": s.Context.Constraints,
		"simulations": s.Simulations,
		"verdict":     s.SimulationVerdict,
		"issues":      s.CognitiveIssues,
	}
	resp, err := o.ask(ctx, guardianPrompt, input)
	if err != nil {
		return safeReview(), err
	}
	review, err := extract.DecodeAs[state.GuardianReview](resp, guardianSchema)
	if err != nil {
		return safeReview(), err
	}
	if review.ConstraintChecks == nil {
		review.ConstraintChecks = []state.ConstraintCheck{}
	}
	if review.ModificationsRequired == nil {
		review.ModificationsRequired = []string{}
	}
	return review, nil
}

// recordViolations writes one row per failed constraint check. Failures
// are logged only.
func (o *Orchestrator) recordViolations(ctx context.Context, r *run, s state.PipelineState, checks []state.ConstraintCheck) {
	draftID := ""
	if s.Draft != nil {
		draftID = s.Draft.ID
	}
	for _, c := range checks {
		if c.Passed {
			continue
		}
		v := store.ConstraintViolation{
			ID:         uuid.NewString(),
			RunID:      s.RunID,
			UserID:     s.UserID,
			DraftID:    draftID,
			Constraint: c.Constraint,
			Note:       c.Note,
			CreatedAt:  o.now(),
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StoreTimeout)
		if err := o.deps.Drafts.InsertConstraintViolation(wctx, v); err != nil {
			r.logger.Warn("insert constraint violation failed", zap.String("constraint", c.Constraint), zap.Error(err))
		}
		cancel()
	}
}

// #endregion

// #region executor

var errNotAuthorized = errors.New("refusing to execute: draft is not approved for auto-execution")

func (o *Orchestrator) execute(ctx context.Context, r *run, s state.PipelineState) stageResult {
	summary := map[string]any{"approved": s.Approved, "shouldAutoExecute": s.ShouldAutoExecute, "hardApproved": s.HardApproved()}
	if !s.Approved || !s.ShouldAutoExecute || !s.HardApproved() || s.Draft == nil {
		return stageResult{
			update: state.Update{Approved: state.Ptr(false), ShouldAutoExecute: state.Ptr(false)},
			input:  summary,
			err:    errNotAuthorized,
		}
	}
	summary["draftId"] = s.Draft.ID

	now := o.now()
	draft := *s.Draft
	draft.Status = state.DraftApproved
	if err := o.saveDraft(ctx, s, draft, ""); err != nil {
		return stageResult{
			update: state.Update{Approved: state.Ptr(false), ShouldAutoExecute: state.Ptr(false)},
			input:  summary,
			err:    fmt.Errorf("save approved draft: %w", err),
		}
	}

	result := state.ExecutionResult{DraftID: draft.ID, Status: state.ExecutionExecuted, ExecutedAt: now}
	if o.deps.Publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
		err := o.deps.Publisher.PublishExecution(pctx, publish.Event{
			RunID:     s.RunID,
			UserID:    s.UserID,
			SignalID:  s.Signal.ID,
			Draft:     draft,
			Result:    result,
			Published: now,
		})
		cancel()
		if err != nil {
			result.Status = state.ExecutionFailed
			result.Detail = err.Error()
			return stageResult{
				update: state.Update{Draft: &draft, ExecutionResult: &result},
				input:  summary,
				output: result,
				err:    fmt.Errorf("publish execution: %w", err),
			}
		}
		result.Published = true
	}

	draft.Status = state.DraftAutoExecuted
	res := stageResult{update: state.Update{Draft: &draft, ExecutionResult: &result}, input: summary, output: result}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StoreTimeout)
	defer cancel()
	if err := o.deps.Drafts.UpdateDraftStatus(wctx, draft.ID, state.DraftAutoExecuted, &now); err != nil {
		r.logger.Warn("mark draft auto_executed failed", zap.String("draft_id", draft.ID), zap.Error(err))
		res.err = fmt.Errorf("mark draft auto_executed: %w", err)
	}
	return res
}

// saveDraft upserts the draft row with a bounded, cancellation-detached context.
func (o *Orchestrator) saveDraft(ctx context.Context, s state.PipelineState, draft state.Draft, reason string) error {
	now := o.now()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StoreTimeout)
	defer cancel()
	return o.deps.Drafts.SaveDraft(wctx, store.DraftRecord{
		Draft:        draft,
		RunID:        s.RunID,
		UserID:       s.UserID,
		ReviewReason: reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// #endregion

// #region review-queuer

func (o *Orchestrator) queueReview(ctx context.Context, _ *run, s state.PipelineState) stageResult {
	reason := ReviewReason(s, o.opts.AutoExecuteThreshold)
	upd := state.Update{ReviewReason: state.Ptr(reason), ShouldAutoExecute: state.Ptr(false)}
	summary := map[string]any{"draftId": nil, "errors": len(s.Errors)}
	if s.Draft == nil {
		return stageResult{update: upd, input: summary, output: map[string]any{"reason": reason, "saved": false}}
	}
	summary["draftId"] = s.Draft.ID

	draft := *s.Draft
	draft.Status = state.DraftPendingReview
	upd.Draft = &draft
	if err := o.saveDraft(ctx, s, draft, reason); err != nil {
		return stageResult{update: upd, input: summary, err: fmt.Errorf("queue draft for review: %w", err)}
	}
	return stageResult{update: upd, input: summary, output: map[string]any{"reason": reason, "saved": true}}
}

// ReviewReason explains why a run was not auto-executed. Checked in order:
// Guardian modifications, HardGuard blocks, calibrated confidence below
// threshold, autonomy blocks, confirmation requirements, stage errors,
// Guardian disapproval.
func ReviewReason(s state.PipelineState, threshold float64) string {
	if s.Review != nil && len(s.Review.ModificationsRequired) > 0 {
		return "Guardian requires modifications: " + strings.Join(s.Review.ModificationsRequired, "; ")
	}
	if s.HardGuard != nil && len(s.HardGuard.HardBlocks) > 0 {
		return "HardGuard blocked: " + strings.Join(s.HardGuard.HardBlocks, "; ")
	}
	if s.CalibratedConfidence != nil && *s.CalibratedConfidence < threshold {
		return fmt.Sprintf("confidence below threshold: %.2f < %.2f", *s.CalibratedConfidence, threshold)
	}
	if s.Escalation != nil {
		if len(s.Escalation.BlockedBy) > 0 {
			return "blocked by autonomy policy: " + strings.Join(s.Escalation.BlockedBy, "; ")
		}
		if s.Escalation.RequiresConfirmation {
			return "confirmation required: " + strings.Join(s.Escalation.ConfirmationNeeded, "; ")
		}
	}
	if len(s.Errors) > 0 {
		return fmt.Sprintf("pipeline errors (%d): %s", len(s.Errors), s.Errors[0])
	}
	if s.Review != nil && !s.Review.Approved {
		return fmt.Sprintf("Guardian did not approve (risk %s, recommendation %s)", s.Review.RiskAssessment, s.Review.Recommendation)
	}
	return "queued for human review"
}

// #endregion
