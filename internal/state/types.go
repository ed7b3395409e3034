package state

import (
	"encoding/json"
	"time"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/signals"
)

// #region enums

// ObservationType classifies what the observer noticed.
type ObservationType string

const (
	ObservationPattern     ObservationType = "pattern"
	ObservationAnomaly     ObservationType = "anomaly"
	ObservationSuccess     ObservationType = "success"
	ObservationFailure     ObservationType = "failure"
	ObservationOpportunity ObservationType = "opportunity"
	ObservationRisk        ObservationType = "risk"
)

// Urgency is how soon the predicted need should be acted on.
type Urgency string

const (
	UrgencyImmediate      Urgency = "immediate"
	UrgencySoon           Urgency = "soon"
	UrgencyWhenConvenient Urgency = "when_convenient"
)

// DraftStatus is the lifecycle status of a draft row.
type DraftStatus string

const (
	DraftPendingReview DraftStatus = "pending_review"
	DraftApproved      DraftStatus = "approved"
	DraftRejected      DraftStatus = "rejected"
	DraftAutoExecuted  DraftStatus = "auto_executed"
)

// LimitType enumerates cognitive limits the diagnoser can report.
type LimitType string

const (
	LimitPredictionBlindSpot      LimitType = "prediction_blind_spot"
	LimitDomainWeakness           LimitType = "domain_weakness"
	LimitTimingError              LimitType = "timing_error"
	LimitConfidenceMiscalibration LimitType = "confidence_miscalibration"
)

// Level is a three-step severity/risk scale.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ImprovementType enumerates the kinds of self-improvement proposals.
type ImprovementType string

const (
	ImprovementPromptAdjustment ImprovementType = "prompt_adjustment"
	ImprovementStrategyUpdate   ImprovementType = "strategy_update"
	ImprovementThresholdChange  ImprovementType = "threshold_change"
	ImprovementNewPattern       ImprovementType = "new_pattern"
)

// Verdict is the simulator's overall recommendation.
type Verdict string

const (
	VerdictProceed Verdict = "proceed"
	VerdictModify  Verdict = "modify"
	VerdictAbort   Verdict = "abort"
)

// Recommendation is the guardian's recommendation.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendModify  Recommendation = "modify"
	RecommendReject  Recommendation = "reject"
)

// #endregion enums

// #region reasoning-artifacts

// Observation is one thing the observer noticed about the signal.
type Observation struct {
	Type        ObservationType `json:"type"`
	Description string          `json:"description"`
	Confidence  float64         `json:"confidence"`
	Evidence    string          `json:"evidence"`
}

// Intent is the single predicted need for a run.
type Intent struct {
	ID              string  `json:"id"`
	SignalID        string  `json:"signalId"`
	PredictedNeed   string  `json:"predictedNeed"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	SuggestedAction string  `json:"suggestedAction"`
	DraftType       string  `json:"draftType"`
	Urgency         Urgency `json:"urgency"`
}

// Draft is a generated, not-yet-committed candidate action.
type Draft struct {
	ID         string      `json:"id"`
	IntentID   string      `json:"intentId"`
	DraftType  string      `json:"draftType"`
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	Confidence float64     `json:"confidence"`
	Status     DraftStatus `json:"status"`
}

// CognitiveLimit is a blind spot identified in the reasoning so far.
type CognitiveLimit struct {
	Type            LimitType `json:"type"`
	Description     string    `json:"description"`
	Severity        Level     `json:"severity"`
	Evidence        []string  `json:"evidence"`
	SuggestedRemedy string    `json:"suggestedRemedy"`
}

// Simulation is one projected scenario for the draft.
type Simulation struct {
	Scenario         string   `json:"scenario"`
	Probability      float64  `json:"probability"`
	PredictedOutcome string   `json:"predictedOutcome"`
	Risks            []string `json:"risks"`
	Opportunities    []string `json:"opportunities"`
}

// Improvement is a self-improvement proposal. Never applied by the pipeline.
type Improvement struct {
	Type           ImprovementType `json:"type"`
	Target         string          `json:"target"`
	CurrentState   string          `json:"currentState"`
	ProposedChange string          `json:"proposedChange"`
	ExpectedImpact string          `json:"expectedImpact"`
	Risk           string          `json:"risk"`
}

// #endregion reasoning-artifacts

// #region safety-artifacts

// HardGuardResult is the deterministic safety verdict. Always freshly derived.
type HardGuardResult struct {
	HardApproved        bool     `json:"hardApproved"`
	HardBlocks          []string `json:"hardBlocks"`
	RequiresHumanReview bool     `json:"requiresHumanReview"`
}

// ConstraintCheck is the guardian's verdict on one user constraint.
type ConstraintCheck struct {
	Constraint string `json:"constraint"`
	Passed     bool   `json:"passed"`
	Note       string `json:"note,omitempty"`
}

// GuardianReview is the probabilistic reviewer's output.
type GuardianReview struct {
	Approved              bool              `json:"approved"`
	ConstraintChecks      []ConstraintCheck `json:"constraintChecks"`
	ModificationsRequired []string          `json:"modificationsRequired"`
	RiskAssessment        Level             `json:"riskAssessment"`
	Recommendation        Recommendation    `json:"recommendation"`
}

// EscalationDecision says whether an action class may proceed unattended.
type EscalationDecision struct {
	CanProceed           bool     `json:"canProceed"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	ConfirmationNeeded   []string `json:"confirmationNeeded"`
	BlockedBy            []string `json:"blockedBy"`
	Observing            []string `json:"observing"`
}

// Execution statuses.
const (
	ExecutionExecuted = "executed"
	ExecutionFailed   = "failed"
)

// ExecutionResult records what the executor did.
type ExecutionResult struct {
	DraftID    string    `json:"draftId"`
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executedAt"`
	Detail     string    `json:"detail,omitempty"`
	Published  bool      `json:"published"`
}

// #endregion safety-artifacts

// #region trace

// ReasoningStep records one stage invocation.
type ReasoningStep struct {
	Node       string          `json:"node"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
	Timestamp  time.Time       `json:"timestamp"`
}

// #endregion trace

// #region user-context

// Outcome is a recent draft outcome used as observer context.
type Outcome struct {
	DraftID   string      `json:"draftId"`
	DraftType string      `json:"draftType"`
	Title     string      `json:"title"`
	Status    DraftStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// AutonomyProfile is the user's trust tier and domain rules at run start.
type AutonomyProfile struct {
	Level          int      `json:"level"`
	Reason         string   `json:"reason"`
	BlockedDomains []string `json:"blockedDomains,omitempty"`
	ConfirmDomains []string `json:"confirmDomains,omitempty"`
	ObserveDomains []string `json:"observeDomains,omitempty"`
}

// UserContext is the read-only snapshot of everything known about the user at run start.
type UserContext struct {
	Goals          []string          `json:"goals,omitempty"`
	Preferences    map[string]string `json:"preferences,omitempty"`
	Strategies     []string          `json:"strategies,omitempty"`
	RecentOutcomes []Outcome         `json:"recentOutcomes,omitempty"`
	Constraints    []string          `json:"constraints,omitempty"`
	AllowAutoComms bool              `json:"allowAutoComms"`
	ExploreEnabled bool              `json:"exploreEnabled"`
	Timezone       string            `json:"timezone,omitempty"`
	Autonomy       AutonomyProfile   `json:"autonomy"`
	LoadErrors     []string          `json:"loadErrors,omitempty"` // sources that failed; their fields hold safe defaults
}

// #endregion user-context

// #region pipeline-state

// PipelineState is the aggregate threaded through every stage of one run.
type PipelineState struct {
	RunID     string         `json:"runId"`
	UserID    string         `json:"userId"`
	Signal    signals.Signal `json:"signal"`
	Context   UserContext    `json:"context"`
	Explore   bool           `json:"explore"`
	StartedAt time.Time      `json:"startedAt"`

	Observations         []Observation       `json:"observations"`
	Intent               *Intent             `json:"intent"`
	Draft                *Draft              `json:"draft"`
	CognitiveIssues      []CognitiveLimit    `json:"cognitiveIssues"`
	Simulations          []Simulation        `json:"simulations"`
	SimulationVerdict    Verdict             `json:"simulationVerdict,omitempty"`
	Improvements         []Improvement       `json:"improvements"`
	HardGuard            *HardGuardResult    `json:"hardGuard"`
	Review               *GuardianReview     `json:"review"`
	Escalation           *EscalationDecision `json:"escalation"`
	CalibratedConfidence *float64            `json:"calibratedConfidence"`
	Approved             bool                `json:"approved"`
	ShouldAutoExecute    bool                `json:"shouldAutoExecute"`
	ExecutionResult      *ExecutionResult    `json:"executionResult"`
	ReviewReason         string              `json:"reviewReason,omitempty"`

	Trace  []ReasoningStep `json:"trace"`
	Errors []string        `json:"errors"`
}

// Update is a partial state returned by a stage. Nil or empty fields are absent.
type Update struct {
	Observations         []Observation       `json:"observations,omitempty"`
	Intent               *Intent             `json:"intent,omitempty"`
	Draft                *Draft              `json:"draft,omitempty"`
	CognitiveIssues      []CognitiveLimit    `json:"cognitiveIssues,omitempty"`
	Simulations          []Simulation        `json:"simulations,omitempty"`
	SimulationVerdict    *Verdict            `json:"simulationVerdict,omitempty"`
	Improvements         []Improvement       `json:"improvements,omitempty"`
	HardGuard            *HardGuardResult    `json:"hardGuard,omitempty"`
	Review               *GuardianReview     `json:"review,omitempty"`
	Escalation           *EscalationDecision `json:"escalation,omitempty"`
	CalibratedConfidence *float64            `json:"calibratedConfidence,omitempty"`
	Approved             *bool               `json:"approved,omitempty"`
	ShouldAutoExecute    *bool               `json:"shouldAutoExecute,omitempty"`
	ExecutionResult      *ExecutionResult    `json:"executionResult,omitempty"`
	ReviewReason         *string             `json:"reviewReason,omitempty"`

	Trace  []ReasoningStep `json:"-"`
	Errors []string        `json:"errors,omitempty"`
}

// #endregion pipeline-state
