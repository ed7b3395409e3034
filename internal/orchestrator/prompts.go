package orchestrator

// #region imports
import (
	"encoding/json"
	"fmt"
	"strings"
)

// #endregion

// #region prompt-templates

// promptTemplate is the fixed frame around each stage's oracle call. The
// oracle is asked for JSON only; extract tolerates the usual deviations.
type promptTemplate struct {
	role  string
	task  string
	shape string
}

var (
	observerPrompt = promptTemplate{
		role:  "observer",
		task:  "Note patterns, anomalies, successes, failures, opportunities and risks in this signal, using the user's recent outcomes as context.",
		shape: `{"observations": [{"type": "pattern|anomaly|success|failure|opportunity|risk", "description": "", "confidence": 0.0, "evidence": ""}]}`,
	}
	intentPrompt = promptTemplate{
		role:  "intent predictor",
		task:  "Predict the single most likely need behind this signal and the action that would serve it.",
		shape: `{"predictedNeed": "", "confidence": 0.0, "reasoning": "", "suggestedAction": "", "draftType": "", "urgency": "immediate|soon|when_convenient"}`,
	}
	draftPrompt = promptTemplate{
		role:  "draft generator",
		task:  "Write a concrete draft that carries out the suggested action. Do not execute anything.",
		shape: `{"draftType": "", "title": "", "content": "", "confidence": 0.0}`,
	}
	diagnoserPrompt = promptTemplate{
		role:  "diagnoser",
		task:  "Identify blind spots in the reasoning so far: missed predictions, weak domains, timing errors, miscalibrated confidence.",
		shape: `{"cognitiveLimits": [{"type": "prediction_blind_spot|domain_weakness|timing_error|confidence_miscalibration", "description": "", "severity": "low|medium|high", "evidence": [""], "suggestedRemedy": ""}]}`,
	}
	simulatorPrompt = promptTemplate{
		role:  "simulator",
		task:  "Project the plausible outcomes of acting on this draft, accounting for the known cognitive limits, and recommend whether to proceed.",
		shape: `{"simulations": [{"scenario": "", "probability": 0.0, "predictedOutcome": "", "risks": [""], "opportunities": [""]}], "recommendation": "proceed|modify|abort"}`,
	}
	evolverPrompt = promptTemplate{
		role:  "evolver",
		task:  "Propose improvements that would remove these cognitive limits in future runs. Proposals are reviewed separately and never applied automatically.",
		shape: `{"improvements": [{"type": "prompt_adjustment|strategy_update|threshold_change|new_pattern", "target": "", "currentState": "", "proposedChange": "", "expectedImpact": "", "risk": ""}]}`,
	}
	guardianPrompt = promptTemplate{
		role:  "guardian",
		task:  "Review this draft against every user constraint. Check each constraint explicitly, list required modifications and assess the risk of acting without a human.",
		shape: `{"approved": false, "constraintChecks": [{"constraint": "", "passed": true, "note": ""}], "modificationsRequired": [""], "riskAssessment": "low|medium|high", "recommendation": "approve|modify|reject"}`,
	}
)

// #endregion

// #region render

// render builds the prompt text for input. Input is embedded as indented JSON.
func (p promptTemplate) render(input any) (string, error) {
	body, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s input: %w", p.role, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s stage of a personal assistant's reasoning pipeline.\n", p.role)
	b.WriteString(p.task)
	b.WriteString("\n\nINPUT:\n")
	b.Write(body)
	b.WriteString("\n\nRespond with a single JSON value shaped like:\n")
	b.WriteString(p.shape)
	b.WriteString("\n")
	return b.String(), nil
}

// #endregion
