package gate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #region gate
// Gate is the deterministic safety veto. It holds no mutable state and is
// safe for concurrent use.
type Gate struct {
	config   GateConfig
	patterns []categoryPattern
}

type categoryPattern struct {
	name string
	re   *regexp.Regexp
}

// NewGate creates a gate with the given configuration. The confidence floor
// never drops below MinConfidenceFloor.
func NewGate(config GateConfig) *Gate {
	config.ConfidenceFloor = max(config.ConfidenceFloor, MinConfidenceFloor)
	g := &Gate{config: config}
	for _, c := range config.Categories {
		if len(c.Terms) == 0 {
			continue
		}
		quoted := make([]string, len(c.Terms))
		for i, t := range c.Terms {
			quoted[i] = regexp.QuoteMeta(strings.ToLower(t))
		}
		g.patterns = append(g.patterns, categoryPattern{
			name: c.Name,
			re:   regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`),
		})
	}
	return g
}

// Evaluate derives a fresh decision from the current pipeline state. Prior
// HardGuard results on the state are ignored.
func (g *Gate) Evaluate(s state.PipelineState) GateDecision {
	var vetoes []VetoSignal

	simHighRisk := simulationsHighRisk(s)

	// 1. No draft
	if s.Draft == nil {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoNoDraft,
			Reason: "no draft to evaluate",
		})
	} else {
		d := s.Draft

		// 2. External communication without opt-in
		if g.isComms(d.DraftType) && !s.Context.AllowAutoComms {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoComms,
				Reason: fmt.Sprintf("draft type %q is external communication and auto-comms are not enabled", d.DraftType),
			})
		}

		// 3. High-risk keywords; first match only
		if cat, term, ok := g.matchKeyword(d.Title + "\n" + d.Content); ok {
			vetoes = append(vetoes, VetoSignal{
				Type:     VetoKeyword,
				Category: cat,
				Reason:   fmt.Sprintf("high-risk content (%s): matched %q", cat, term),
			})
		}

		// 5. Confidence floor
		if d.Confidence < g.config.ConfidenceFloor {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoConfidence,
				Reason: fmt.Sprintf("draft confidence %.2f below floor %.2f", d.Confidence, g.config.ConfidenceFloor),
			})
		}
	}

	// 4. Simulations flag high risk or abort
	if simHighRisk {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoSimulation,
			Reason: "simulation indicates high risk or recommends abort",
		})
	}

	vetoed := len(vetoes) > 0
	review := vetoed || simHighRisk || len(s.Errors) > 0 || len(s.CognitiveIssues) > 0
	return GateDecision{
		Vetoed:              vetoed,
		VetoSignals:         vetoes,
		SimulationHighRisk:  simHighRisk,
		RequiresHumanReview: review,
	}
}

// #endregion gate

// #region helpers
func (g *Gate) isComms(draftType string) bool {
	t := strings.ToLower(draftType)
	for _, c := range g.config.CommsTypes {
		if c != "" && strings.Contains(t, c) {
			return true
		}
	}
	return false
}

// matchKeyword returns the first category whose pattern matches text.
func (g *Gate) matchKeyword(text string) (category, term string, ok bool) {
	lower := strings.ToLower(text)
	for _, p := range g.patterns {
		if m := p.re.FindString(lower); m != "" {
			return p.name, m, true
		}
	}
	return "", "", false
}

var simulationRiskMarkers = []string{"high risk", "high_risk", `"abort"`, `"reject"`}

// simulationsHighRisk string-matches the normalized simulation JSON.
func simulationsHighRisk(s state.PipelineState) bool {
	if s.SimulationVerdict == state.VerdictAbort {
		return true
	}
	if len(s.Simulations) == 0 {
		return false
	}
	raw, err := json.Marshal(s.Simulations)
	if err != nil {
		return true
	}
	normalized := strings.ToLower(string(raw))
	for _, m := range simulationRiskMarkers {
		if strings.Contains(normalized, m) {
			return true
		}
	}
	return false
}

// #endregion helpers
