package orchestrator

// #region imports
import (
	"strings"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/escalation"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/gate"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #endregion

// #region keywords

// domainKeywords are checked in order; first domain with a hit wins.
var domainKeywords = []struct {
	domain string
	words  []string
}{
	{"finance", []string{"bill", "invoice", "budget", "payment", "bank", "expense", "refund", "subscription", "salary"}},
	{"health", []string{"doctor", "appointment", "medication", "workout", "sleep", "therapy", "prescription", "dentist"}},
	{"career", []string{"interview", "resume", "job offer", "promotion", "recruiter", "linkedin"}},
	{"work", []string{"meeting", "project", "deadline", "standup", "report", "sprint", "client"}},
	{"social", []string{"birthday", "friend", "party", "dinner", "family", "wedding"}},
	{"home", []string{"rent", "repair", "grocery", "groceries", "cleaning", "utilities", "landlord"}},
	{"travel", []string{"flight", "hotel", "trip", "booking", "itinerary", "airport"}},
}

var irreversibleKeywords = []string{
	"delete", "cancel", "purchase", "buy", "pay", "submit",
	"unsubscribe", "publish", "transfer",
}

// commsDraftTypes is shared with HardGuard's external communication rule.
var commsDraftTypes = gate.DefaultGateConfig().CommsTypes

// #endregion

// #region classify

// ClassifyAction describes the run's draft as an escalation action via
// keyword heuristics. No model call. Confidence is left for the caller.
func ClassifyAction(s state.PipelineState) escalation.Action {
	if s.Draft == nil {
		return escalation.Action{Type: "none", Domain: "general"}
	}
	lowerType := strings.ToLower(s.Draft.DraftType)
	text := strings.ToLower(s.Draft.Title + " " + s.Draft.Content)
	if s.Intent != nil {
		text += " " + strings.ToLower(s.Intent.SuggestedAction)
	}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	return escalation.Action{
		Type:           s.Draft.DraftType,
		Domain:         classifyDomain(text, words),
		IsIrreversible: containsAny(lowerType, commsDraftTypes) || hasWord(words, irreversibleKeywords),
	}
}

// #endregion

// #region helpers

func classifyDomain(text string, words []string) string {
	for _, d := range domainKeywords {
		for _, kw := range d.words {
			if strings.Contains(kw, " ") {
				if strings.Contains(text, kw) {
					return d.domain
				}
				continue
			}
			if hasWord(words, []string{kw}) {
				return d.domain
			}
		}
	}
	return "general"
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// hasWord matches whole words so "payday" does not count as "pay".
func hasWord(words, targets []string) bool {
	for _, w := range words {
		for _, t := range targets {
			if w == t {
				return true
			}
		}
	}
	return false
}

// #endregion
