package gate

import "github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"

// #region veto-type
// VetoType enumerates hard veto rules.
type VetoType string

const (
	VetoNoDraft    VetoType = "no_draft"
	VetoComms      VetoType = "external_comms"
	VetoKeyword    VetoType = "risk_keyword"
	VetoSimulation VetoType = "simulation_risk"
	VetoConfidence VetoType = "confidence_floor"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type     VetoType
	Category string // keyword category, only for VetoKeyword
	Reason   string
}

// #endregion veto-signal

// #region keyword-category
// KeywordCategory is a named set of high-risk terms. Terms are matched
// case-insensitively on word boundaries.
type KeywordCategory struct {
	Name  string
	Terms []string
}

// DefaultKeywordCategories returns the fixed high-risk keyword set, in
// match order.
func DefaultKeywordCategories() []KeywordCategory {
	return []KeywordCategory{
		{Name: "financial_transfer", Terms: []string{
			"wire transfer", "bank transfer", "transfer funds", "send money",
			"routing number", "account number", "ach", "swift", "iban",
			"zelle", "venmo", "paypal",
		}},
		{Name: "credentials", Terms: []string{
			"password", "passcode", "api key", "secret key", "private key",
			"access token", "ssn", "social security number", "2fa code",
			"credentials",
		}},
		{Name: "legal", Terms: []string{
			"contract", "lawsuit", "legal notice", "settlement",
			"power of attorney", "nda", "binding agreement", "sign the agreement",
		}},
		{Name: "tax_crypto", Terms: []string{
			"tax return", "tax filing", "irs", "bitcoin", "crypto",
			"cryptocurrency", "ethereum", "wallet address", "seed phrase",
		}},
	}
}

// #endregion keyword-category

// #region gate-config

// MinConfidenceFloor is the lowest confidence floor a gate will apply.
// Configured floors below it are raised to it.
const MinConfidenceFloor = 0.5

// GateConfig holds the deterministic gate's rules.
type GateConfig struct {
	ConfidenceFloor float64           // drafts below this raw confidence are blocked
	CommsTypes      []string          // draft type substrings classified as external communication
	Categories      []KeywordCategory // checked in order, first match wins
}

// DefaultGateConfig returns the production rule set.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ConfidenceFloor: MinConfidenceFloor,
		CommsTypes:      []string{"email", "message", "sms", "slack", "notification"},
		Categories:      DefaultKeywordCategories(),
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Vetoed              bool
	VetoSignals         []VetoSignal // non-empty if vetoed
	SimulationHighRisk  bool
	RequiresHumanReview bool
}

// Result converts the decision to the state's HardGuardResult.
func (d GateDecision) Result() state.HardGuardResult {
	blocks := make([]string, 0, len(d.VetoSignals))
	for _, v := range d.VetoSignals {
		blocks = append(blocks, v.Reason)
	}
	return state.HardGuardResult{
		HardApproved:        !d.Vetoed,
		HardBlocks:          blocks,
		RequiresHumanReview: d.RequiresHumanReview,
	}
}

// #endregion gate-decision
