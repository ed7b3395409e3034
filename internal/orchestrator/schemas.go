package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/extract"
)

// #region item-schemas

const unitNumber = `{"type": "number", "minimum": 0, "maximum": 1}`

var observationItem = fmt.Sprintf(`{
  "type": "object",
  "required": ["type", "description", "confidence"],
  "properties": {
    "type": {"enum": ["pattern", "anomaly", "success", "failure", "opportunity", "risk"]},
    "description": {"type": "string", "minLength": 1},
    "confidence": %s,
    "evidence": {"type": "string"}
  }
}`, unitNumber)

var limitItem = `{
  "type": "object",
  "required": ["type", "description", "severity"],
  "properties": {
    "type": {"enum": ["prediction_blind_spot", "domain_weakness", "timing_error", "confidence_miscalibration"]},
    "description": {"type": "string", "minLength": 1},
    "severity": {"enum": ["low", "medium", "high"]},
    "evidence": {"type": "array", "items": {"type": "string"}},
    "suggestedRemedy": {"type": "string"}
  }
}`

var simulationItem = fmt.Sprintf(`{
  "type": "object",
  "required": ["scenario", "probability", "predictedOutcome"],
  "properties": {
    "scenario": {"type": "string", "minLength": 1},
    "probability": %s,
    "predictedOutcome": {"type": "string"},
    "risks": {"type": "array", "items": {"type": "string"}},
    "opportunities": {"type": "array", "items": {"type": "string"}}
  }
}`, unitNumber)

var improvementItem = `{
  "type": "object",
  "required": ["type", "target", "proposedChange"],
  "properties": {
    "type": {"enum": ["prompt_adjustment", "strategy_update", "threshold_change", "new_pattern"]},
    "target": {"type": "string", "minLength": 1},
    "currentState": {"type": "string"},
    "proposedChange": {"type": "string", "minLength": 1},
    "expectedImpact": {"type": "string"},
    "risk": {"type": "string"}
  }
}`

// #endregion

// #region node-schemas

// listSchema accepts either a bare array of item or {key: [item...]}.
func listSchema(key, item string) string {
	return fmt.Sprintf(`{
  "anyOf": [
    {"type": "array", "items": %[2]s},
    {"type": "object", "required": [%[1]q], "properties": {%[1]q: {"type": "array", "items": %[2]s}}}
  ]
}`, key, item)
}

var (
	observerSchema = extract.MustCompileSchema("observer", listSchema("observations", observationItem))

	intentSchema = extract.MustCompileSchema("intent", fmt.Sprintf(`{
  "type": "object",
  "required": ["predictedNeed", "confidence", "suggestedAction", "draftType", "urgency"],
  "properties": {
    "predictedNeed": {"type": "string", "minLength": 1},
    "confidence": %s,
    "reasoning": {"type": "string"},
    "suggestedAction": {"type": "string", "minLength": 1},
    "draftType": {"type": "string", "minLength": 1},
    "urgency": {"enum": ["immediate", "soon", "when_convenient"]}
  }
}`, unitNumber))

	draftSchema = extract.MustCompileSchema("draft", fmt.Sprintf(`{
  "type": "object",
  "required": ["title", "content", "confidence"],
  "properties": {
    "draftType": {"type": "string"},
    "title": {"type": "string", "minLength": 1},
    "content": {"type": "string"},
    "confidence": %s
  }
}`, unitNumber))

	diagnoserSchema = extract.MustCompileSchema("diagnoser", listSchema("cognitiveLimits", limitItem))

	simulatorSchema = extract.MustCompileSchema("simulator", fmt.Sprintf(`{
  "type": "object",
  "required": ["simulations", "recommendation"],
  "properties": {
    "simulations": {"type": "array", "items": %s},
    "recommendation": {"enum": ["proceed", "modify", "abort"]}
  }
}`, simulationItem))

	evolverSchema = extract.MustCompileSchema("evolver", listSchema("improvements", improvementItem))

	guardianSchema = extract.MustCompileSchema("guardian", `{
  "type": "object",
  "required": ["approved", "riskAssessment", "recommendation"],
  "properties": {
    "approved": {"type": "boolean"},
    "constraintChecks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["constraint", "passed"],
        "properties": {
          "constraint": {"type": "string"},
          "passed": {"type": "boolean"},
          "note": {"type": "string"}
        }
      }
    },
    "modificationsRequired": {"type": "array", "items": {"type": "string"}},
    "riskAssessment": {"enum": ["low", "medium", "high"]},
    "recommendation": {"enum": ["approve", "modify", "reject"]}
  }
}`)
)

// #endregion

// #region decode-list

// decodeList decodes a response validated by a listSchema into []T.
func decodeList[T any](text string, schema *extract.Schema, key string) ([]T, error) {
	var raw json.RawMessage
	if err := extract.Decode(text, schema, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decode %s: %w", schema.Name(), err)
		}
		raw = wrapped[key]
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", schema.Name(), err)
	}
	return items, nil
}

// #endregion
