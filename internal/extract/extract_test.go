package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intentOut struct {
	PredictedNeed string  `json:"predictedNeed"`
	Confidence    float64 `json:"confidence"`
}

const intentSchemaSrc = `{
  "type": "object",
  "required": ["predictedNeed", "confidence"],
  "properties": {
    "predictedNeed": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

func TestDecodeStrategies(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  intentOut
	}{
		{
			name:  "direct",
			input: `{"predictedNeed":"reply","confidence":0.8}`,
			want:  intentOut{"reply", 0.8},
		},
		{
			name:  "markdown fence",
			input: "Sure, here you go:\n```json\n{\"predictedNeed\": \"reply\", \"confidence\": 0.6}\n```\nLet me know.",
			want:  intentOut{"reply", 0.6},
		},
		{
			name:  "object in prose",
			input: `The answer is {"predictedNeed":"schedule","confidence":0.4} as requested.`,
			want:  intentOut{"schedule", 0.4},
		},
		{
			name:  "trailing comma and comment",
			input: "{\n  \"predictedNeed\": \"pay bill\", // obvious\n  \"confidence\": 0.9,\n}",
			want:  intentOut{"pay bill", 0.9},
		},
		{
			name:  "comma before brace inside string is kept",
			input: "{\"predictedNeed\": \"say see you, }\", \"confidence\": 0.7,}",
			want:  intentOut{"say see you, }", 0.7},
		},
		{
			name:  "url inside string is kept",
			input: `{"predictedNeed":"open http://example.com/a","confidence":0.5}`,
			want:  intentOut{"open http://example.com/a", 0.5},
		},
	}
	schema := MustCompileSchema("intent", intentSchemaSrc)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAs[intentOut](tt.input, schema)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripTrailingCommas(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a": 1,}`, `{"a": 1}`},
		{"[1, 2,\n]", "[1, 2\n]"},
		{`{"a": "x, }", "b": [1,],}`, `{"a": "x, }", "b": [1]}`},
		{`{"a": "q\", ]",}`, `{"a": "q\", ]"}`},
		{`{"a": 1, "b": 2}`, `{"a": 1, "b": 2}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripTrailingCommas(tt.in), "input %q", tt.in)
	}
}

func TestDecodeArrayFallback(t *testing.T) {
	input := `Observations: [{"type":"pattern"},{"type":"risk"}] end`
	var out []map[string]string
	require.NoError(t, Decode(input, nil, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "risk", out[1]["type"])
}

func TestDecodeFailures(t *testing.T) {
	schema := MustCompileSchema("intent", intentSchemaSrc)
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"prose only", "I could not decide."},
		{"broken json", `{"predictedNeed": "x", "confidence": }`},
		{"schema violation", `{"predictedNeed":"x","confidence":1.7}`},
		{"missing required", `{"confidence":0.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAs[intentOut](tt.input, schema)
			require.Error(t, err)
			assert.True(t, IsParseError(err), "expected *ParseError, got %T", err)
		})
	}
}

func TestCandidatesOrder(t *testing.T) {
	input := "```json\n{\"a\":1}\n```\n[1,2]"
	cands := Candidates(input)
	var strategies []string
	for _, c := range cands {
		strategies = append(strategies, c.Strategy)
	}
	assert.Equal(t, []string{"direct", "fence", "object", "array"}, strategies)
}

func TestParseErrorListsAttempts(t *testing.T) {
	err := Decode("no json {here", nil, &map[string]any{})
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"direct"}, pe.Attempts)
}

func TestCompileSchemaRejectsInvalid(t *testing.T) {
	_, err := CompileSchema("bad", `{"type": 12}`)
	require.Error(t, err)
}
