package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/gate"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Runs            []FixtureRun            `json:"runs"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureRun is one recorded run.
type FixtureRun struct {
	RunID            string              `json:"run_id"`
	RecordedApproved bool                `json:"recorded_approved"`
	AutoExecuted     bool                `json:"auto_executed"`
	FinalState       state.PipelineState `json:"final_state"`
}

// FixtureExpectedResult captures the expected audit action per run.
type FixtureExpectedResult struct {
	RunID  string `json:"run_id"`
	Action string `json:"action"`
}

// FixtureConfig overrides the default rules. Zero values keep defaults.
type FixtureConfig struct {
	GateConfig  FixtureGateConfig  `json:"gate_config"`
	RouteConfig FixtureRouteConfig `json:"route_config"`
}

// FixtureGateConfig mirrors gate.GateConfig with JSON tags.
type FixtureGateConfig struct {
	ConfidenceFloor float64  `json:"confidence_floor"`
	CommsTypes      []string `json:"comms_types"`
}

// FixtureRouteConfig mirrors graph.RouteConfig with JSON tags.
type FixtureRouteConfig struct {
	MinTraceSteps int     `json:"min_trace_steps"`
	DeepCutoff    float64 `json:"deep_cutoff"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Entries converts the fixture's runs to audit entries.
func (f *Fixture) Entries() []Entry {
	out := make([]Entry, 0, len(f.Runs))
	for _, r := range f.Runs {
		out = append(out, Entry{
			RunID:            r.RunID,
			RecordedApproved: r.RecordedApproved,
			AutoExecuted:     r.AutoExecuted,
			State:            r.FinalState,
		})
	}
	return out
}

// ToReplayConfig applies the fixture's overrides to the defaults. A
// confidence floor below gate.MinConfidenceFloor keeps the default.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if fc.GateConfig.ConfidenceFloor >= gate.MinConfidenceFloor {
		cfg.GateConfig.ConfidenceFloor = fc.GateConfig.ConfidenceFloor
	}
	if len(fc.GateConfig.CommsTypes) > 0 {
		cfg.GateConfig.CommsTypes = fc.GateConfig.CommsTypes
	}
	if fc.RouteConfig.MinTraceSteps > 0 {
		cfg.RouteConfig.MinTraceSteps = fc.RouteConfig.MinTraceSteps
	}
	if fc.RouteConfig.DeepCutoff > 0 {
		cfg.RouteConfig.DeepCutoff = fc.RouteConfig.DeepCutoff
	}
	return cfg
}

// Mismatches compares results with the fixture's expectations and returns
// one message per disagreement.
func (f *Fixture) Mismatches(results []ReplayResult) []string {
	byRun := make(map[string]ReplayResult, len(results))
	for _, r := range results {
		byRun[r.RunID] = r
	}
	var out []string
	for _, exp := range f.ExpectedResults {
		got, ok := byRun[exp.RunID]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s: no result", exp.RunID))
		case got.Action != exp.Action:
			out = append(out, fmt.Sprintf("%s: expected %s, got %s (%s)", exp.RunID, exp.Action, got.Action, got.Reason))
		}
	}
	return out
}

// #endregion fixture-loader

// #region fixture-export

// BuildFixture snapshots entries, oldest first, into a fixture whose
// expected results are what config decides today. Committing the output
// pins current behaviour so later rule changes show up as mismatches.
func BuildFixture(description string, entries []Entry, config ReplayConfig) *Fixture {
	f := &Fixture{
		Description: description,
		Config: FixtureConfig{
			GateConfig: FixtureGateConfig{
				ConfidenceFloor: config.GateConfig.ConfidenceFloor,
				CommsTypes:      config.GateConfig.CommsTypes,
			},
			RouteConfig: FixtureRouteConfig{
				MinTraceSteps: config.RouteConfig.MinTraceSteps,
				DeepCutoff:    config.RouteConfig.DeepCutoff,
			},
		},
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		f.Runs = append(f.Runs, FixtureRun{
			RunID:            e.RunID,
			RecordedApproved: e.RecordedApproved,
			AutoExecuted:     e.AutoExecuted,
			FinalState:       e.State,
		})
	}
	for _, r := range Replay(f.Entries(), config) {
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{RunID: r.RunID, Action: r.Action})
	}
	return f
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-export
