package signals

import (
	"encoding/json"
	"time"
)

// #region signal

// Signal is an external event that triggers one pipeline run.
// It is read-only once it enters the pipeline.
type Signal struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Source     string          `json:"source"`
	SignalType string          `json:"signalType"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// #endregion signal

// #region sampling-config

// SamplingConfig controls how runs are sampled into the exploration branch.
type SamplingConfig struct {
	Rate float64 // fraction of eligible signals routed to deep analysis, 0-1
}

// DefaultSamplingConfig returns a 10% exploration rate.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{Rate: 0.1}
}

// #endregion sampling-config
