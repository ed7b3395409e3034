package signals

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// sampleBuckets is the resolution of the exploration sampler.
const sampleBuckets = 10000

// #region validate

// Validate reports every structural problem with a signal in one error.
func Validate(sig Signal) error {
	var problems []string
	if strings.TrimSpace(sig.ID) == "" {
		problems = append(problems, "missing id")
	}
	if strings.TrimSpace(sig.UserID) == "" {
		problems = append(problems, "missing userId")
	}
	if strings.TrimSpace(sig.SignalType) == "" {
		problems = append(problems, "missing signalType")
	}
	if sig.CreatedAt.IsZero() {
		problems = append(problems, "missing createdAt")
	}
	if len(sig.Payload) > 0 && !json.Valid(sig.Payload) {
		problems = append(problems, "payload is not valid JSON")
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid signal %q: %s", sig.ID, strings.Join(problems, ", "))
}

// #endregion validate

// #region decode

// Decode reads a single JSON signal from r and validates it.
func Decode(r io.Reader) (Signal, error) {
	var sig Signal
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sig); err != nil {
		if errors.Is(err, io.EOF) {
			return Signal{}, fmt.Errorf("decode signal: empty input")
		}
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	if err := Validate(sig); err != nil {
		return Signal{}, err
	}
	return sig, nil
}

// #endregion decode

// #region sample

// Sampled reports whether the signal falls inside the exploration sample.
// The decision is a pure function of the signal ID so replays route identically.
func Sampled(sig Signal, cfg SamplingConfig) bool {
	if cfg.Rate <= 0 {
		return false
	}
	if cfg.Rate >= 1 {
		return true
	}
	sum := blake3.Sum256([]byte(sig.ID))
	bucket := binary.BigEndian.Uint64(sum[:8]) % sampleBuckets
	return float64(bucket) < cfg.Rate*sampleBuckets
}

// #endregion sample
