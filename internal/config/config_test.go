package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	yamlDoc := `
database:
  path: /tmp/pulse-test.db
oracle:
  backend: openai
  model: gpt-4o-mini
  timeout: 5s
pipeline:
  auto_execute_threshold: 0.9
  exploration_rate: 0
calibration:
  half_life: 72h
nats:
  url: nats://localhost:4222
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv("PULSE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/pulse-test.db", cfg.Database.Path)
	assert.Equal(t, "openai", cfg.Oracle.Backend)
	assert.Equal(t, 5*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 0.9, cfg.Pipeline.AutoExecuteThreshold)
	assert.Equal(t, 0.0, cfg.Pipeline.ExplorationRate)
	assert.Equal(t, 72*time.Hour, cfg.Calibration.HalfLife)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched defaults survive
	assert.Equal(t, 0.7, cfg.Pipeline.DeepCutoff)
	assert.Equal(t, 3, cfg.Oracle.Retry.MaxAttempts)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipline:\n  deep_cutoff: 0.5\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PULSE_DB":                     "env.db",
		"PULSE_ORACLE_BACKEND":         "openai",
		"PULSE_ORACLE_MODEL":           "m",
		"PULSE_ORACLE_TIMEOUT":         "3s",
		"PULSE_AUTO_EXECUTE_THRESHOLD": "0.95",
		"PULSE_NATS_URL":               "nats://n:4222",
	}
	cfg := Default()
	require.NoError(t, applyEnv(&cfg, func(k string) string { return env[k] }))

	assert.Equal(t, "env.db", cfg.Database.Path)
	assert.Equal(t, "openai", cfg.Oracle.Backend)
	assert.Equal(t, 3*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 0.95, cfg.Pipeline.AutoExecuteThreshold)
	assert.Equal(t, "nats://n:4222", cfg.NATS.URL)
}

func TestApplyEnvBadValues(t *testing.T) {
	env := map[string]string{
		"PULSE_EXPLORATION_RATE": "lots",
		"PULSE_ORACLE_TIMEOUT":   "soon",
	}
	cfg := Default()
	err := applyEnv(&cfg, func(k string) string { return env[k] })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PULSE_EXPLORATION_RATE")
	assert.Contains(t, err.Error(), "PULSE_ORACLE_TIMEOUT")
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Oracle.Backend = "carrier-pigeon"
	cfg.Pipeline.AutoExecuteThreshold = 1.5
	cfg.Guard.ConfidenceFloor = -0.1
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"oracle.backend", "auto_execute_threshold", "confidence_floor", "log.format"} {
		assert.True(t, strings.Contains(err.Error(), want), "missing %q in %v", want, err)
	}
}

func TestValidateRejectsConfidenceFloorBelowMinimum(t *testing.T) {
	for _, floor := range []float64{0, 0.3, 0.49} {
		cfg := Default()
		cfg.Guard.ConfidenceFloor = floor
		err := cfg.Validate()
		require.Error(t, err, "floor %v", floor)
		assert.Contains(t, err.Error(), "guard.confidence_floor")
	}

	cfg := Default()
	cfg.Guard.ConfidenceFloor = 0.5
	require.NoError(t, cfg.Validate())
}
