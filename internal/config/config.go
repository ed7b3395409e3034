// Package config loads process configuration: defaults, then an optional
// YAML file, then PULSE_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/gate"
)

// #region types

// Config is the full process configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Guard       GuardConfig       `yaml:"guard"`
	Calibration CalibrationConfig `yaml:"calibration"`
	NATS        NATSConfig        `yaml:"nats"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OracleConfig selects and tunes the reasoning oracle backend.
type OracleConfig struct {
	Backend     string        `yaml:"backend"` // grpc | openai
	Address     string        `yaml:"address"` // grpc target
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"` // name of the env var holding the key
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"` // per attempt
	Retry       RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// PipelineConfig holds routing and execution thresholds.
type PipelineConfig struct {
	AutoExecuteThreshold float64       `yaml:"auto_execute_threshold"` // calibrated confidence needed
	DeepCutoff           float64       `yaml:"deep_cutoff"`
	MinTraceSteps        int           `yaml:"min_trace_steps"`
	ExplorationRate      float64       `yaml:"exploration_rate"`
	StageTimeout         time.Duration `yaml:"stage_timeout"`
	PersistTimeout       time.Duration `yaml:"persist_timeout"`
	RecentOutcomes       int           `yaml:"recent_outcomes"`
}

type GuardConfig struct {
	ConfidenceFloor float64 `yaml:"confidence_floor"` // at least gate.MinConfidenceFloor
}

type CalibrationConfig struct {
	HalfLife   time.Duration `yaml:"half_life"`
	MinSamples int           `yaml:"min_samples"`
}

type NATSConfig struct {
	URL           string `yaml:"url"` // empty disables publishing
	SubjectPrefix string `yaml:"subject_prefix"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// #endregion types

// #region defaults

// Default returns the production defaults.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "pulse.db"},
		Oracle: OracleConfig{
			Backend:   "grpc",
			Address:   "localhost:50051",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   20 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BackoffBase: 500 * time.Millisecond,
				MaxBackoff:  5 * time.Second,
			},
		},
		Pipeline: PipelineConfig{
			AutoExecuteThreshold: 0.8,
			DeepCutoff:           0.7,
			MinTraceSteps:        3,
			ExplorationRate:      0.1,
			StageTimeout:         45 * time.Second,
			PersistTimeout:       5 * time.Second,
			RecentOutcomes:       10,
		},
		Guard:       GuardConfig{ConfidenceFloor: 0.5},
		Calibration: CalibrationConfig{HalfLife: 7 * 24 * time.Hour, MinSamples: 3},
		NATS:        NATSConfig{SubjectPrefix: "pulse.execution"},
		Metrics:     MetricsConfig{Listen: ":9090"},
		Log:         LogConfig{Level: "info", Format: "json"},
	}
}

// #endregion defaults

// #region load

// Load applies the YAML file at path (if non-empty) and the environment
// over the defaults, then validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos do not silently fall back to defaults.
func decode(r io.Reader, cfg *Config) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// applyEnv overlays PULSE_* variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	float := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PULSE_DB", &cfg.Database.Path)
	str("PULSE_ORACLE_BACKEND", &cfg.Oracle.Backend)
	str("PULSE_ORACLE_ADDR", &cfg.Oracle.Address)
	str("PULSE_ORACLE_BASE_URL", &cfg.Oracle.BaseURL)
	str("PULSE_ORACLE_MODEL", &cfg.Oracle.Model)
	dur("PULSE_ORACLE_TIMEOUT", &cfg.Oracle.Timeout)
	float("PULSE_AUTO_EXECUTE_THRESHOLD", &cfg.Pipeline.AutoExecuteThreshold)
	float("PULSE_EXPLORATION_RATE", &cfg.Pipeline.ExplorationRate)
	str("PULSE_NATS_URL", &cfg.NATS.URL)
	str("PULSE_METRICS_ADDR", &cfg.Metrics.Listen)
	str("PULSE_LOG_LEVEL", &cfg.Log.Level)
	str("PULSE_LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

// #endregion load

// #region validate

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	unit := func(v float64) bool { return v >= 0 && v <= 1 }

	check(c.Database.Path != "", "database.path is required")
	switch c.Oracle.Backend {
	case "grpc":
		check(c.Oracle.Address != "", "oracle.address is required for grpc backend")
	case "openai":
		check(c.Oracle.Model != "", "oracle.model is required for openai backend")
	default:
		check(false, "oracle.backend %q: want grpc or openai", c.Oracle.Backend)
	}
	check(c.Oracle.Timeout > 0, "oracle.timeout must be positive")
	check(c.Oracle.Retry.MaxAttempts >= 1, "oracle.retry.max_attempts must be at least 1")
	check(unit(c.Pipeline.AutoExecuteThreshold), "pipeline.auto_execute_threshold must be in [0,1]")
	check(unit(c.Pipeline.DeepCutoff), "pipeline.deep_cutoff must be in [0,1]")
	check(unit(c.Pipeline.ExplorationRate), "pipeline.exploration_rate must be in [0,1]")
	check(c.Pipeline.MinTraceSteps >= 0, "pipeline.min_trace_steps must not be negative")
	check(c.Pipeline.StageTimeout > 0, "pipeline.stage_timeout must be positive")
	check(c.Pipeline.PersistTimeout > 0, "pipeline.persist_timeout must be positive")
	check(c.Guard.ConfidenceFloor >= gate.MinConfidenceFloor && c.Guard.ConfidenceFloor <= 1,
		"guard.confidence_floor must be in [%.1f,1]", gate.MinConfidenceFloor)
	check(c.Calibration.HalfLife > 0, "calibration.half_life must be positive")
	check(c.Calibration.MinSamples >= 1, "calibration.min_samples must be at least 1")
	check(c.Log.Format == "json" || c.Log.Format == "console", "log.format %q: want json or console", c.Log.Format)

	return errors.Join(errs...)
}

// #endregion validate
