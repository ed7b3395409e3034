package escalation

import (
	"context"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
)

// #region escalation-config

// MinAutoLevel is the lowest autonomy level that may ever auto-execute.
const MinAutoLevel = 2

// Config holds the trust-tier thresholds.
type Config struct {
	MinAutoLevel         int     // auto-execution needs at least this level; never below the MinAutoLevel const
	IrreversibleMinLevel int     // irreversible actions below this need confirmation
	Level2MinSettled     int     // settled drafts needed for level 2
	Level2MaxRejectRate  float64 // rejection ceiling for level 2
	Level3MinSettled     int
	Level3MaxRejectRate  float64
	ConfidenceFloors     map[int]float64 // per-level floor; highest key <= level applies
}

// DefaultConfig returns the production tiers.
func DefaultConfig() Config {
	return Config{
		MinAutoLevel:         MinAutoLevel,
		IrreversibleMinLevel: 4,
		Level2MinSettled:     10,
		Level2MaxRejectRate:  0.10,
		Level3MinSettled:     30,
		Level3MaxRejectRate:  0.05,
		ConfidenceFloors:     map[int]float64{2: 0.85, 3: 0.75, 4: 0.65},
	}
}

// #endregion escalation-config

// #region action
// Action describes what the pipeline wants to do unattended.
type Action struct {
	Type           string
	Domain         string
	Confidence     float64
	IsIrreversible bool
}

// #endregion action

// #region sources
// Settings is the user's explicit autonomy configuration.
type Settings struct {
	Override       *int // explicit level; wins over history
	BlockedDomains []string
	ConfirmDomains []string
	ObserveDomains []string
}

// SettingsSource supplies per-user autonomy settings.
type SettingsSource interface {
	AutonomySettings(ctx context.Context, userID string) (Settings, error)
}

// HistorySource supplies per-user draft history.
type HistorySource interface {
	DraftHistory(ctx context.Context, userID string) (store.DraftCounts, error)
}

// #endregion sources
