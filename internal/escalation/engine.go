// Package escalation decides how much unsupervised authority the pipeline
// has for a user, and whether a given action may proceed without asking.
package escalation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #region engine
// Engine computes autonomy levels and escalation decisions.
type Engine struct {
	config   Config
	settings SettingsSource
	history  HistorySource
}

// NewEngine creates an engine. Either source may be nil. A configured
// MinAutoLevel below the MinAutoLevel const is raised to it.
func NewEngine(config Config, settings SettingsSource, history HistorySource) *Engine {
	config.MinAutoLevel = max(config.MinAutoLevel, MinAutoLevel)
	return &Engine{config: config, settings: settings, history: history}
}

// Level returns the user's current trust tier and domain rules.
func (e *Engine) Level(ctx context.Context, userID string) (state.AutonomyProfile, error) {
	var settings Settings
	if e.settings != nil {
		s, err := e.settings.AutonomySettings(ctx, userID)
		if err != nil {
			return state.AutonomyProfile{Reason: "settings unavailable"}, fmt.Errorf("autonomy settings: %w", err)
		}
		settings = s
	}
	profile := state.AutonomyProfile{
		BlockedDomains: settings.BlockedDomains,
		ConfirmDomains: settings.ConfirmDomains,
		ObserveDomains: settings.ObserveDomains,
	}

	if settings.Override != nil {
		profile.Level = max(*settings.Override, 0)
		profile.Reason = fmt.Sprintf("explicit override to level %d", profile.Level)
		return profile, nil
	}

	if e.history == nil {
		profile.Reason = "no history source"
		return profile, nil
	}
	counts, err := e.history.DraftHistory(ctx, userID)
	if err != nil {
		profile.Reason = "history unavailable"
		return profile, fmt.Errorf("draft history: %w", err)
	}
	profile.Level, profile.Reason = e.levelFromHistory(counts.Settled(), counts.Rejected, counts.Pending)
	return profile, nil
}

func (e *Engine) levelFromHistory(settled, rejected, pending int) (int, string) {
	if settled == 0 {
		if pending > 0 {
			return 1, fmt.Sprintf("%d drafts awaiting review, none settled", pending)
		}
		return 0, "no draft history"
	}
	rate := float64(rejected) / float64(settled)
	switch {
	case settled >= e.config.Level3MinSettled && rate <= e.config.Level3MaxRejectRate:
		return 3, fmt.Sprintf("%d settled drafts, %.0f%% rejected", settled, rate*100)
	case settled >= e.config.Level2MinSettled && rate <= e.config.Level2MaxRejectRate:
		return 2, fmt.Sprintf("%d settled drafts, %.0f%% rejected", settled, rate*100)
	}
	return 1, fmt.Sprintf("%d settled drafts, %.0f%% rejected; building trust", settled, rate*100)
}

// Decide evaluates action against the profile. Pure.
func (e *Engine) Decide(profile state.AutonomyProfile, action Action) state.EscalationDecision {
	d := state.EscalationDecision{
		ConfirmationNeeded: []string{},
		BlockedBy:          []string{},
		Observing:          []string{},
	}

	if domainIn(action.Domain, profile.BlockedDomains) {
		d.BlockedBy = append(d.BlockedBy, fmt.Sprintf("domain %q is blocked", action.Domain))
	}
	if profile.Level <= 0 {
		d.BlockedBy = append(d.BlockedBy, "autonomy level 0: fully manual")
	}

	if profile.Level < e.config.MinAutoLevel {
		d.ConfirmationNeeded = append(d.ConfirmationNeeded,
			fmt.Sprintf("autonomy level %d below %d", profile.Level, e.config.MinAutoLevel))
	}
	if action.IsIrreversible && profile.Level < e.config.IrreversibleMinLevel {
		d.ConfirmationNeeded = append(d.ConfirmationNeeded,
			fmt.Sprintf("irreversible action needs level %d", e.config.IrreversibleMinLevel))
	}
	if domainIn(action.Domain, profile.ConfirmDomains) {
		d.ConfirmationNeeded = append(d.ConfirmationNeeded,
			fmt.Sprintf("domain %q requires confirmation", action.Domain))
	}
	if floor, ok := e.confidenceFloor(profile.Level); ok && action.Confidence < floor {
		d.ConfirmationNeeded = append(d.ConfirmationNeeded,
			fmt.Sprintf("confidence %.2f below level %d floor %.2f", action.Confidence, profile.Level, floor))
	}

	if domainIn(action.Domain, profile.ObserveDomains) {
		d.Observing = append(d.Observing, action.Domain)
	}

	d.CanProceed = len(d.BlockedBy) == 0
	d.RequiresConfirmation = len(d.ConfirmationNeeded) > 0
	return d
}

// AllowsAutoExecution reports the hard level rule.
func (e *Engine) AllowsAutoExecution(level int) bool {
	return level >= e.config.MinAutoLevel
}

// #endregion engine

// #region helpers
// confidenceFloor returns the floor for the highest configured level <= level.
func (e *Engine) confidenceFloor(level int) (float64, bool) {
	best := -1
	for l := range e.config.ConfidenceFloors {
		if l <= level && l > best {
			best = l
		}
	}
	if best < 0 {
		return 0, false
	}
	return e.config.ConfidenceFloors[best], true
}

func domainIn(domain string, list []string) bool {
	if domain == "" {
		return false
	}
	return slices.ContainsFunc(list, func(d string) bool {
		return strings.EqualFold(d, domain)
	})
}

// #endregion helpers
