package usercontext

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// OutcomeSource supplies the user's recent draft outcomes.
type OutcomeSource interface {
	RecentOutcomes(ctx context.Context, userID string, limit int) ([]state.Outcome, error)
}

// LevelSource supplies the user's autonomy profile.
type LevelSource interface {
	Level(ctx context.Context, userID string) (state.AutonomyProfile, error)
}

// Loader assembles a UserContext snapshot from its providers.
type Loader struct {
	profiles    *ProfileStore
	outcomes    OutcomeSource
	levels      LevelSource
	recentLimit int
	logger      *zap.Logger
}

// NewLoader wires the context providers. outcomes and levels may be nil.
func NewLoader(profiles *ProfileStore, outcomes OutcomeSource, levels LevelSource, recentLimit int, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return &Loader{
		profiles:    profiles,
		outcomes:    outcomes,
		levels:      levels,
		recentLimit: recentLimit,
		logger:      logger.Named("usercontext"),
	}
}

// Load fetches profile, constraints, recent outcomes and autonomy
// concurrently. A failing provider leaves its part at the safe default
// (no auto-comms, no exploration, level 0) and its error is joined into the
// returned error; the snapshot is always usable.
func (l *Loader) Load(ctx context.Context, userID string) (state.UserContext, error) {
	var (
		profile     Profile
		constraints []string
		outcomes    []state.Outcome
		autonomy    state.AutonomyProfile
		errs        [4]error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := l.profiles.Profile(gctx, userID)
		if err != nil {
			errs[0] = fmt.Errorf("profile: %w", err)
			return nil
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		c, err := l.profiles.ActiveConstraints(gctx, userID)
		if err != nil {
			errs[1] = fmt.Errorf("constraints: %w", err)
			return nil
		}
		constraints = c
		return nil
	})
	if l.outcomes != nil {
		g.Go(func() error {
			o, err := l.outcomes.RecentOutcomes(gctx, userID, l.recentLimit)
			if err != nil {
				errs[2] = fmt.Errorf("recent outcomes: %w", err)
				return nil
			}
			outcomes = o
			return nil
		})
	}
	if l.levels != nil {
		g.Go(func() error {
			a, err := l.levels.Level(gctx, userID)
			if err != nil {
				errs[3] = fmt.Errorf("autonomy: %w", err)
				a = state.AutonomyProfile{Level: 0, Reason: "autonomy unavailable"}
			}
			autonomy = a
			return nil
		})
	} else {
		autonomy = state.AutonomyProfile{Reason: "no autonomy source"}
	}
	_ = g.Wait()

	uctx := state.UserContext{
		Goals:          profile.Goals,
		Preferences:    profile.Preferences,
		Strategies:     profile.Strategies,
		RecentOutcomes: outcomes,
		Constraints:    constraints,
		AllowAutoComms: profile.AllowAutoComms,
		ExploreEnabled: profile.ExploreEnabled,
		Timezone:       profile.Timezone,
		Autonomy:       autonomy,
	}
	for _, e := range errs {
		if e != nil {
			uctx.LoadErrors = append(uctx.LoadErrors, e.Error())
		}
	}

	err := errors.Join(errs[:]...)
	if err != nil {
		l.logger.Warn("partial user context", zap.String("user_id", userID), zap.Error(err))
	}
	return uctx, err
}
