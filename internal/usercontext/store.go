// Package usercontext persists per-user profiles and constraints, and
// assembles the read-only UserContext snapshot a pipeline run starts from.
package usercontext

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/escalation"
)

// #endregion imports

// #region types

// Profile is the user's stored preferences and autonomy settings.
type Profile struct {
	UserID           string
	Goals            []string
	Preferences      map[string]string
	Strategies       []string
	Timezone         string
	AllowAutoComms   bool
	ExploreEnabled   bool
	AutonomyOverride *int
	BlockedDomains   []string
	ConfirmDomains   []string
	ObserveDomains   []string
	UpdatedAt        time.Time
}

// #endregion types

// #region store

// ProfileStore persists profiles and constraints in SQLite.
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore creates the profile tables if needed and returns a store.
func NewProfileStore(db *sql.DB) (*ProfileStore, error) {
	s := &ProfileStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ProfileStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		goals_json TEXT NOT NULL DEFAULT '[]',
		preferences_json TEXT NOT NULL DEFAULT '{}',
		strategies_json TEXT NOT NULL DEFAULT '[]',
		timezone TEXT NOT NULL DEFAULT '',
		allow_auto_comms INTEGER NOT NULL DEFAULT 0,
		explore_enabled INTEGER NOT NULL DEFAULT 0,
		autonomy_override INTEGER,
		blocked_domains_json TEXT NOT NULL DEFAULT '[]',
		confirm_domains_json TEXT NOT NULL DEFAULT '[]',
		observe_domains_json TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS user_constraints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		constraint_text TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	)`)
	return err
}

// SaveProfile inserts or replaces the user's profile.
func (s *ProfileStore) SaveProfile(ctx context.Context, p Profile) error {
	if p.UserID == "" {
		return errors.New("save profile: user id is required")
	}
	var override any
	if p.AutonomyOverride != nil {
		override = *p.AutonomyOverride
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles
		(user_id, goals_json, preferences_json, strategies_json, timezone,
		 allow_auto_comms, explore_enabled, autonomy_override,
		 blocked_domains_json, confirm_domains_json, observe_domains_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			goals_json = excluded.goals_json,
			preferences_json = excluded.preferences_json,
			strategies_json = excluded.strategies_json,
			timezone = excluded.timezone,
			allow_auto_comms = excluded.allow_auto_comms,
			explore_enabled = excluded.explore_enabled,
			autonomy_override = excluded.autonomy_override,
			blocked_domains_json = excluded.blocked_domains_json,
			confirm_domains_json = excluded.confirm_domains_json,
			observe_domains_json = excluded.observe_domains_json,
			updated_at = excluded.updated_at`,
		p.UserID,
		mustJSON(p.Goals, "[]"),
		mustJSON(p.Preferences, "{}"),
		mustJSON(p.Strategies, "[]"),
		p.Timezone,
		boolInt(p.AllowAutoComms),
		boolInt(p.ExploreEnabled),
		override,
		mustJSON(p.BlockedDomains, "[]"),
		mustJSON(p.ConfirmDomains, "[]"),
		mustJSON(p.ObserveDomains, "[]"),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.UserID, err)
	}
	return nil
}

// Profile returns the user's profile. A user with no row gets the zero
// profile: no auto-comms, no exploration, no override.
func (s *ProfileStore) Profile(ctx context.Context, userID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT goals_json, preferences_json, strategies_json, timezone,
		       allow_auto_comms, explore_enabled, autonomy_override,
		       blocked_domains_json, confirm_domains_json, observe_domains_json, updated_at
		FROM user_profiles WHERE user_id = ?`, userID)

	p := Profile{UserID: userID}
	var goals, prefs, strategies, blocked, confirm, observe, updatedAt string
	var comms, explore int
	var override sql.NullInt64
	err := row.Scan(&goals, &prefs, &strategies, &p.Timezone, &comms, &explore, &override,
		&blocked, &confirm, &observe, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, nil
		}
		return p, fmt.Errorf("load profile %s: %w", userID, err)
	}
	p.AllowAutoComms = comms == 1
	p.ExploreEnabled = explore == 1
	if override.Valid {
		v := int(override.Int64)
		p.AutonomyOverride = &v
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{goals, &p.Goals},
		{prefs, &p.Preferences},
		{strategies, &p.Strategies},
		{blocked, &p.BlockedDomains},
		{confirm, &p.ConfirmDomains},
		{observe, &p.ObserveDomains},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return Profile{UserID: userID}, fmt.Errorf("decode profile %s: %w", userID, err)
		}
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, nil
}

// AutonomySettings adapts the profile to the escalation engine.
func (s *ProfileStore) AutonomySettings(ctx context.Context, userID string) (escalation.Settings, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return escalation.Settings{}, err
	}
	return escalation.Settings{
		Override:       p.AutonomyOverride,
		BlockedDomains: p.BlockedDomains,
		ConfirmDomains: p.ConfirmDomains,
		ObserveDomains: p.ObserveDomains,
	}, nil
}

// #endregion store

// #region constraints

// AddConstraint stores an active constraint for the user.
func (s *ProfileStore) AddConstraint(ctx context.Context, userID, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_constraints (user_id, constraint_text, created_at) VALUES (?, ?, ?)`,
		userID, text, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("add constraint: %w", err)
	}
	return res.LastInsertId()
}

// DeactivateConstraint stops a constraint from applying to future runs.
func (s *ProfileStore) DeactivateConstraint(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user_constraints SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate constraint %d: %w", id, err)
	}
	return nil
}

// ActiveConstraints returns the user's active constraints, oldest first.
func (s *ProfileStore) ActiveConstraints(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT constraint_text FROM user_constraints WHERE user_id = ? AND active = 1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("active constraints: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan constraint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// #endregion constraints

// #region helpers

func mustJSON(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
