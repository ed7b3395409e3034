package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/usercontext"
)

// #region profile-file

// profileFile is the YAML shape accepted by "profile set".
type profileFile struct {
	UserID           string            `yaml:"user_id"`
	Goals            []string          `yaml:"goals"`
	Preferences      map[string]string `yaml:"preferences"`
	Strategies       []string          `yaml:"strategies"`
	Timezone         string            `yaml:"timezone"`
	AllowAutoComms   bool              `yaml:"allow_auto_comms"`
	ExploreEnabled   bool              `yaml:"explore_enabled"`
	AutonomyOverride *int              `yaml:"autonomy_override"`
	BlockedDomains   []string          `yaml:"blocked_domains"`
	ConfirmDomains   []string          `yaml:"confirm_domains"`
	ObserveDomains   []string          `yaml:"observe_domains"`
	Constraints      []string          `yaml:"constraints"`
}

func (f profileFile) profile() usercontext.Profile {
	return usercontext.Profile{
		UserID:           f.UserID,
		Goals:            f.Goals,
		Preferences:      f.Preferences,
		Strategies:       f.Strategies,
		Timezone:         f.Timezone,
		AllowAutoComms:   f.AllowAutoComms,
		ExploreEnabled:   f.ExploreEnabled,
		AutonomyOverride: f.AutonomyOverride,
		BlockedDomains:   f.BlockedDomains,
		ConfirmDomains:   f.ConfirmDomains,
		ObserveDomains:   f.ObserveDomains,
	}
}

// #endregion profile-file

// #region command

func profileCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage user profiles and constraints",
	}

	withProfiles := func(fn func(*usercontext.ProfileStore) error) error {
		b, err := openBase(*configPath)
		if err != nil {
			return err
		}
		defer b.Close()
		profiles, err := usercontext.NewProfileStore(b.store.DB())
		if err != nil {
			return err
		}
		return fn(profiles)
	}

	set := &cobra.Command{
		Use:   "set <profile.yaml>",
		Short: "Create or replace a profile from YAML; listed constraints are added",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var f profileFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("parse profile %s: %w", args[0], err)
			}
			if f.UserID == "" {
				return errors.New("profile: user_id is required")
			}
			return withProfiles(func(ps *usercontext.ProfileStore) error {
				if err := ps.SaveProfile(cmd.Context(), f.profile()); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "saved profile %s\n", f.UserID)
				for _, c := range f.Constraints {
					id, err := ps.AddConstraint(cmd.Context(), f.UserID, c)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "constraint %d: %s\n", id, c)
				}
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a profile and its active constraints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfiles(func(ps *usercontext.ProfileStore) error {
				p, err := ps.Profile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				constraints, err := ps.ActiveConstraints(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := profileFile{
					UserID:           p.UserID,
					Goals:            p.Goals,
					Preferences:      p.Preferences,
					Strategies:       p.Strategies,
					Timezone:         p.Timezone,
					AllowAutoComms:   p.AllowAutoComms,
					ExploreEnabled:   p.ExploreEnabled,
					AutonomyOverride: p.AutonomyOverride,
					BlockedDomains:   p.BlockedDomains,
					ConfirmDomains:   p.ConfirmDomains,
					ObserveDomains:   p.ObserveDomains,
					Constraints:      constraints,
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(out)
			})
		},
	}

	drop := &cobra.Command{
		Use:   "drop-constraint <constraint-id>",
		Short: "Stop a constraint from applying to future runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("constraint id %q: %w", args[0], err)
			}
			return withProfiles(func(ps *usercontext.ProfileStore) error {
				return ps.DeactivateConstraint(cmd.Context(), id)
			})
		},
	}

	cmd.AddCommand(set, show, drop)
	return cmd
}

// #endregion command
