package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/replay"
)

// #region command

// replayCmd audits recorded runs against the current safety rules. It exits
// 0 when no run violated them, 1 when at least one did, 2 on usage or I/O
// errors.
func replayCmd(configPath *string) *cobra.Command {
	var (
		fixturePath string
		last        int
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-check recorded runs against HardGuard and the routers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				entries []replay.Entry
				cfg     = replay.DefaultReplayConfig()
				fixture *replay.Fixture
			)

			if fixturePath != "" {
				f, err := replay.LoadFixture(fixturePath)
				if err != nil {
					return &exitError{code: 2, msg: err.Error()}
				}
				fixture = f
				entries = f.Entries()
				cfg = f.Config.ToReplayConfig()
			} else {
				b, err := openBase(*configPath)
				if err != nil {
					return &exitError{code: 2, msg: err.Error()}
				}
				defer b.Close()
				entries, cfg, err = storedEntries(cmd, b, last)
				if err != nil {
					return &exitError{code: 2, msg: err.Error()}
				}
			}

			if len(entries) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no runs to replay")
				return nil
			}

			results := replay.Replay(entries, cfg)
			summary := replay.Summarize(results)
			out := cmd.OutOrStdout()
			if err := writeReplayTable(out, results); err != nil {
				return &exitError{code: 2, msg: err.Error()}
			}
			fmt.Fprintf(out, "\nTotal: %d | OK: %d | Veto violations: %d | Unapproved executions: %d | Route mismatches: %d\n",
				summary.Total, summary.OK, summary.VetoViolations, summary.UnapprovedExecutions, summary.RouteMismatches)

			if fixture != nil {
				mismatches := fixture.Mismatches(results)
				for _, m := range mismatches {
					fmt.Fprintln(out, "MISMATCH", m)
				}
				if len(mismatches) > 0 {
					return &exitError{code: 1, msg: fmt.Sprintf("%d fixture expectations not met", len(mismatches))}
				}
				return nil
			}
			if !summary.Clean() {
				return &exitError{code: 1, msg: "recorded runs violate the current safety rules"}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "replay a JSON fixture instead of the store")
	cmd.Flags().IntVar(&last, "last", 500, "number of most recent stored runs to audit")
	cmd.AddCommand(exportCmd(configPath))
	return cmd
}

// exportCmd snapshots stored runs into a fixture pinned to today's rules.
func exportCmd(configPath *string) *cobra.Command {
	var (
		outPath     string
		last        int
		description string
	)
	cmd := &cobra.Command{
		Use:   "export --out fixture.json",
		Short: "Export recent stored runs as a replay fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return errors.New("--out is required")
			}
			b, err := openBase(*configPath)
			if err != nil {
				return err
			}
			defer b.Close()
			entries, cfg, err := storedEntries(cmd, b, last)
			if err != nil {
				return err
			}
			f := replay.BuildFixture(description, entries, cfg)
			if err := replay.WriteFixture(outPath, f); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d runs to %s\n", len(f.Runs), outPath)
			return err
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output fixture JSON path")
	cmd.Flags().IntVar(&last, "last", 20, "number of most recent stored runs to export")
	cmd.Flags().StringVar(&description, "description", "exported runs", "fixture description")
	return cmd
}

// storedEntries decodes the most recent traces and returns them with the
// configured rule set. Undecodable traces are reported and skipped.
func storedEntries(cmd *cobra.Command, b *base, last int) ([]replay.Entry, replay.ReplayConfig, error) {
	cfg := replay.DefaultReplayConfig()
	cfg.GateConfig.ConfidenceFloor = b.cfg.Guard.ConfidenceFloor
	cfg.RouteConfig.DeepCutoff = b.cfg.Pipeline.DeepCutoff
	cfg.RouteConfig.MinTraceSteps = b.cfg.Pipeline.MinTraceSteps

	recs, err := b.store.ListTraces(cmd.Context(), last)
	if err != nil {
		return nil, cfg, err
	}
	var (
		entries    []replay.Entry
		decodeErrs []error
	)
	for _, rec := range recs {
		e, err := replay.FromTrace(rec)
		if err != nil {
			decodeErrs = append(decodeErrs, err)
			continue
		}
		entries = append(entries, e)
	}
	if len(decodeErrs) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %d undecodable traces: %v\n", len(decodeErrs), errors.Join(decodeErrs...))
	}
	return entries, cfg, nil
}

// #endregion command

// #region output

func writeReplayTable(w io.Writer, results []replay.ReplayResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tACTION\tROUTE\tREASON")
	for _, r := range results {
		route := "-"
		if r.RecordedRoute != "" {
			route = fmt.Sprintf("%s/%s", r.RecordedRoute, r.ReplayedRoute)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.RunID, r.Action, route, truncate(r.Reason, 80))
	}
	return tw.Flush()
}

// #endregion output
