package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
)

// #region command

func tracesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect persisted reasoning traces",
	}

	var (
		last    int
		jsonOut bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBase(*configPath)
			if err != nil {
				return err
			}
			defer b.Close()

			recs, err := b.store.ListTraces(cmd.Context(), last)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), traceRows(recs))
			}
			return writeTraceTable(cmd.OutOrStdout(), recs)
		},
	}
	list.Flags().IntVar(&last, "last", 20, "show N most recent runs")
	list.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of a table")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run's final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBase(*configPath)
			if err != nil {
				return err
			}
			defer b.Close()

			rec, err := b.store.GetTrace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var st state.PipelineState
			if err := json.Unmarshal([]byte(rec.FinalStateJSON), &st); err != nil {
				return fmt.Errorf("decode final state of %s: %w", rec.RunID, err)
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

// #endregion command

// #region list-mode

type traceRow struct {
	RunID        string `json:"run_id"`
	UserID       string `json:"user_id"`
	SignalID     string `json:"signal_id"`
	Status       string `json:"status"`
	Approved     bool   `json:"approved"`
	AutoExecuted bool   `json:"auto_executed"`
	DraftID      string `json:"draft_id,omitempty"`
	ReviewReason string `json:"review_reason,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	CreatedAt    string `json:"created_at"`
}

func traceRows(recs []store.TraceRecord) []traceRow {
	rows := make([]traceRow, len(recs))
	for i, r := range recs {
		rows[i] = traceRow{
			RunID:        r.RunID,
			UserID:       r.UserID,
			SignalID:     r.SignalID,
			Status:       r.Status,
			Approved:     r.Approved,
			AutoExecuted: r.AutoExecuted,
			DraftID:      r.DraftID,
			ReviewReason: r.ReviewReason,
			DurationMs:   r.DurationMs,
			CreatedAt:    r.CreatedAt.Format(time.RFC3339),
		}
	}
	return rows
}

func writeTraceTable(w io.Writer, recs []store.TraceRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no traces found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tUSER\tSTATUS\tAPPROVED\tAUTO\tMS\tREVIEW REASON")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%d\t%s\n",
			r.RunID, r.UserID, r.Status, r.Approved, r.AutoExecuted, r.DurationMs, truncate(r.ReviewReason, 60))
	}
	return tw.Flush()
}

// #endregion list-mode

// #region helpers

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// #endregion helpers
