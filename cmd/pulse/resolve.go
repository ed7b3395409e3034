package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #region command

// resolveCmd records a human verdict on a queued draft and feeds it back
// into the calibration ledger as the run's outcome.
func resolveCmd(configPath *string) *cobra.Command {
	var approve, reject bool

	cmd := &cobra.Command{
		Use:   "resolve <draft-id> (--approve | --reject)",
		Short: "Approve or reject a draft waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return errors.New("exactly one of --approve or --reject is required")
			}
			b, err := openBase(*configPath)
			if err != nil {
				return err
			}
			defer b.Close()
			ctx := cmd.Context()

			rec, err := b.store.GetDraft(ctx, args[0])
			if err != nil {
				return err
			}
			if rec.Draft.Status != state.DraftPendingReview {
				return fmt.Errorf("draft %s is %s, not pending review", args[0], rec.Draft.Status)
			}

			status := state.DraftRejected
			if approve {
				status = state.DraftApproved
			}
			if err := b.store.UpdateDraftStatus(ctx, args[0], status, nil); err != nil {
				return err
			}

			ledger, err := b.ledger()
			if err != nil {
				return err
			}
			defer ledger.Close()
			n, err := ledger.RecordOutcome(ctx, rec.RunID, approve)
			if err != nil {
				return err
			}
			b.logger.Info("draft resolved",
				zap.String("draft_id", args[0]),
				zap.String("run_id", rec.RunID),
				zap.String("status", string(status)),
				zap.Int64("predictions_resolved", n),
			)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d predictions resolved)\n", args[0], status, n)
			return err
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "mark the draft approved")
	cmd.Flags().BoolVar(&reject, "reject", false, "mark the draft rejected")
	return cmd
}

// #endregion command
