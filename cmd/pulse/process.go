package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/signals"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// #region command

func processCmd(configPath *string) *cobra.Command {
	var (
		userID  string
		stream  bool
		metrics bool
	)

	cmd := &cobra.Command{
		Use:   "process [signal.json]",
		Short: "Run one signal (or a stream of signals) through the pipeline",
		Long: `Reads a JSON signal from the file argument or stdin, runs it through the
pipeline and prints the final state as JSON.

With --stream, reads one signal per line until EOF and prints one summary
line per run. With --metrics, serves Prometheus metrics while running.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := openPipeline(*configPath)
			if err != nil {
				return err
			}
			defer p.Close()
			if metrics {
				p.serveMetrics(ctx)
			}

			out := cmd.OutOrStdout()
			if stream {
				return p.processStream(ctx, in, out, userID)
			}
			sig, err := signals.Decode(in)
			if err != nil {
				return err
			}
			final := p.processOne(ctx, sig, userID)
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(final)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to the signal's userId)")
	cmd.Flags().BoolVar(&stream, "stream", false, "read newline-delimited signals until EOF")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve /metrics on metrics.listen while running")
	return cmd
}

// #endregion command

// #region run

func (p *pipeline) processOne(ctx context.Context, sig signals.Signal, userID string) state.PipelineState {
	if userID == "" {
		userID = sig.UserID
	}
	uctx, err := p.loader.Load(ctx, userID)
	if err != nil {
		// uctx.LoadErrors carries the failures into the run, which then queues for review.
		p.logger.Warn("user context incomplete", zap.String("user_id", userID), zap.Error(err))
	}
	return p.orch.ProcessSignal(ctx, sig, userID, uctx)
}

// runSummary is the one-line result printed per run in stream mode.
type runSummary struct {
	RunID        string `json:"runId"`
	SignalID     string `json:"signalId"`
	Approved     bool   `json:"approved"`
	AutoExecuted bool   `json:"autoExecuted"`
	DraftID      string `json:"draftId,omitempty"`
	ReviewReason string `json:"reviewReason,omitempty"`
	Errors       int    `json:"errors"`
}

func (p *pipeline) processStream(ctx context.Context, in io.Reader, out io.Writer, userID string) error {
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		sig, err := signals.Decode(bytes.NewReader(raw))
		if err != nil {
			p.logger.Warn("skipping signal", zap.Int("line", line), zap.Error(err))
			continue
		}

		final := p.processOne(ctx, sig, userID)
		sum := runSummary{
			RunID:        final.RunID,
			SignalID:     sig.ID,
			Approved:     final.Approved,
			AutoExecuted: final.ExecutionResult != nil && final.ExecutionResult.Status == state.ExecutionExecuted,
			ReviewReason: final.ReviewReason,
			Errors:       len(final.Errors),
		}
		if final.Draft != nil {
			sum.DraftID = final.Draft.ID
		}
		if err := enc.Encode(sum); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return sc.Err()
}

// #endregion run
