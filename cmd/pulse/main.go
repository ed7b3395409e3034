// Command pulse runs the signal-to-action pipeline and its operator tools:
// processing signals, inspecting traces, resolving queued drafts and
// auditing recorded runs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "time/tzdata"
)

// #region main

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitError carries a specific process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}

// #endregion main

// #region root

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "pulse",
		Short:         "Signal-to-action reasoning pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML)")

	cmd.AddCommand(
		processCmd(&configPath),
		tracesCmd(&configPath),
		resolveCmd(&configPath),
		profileCmd(&configPath),
		replayCmd(&configPath),
	)
	return cmd
}

// #endregion root
