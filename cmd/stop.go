// File: cmd/stop.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmage20/linkedin-job-agent/internal/observability"
	"github.com/dmage20/linkedin-job-agent/internal/safety"
)

// newStopCmd creates the `stop` command: the emergency brake. `stop` creates
// the stop file (refusing all new work and interrupting running tasks),
// `stop --clear` removes it.
func newStopCmd() *cobra.Command {
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Activates (or clears, with --clear) the emergency stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			clear, _ := cmd.Flags().GetBool("clear")
			logger := observability.GetLogger()

			// The guard runs storeless here: activating the brake must work
			// even when the database is down.
			guard, err := safety.NewGuard(cfg.Safety, nil, logger)
			if err != nil {
				return err
			}

			if clear {
				if err := guard.ClearEmergencyStop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Emergency stop cleared.")
				return nil
			}

			if err := guard.ActivateEmergencyStop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Emergency stop activated (%s).\nRunning tasks will halt; new tasks are refused until cleared.\n",
				cfg.Safety.EmergencyStopFile)
			return nil
		},
	}

	stopCmd.Flags().Bool("clear", false, "Remove the emergency stop file instead of creating it.")
	return stopCmd
}
