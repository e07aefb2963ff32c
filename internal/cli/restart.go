// Package cli — restart.go implements the "devserve restart" command.
//
// Restart is stop-then-start with the rough edges filed off: a missing
// record, a dead process, or a stale PID are all fine starting points. The
// subsequent start still reclaims the port, so even a server devserve never
// knew about gets replaced cleanly.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRestartCommand creates the "restart" cobra command.
func NewRestartCommand() *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the development server",
		Long: `Stop the recorded server instance if one exists, then start a fresh one
on a reclaimed port. Works even when nothing is recorded or the recorded
process is already gone.

Examples:
  devserve restart
  devserve restart --force`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := runStop(cmd.Context(), true)
			if err != nil {
				return err
			}
			if result.Action == "stopped" {
				logger.Debug("stopped previous instance", "pid", result.PID)
			}

			// The previous instance is gone (or never existed), so the
			// running-instance no-op path in start cannot trigger.
			return runStart(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.noReclaim, "no-reclaim", false, "Do not terminate existing port holders")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Terminate non-matching port holders without confirmation")
	cmd.Flags().BoolVar(&flags.fallback, "fallback", false, "Use the next free port when the configured one cannot be freed")

	return cmd
}
