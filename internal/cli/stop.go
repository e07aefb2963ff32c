// Package cli — stop.go implements the "devserve stop" command.
//
// Stop terminates the recorded instance for the current project and removes
// its record. A stale record (the PID was reused by an unrelated process)
// is only removed, never signalled.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/devserve/internal/model"
	"github.com/mmr-tortoise/devserve/internal/proc"
	"github.com/mmr-tortoise/devserve/internal/state"
)

// stopResult is the JSON shape of a stop.
type stopResult struct {
	Project string `json:"project"`
	PID     int32  `json:"pid"`
	Status  string `json:"previousStatus"`
	Action  string `json:"action"`
}

// NewStopCommand creates the "stop" cobra command.
func NewStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the recorded development server",
		Long: `Terminate the recorded server instance for the current project (SIGTERM,
then SIGKILL after the grace period) and remove its record.

Exits with code 6 when no instance is recorded for the project.

Examples:
  devserve stop
  devserve stop --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := runStop(cmd.Context(), false)
			if err != nil {
				return err
			}
			printStopResult(result)
			return nil
		},
	}

	return cmd
}

// runStop terminates the current project's recorded instance. When tolerant
// is true, a missing record or already-dead process is not an error; the
// restart command uses this so "restart" works from a cold state.
func runStop(ctx context.Context, tolerant bool) (*stopResult, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to open state directory", err)
	}

	inst, err := store.Load(ctx, cfg.Project)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			if tolerant {
				return &stopResult{Project: cfg.Project, Action: "no-instance"}, nil
			}
			return nil, model.NewCLIError(model.ExitInstanceNotFound,
				fmt.Sprintf("no recorded instance for project %q (is the server managed by devserve?)", cfg.Project))
		}
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to read instance record for %q", cfg.Project), err)
	}

	result := &stopResult{Project: cfg.Project, PID: inst.PID, Status: inst.Status.String()}

	switch inst.Status {
	case model.StatusStopped:
		// Process is already gone; only the record needs cleaning up.
		_ = store.Delete(cfg.Project)
		result.Action = "record-removed"
		return result, nil

	case model.StatusStale:
		// The PID belongs to someone else now. Remove the record and do
		// not go anywhere near the process.
		logger.Debug("record is stale, removing without signalling", "pid", inst.PID)
		_ = store.Delete(cfg.Project)
		result.Action = "record-removed"
		return result, nil
	}

	// Running or orphaned: the process is ours and alive.
	inspector := proc.NewInspector()
	if err := inspector.Terminate(ctx, inst.PID, cfg.Grace); err != nil {
		if errors.Is(err, proc.ErrPermissionDenied) {
			return nil, model.WrapCLIError(model.ExitPermissionDenied,
				fmt.Sprintf("could not terminate server (pid %d)", inst.PID), err)
		}
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to terminate server (pid %d)", inst.PID), err)
	}

	_ = store.Delete(cfg.Project)
	result.Action = "stopped"
	return result, nil
}

// printStopResult outputs the stop command result in text or JSON format.
func printStopResult(result *stopResult) {
	if IsJSONOutput() {
		printJSON(result)
		return
	}

	switch result.Action {
	case "stopped":
		fmt.Printf("Stopped server %q (pid %d)\n", result.Project, result.PID)
	case "record-removed":
		fmt.Printf("Server %q was not running; removed its record\n", result.Project)
	case "no-instance":
		fmt.Printf("No recorded instance for project %q\n", result.Project)
	}
}
