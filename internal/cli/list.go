// Package cli — list.go implements the "devserve list" command.
//
// The list command displays every instance recorded in the state directory
// across projects, with each record's status resolved against the live
// process table. An optional --status flag filters by lifecycle state.
package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/devserve/internal/model"
	"github.com/mmr-tortoise/devserve/internal/state"
)

// listFlags holds the flag values for the list command.
type listFlags struct {
	// status filters instances by their lifecycle state.
	// Valid values: "running", "stopped", "stale", "orphaned", "all" (default).
	status string
}

// NewListCommand creates the "list" cobra command.
func NewListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all recorded server instances",
		Long: `List every server instance recorded in the state directory, across all
projects, with each record's current status.

Examples:
  devserve list
  devserve list --status running
  devserve list --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.status, "status", "s", "all",
		"Filter by status (running, stopped, stale, orphaned, all)")

	return cmd
}

// runList is the main logic function for the list command.
func runList(ctx context.Context, flags *listFlags) error {
	filter, err := parseStatusFilter(flags.status)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid --status value", err)
	}

	store, err := state.NewStore()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to open state directory", err)
	}

	instances, err := store.List(ctx)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to list instance records", err)
	}

	filtered := make([]*model.Instance, 0, len(instances))
	for _, inst := range instances {
		if filter == "" || inst.Status == filter {
			filtered = append(filtered, inst)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Project < filtered[j].Project
	})

	printListResult(filtered)
	return nil
}

// parseStatusFilter validates the --status flag value. The empty string
// return means "no filtering".
func parseStatusFilter(s string) (model.InstanceStatus, error) {
	if s == "" || s == "all" {
		return "", nil
	}
	return model.ParseInstanceStatus(s)
}

// printListResult outputs the instance list in text or JSON format.
func printListResult(instances []*model.Instance) {
	if IsJSONOutput() {
		// Always emit an array, even when empty.
		if instances == nil {
			instances = []*model.Instance{}
		}
		printJSON(instances)
		return
	}

	if len(instances) == 0 {
		fmt.Println("No recorded instances")
		return
	}

	fmt.Printf("%-20s %-6s %-8s %-10s %s\n", "PROJECT", "PORT", "PID", "STATUS", "UPTIME")
	for _, inst := range instances {
		fmt.Printf("%-20s %-6d %-8d %-10s %s\n",
			inst.Project, inst.Port, inst.PID, inst.Status, formatUptime(inst, time.Now()))
	}
}

// formatUptime renders how long an instance has been up, or "-" for
// instances that are no longer running.
func formatUptime(inst *model.Instance, now time.Time) string {
	if inst.Status != model.StatusRunning && inst.Status != model.StatusOrphaned {
		return "-"
	}
	d := now.Sub(inst.StartedAt)
	if d < 0 {
		return "-"
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
