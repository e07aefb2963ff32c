// Package cli — status.go implements the "devserve status" command.
//
// Status is read-only: it reports the recorded instance's resolved state
// and everything currently holding the configured port, without touching
// any of it. Holders are annotated with whether the process filter would
// recognize them, which is a dry run of what reclaim would target.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/devserve/internal/docker"
	"github.com/mmr-tortoise/devserve/internal/model"
	"github.com/mmr-tortoise/devserve/internal/port"
	"github.com/mmr-tortoise/devserve/internal/proc"
	"github.com/mmr-tortoise/devserve/internal/state"
)

// statusHolder describes one current port holder in status output.
type statusHolder struct {
	Holder  string `json:"holder"`
	Matches bool   `json:"matchesFilter"`
}

// statusResult is the JSON shape of the status report.
type statusResult struct {
	Project   string          `json:"project"`
	Port      int             `json:"port"`
	Config    string          `json:"configFile,omitempty"`
	Instance  *model.Instance `json:"instance,omitempty"`
	Holders   []statusHolder  `json:"portHolders"`
	UsedPorts []int           `json:"usedPorts,omitempty"`
}

// NewStatusCommand creates the "status" cobra command.
func NewStatusCommand() *cobra.Command {
	var scanRange int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded instance and current port holders",
		Long: `Report the state of the recorded server instance for the current project
(running, stopped, stale, or orphaned) and list everything currently
holding the configured port. Nothing is modified.

With --range N, also scan the N ports above the configured one and list
which of them are occupied, which helps when picking a fallback port.

Examples:
  devserve status
  devserve status --range 10
  devserve status --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), scanRange)
		},
	}

	cmd.Flags().IntVar(&scanRange, "range", 0, "Also scan this many ports above the configured port for occupied ones")

	return cmd
}

// runStatus gathers and prints the status report.
func runStatus(ctx context.Context, scanRange int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.NewStore()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to open state directory", err)
	}

	result := &statusResult{
		Project: cfg.Project,
		Port:    cfg.Port,
		Config:  cfg.Source,
		Holders: []statusHolder{},
	}

	inst, err := store.Load(ctx, cfg.Project)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to read instance record for %q", cfg.Project), err)
	}
	result.Instance = inst

	// Port holders: host processes plus, when the daemon answers,
	// containers publishing the port.
	inspector := proc.NewInspector()
	owners, err := inspector.PortOwners(ctx, cfg.Port)
	if err != nil {
		logger.Debug("could not enumerate port holders", "err", err)
	}

	if cli, err := docker.NewClient(); err == nil {
		if err := cli.Ping(ctx); err == nil {
			if holders, err := docker.ListPortHolders(ctx, cli, cfg.Port); err == nil {
				owners = mergeOwners(owners, holders)
			}
		}
		_ = cli.Close()
	}

	for _, o := range owners {
		result.Holders = append(result.Holders, statusHolder{
			Holder:  o.String(),
			Matches: o.MatchesFilter(cfg.ProcessFilter),
		})
	}

	if scanRange > 0 {
		result.UsedPorts = occupiedNear(cfg.Port, scanRange)
	}

	printStatusResult(result)
	return nil
}

// occupiedNear reports which ports in [base, base+width] are currently in
// use, the configured port included.
func occupiedNear(base, width int) []int {
	return port.NewScanner().GetUsedPorts(base, base+width)
}

// printStatusResult outputs the status report in text or JSON format.
func printStatusResult(result *statusResult) {
	if IsJSONOutput() {
		printJSON(result)
		return
	}

	fmt.Printf("Project: %s\n", result.Project)
	if result.Config != "" {
		fmt.Printf("Config:  %s\n", result.Config)
	}
	fmt.Printf("Port:    %d\n", result.Port)

	if result.Instance == nil {
		fmt.Println("Instance: none recorded")
	} else {
		inst := result.Instance
		fmt.Printf("Instance: %s (pid %d)\n", inst.Status, inst.PID)
		fmt.Printf("  Started: %s\n", inst.StartedAt.Format(time.RFC3339))
		fmt.Printf("  Log:     %s\n", inst.LogFile)
	}

	if len(result.Holders) == 0 {
		fmt.Println("Port holders: none, port is free")
	} else {
		fmt.Println("Port holders:")
		for _, h := range result.Holders {
			marker := " "
			if h.Matches {
				marker = "*"
			}
			fmt.Printf("  %s %s\n", marker, h.Holder)
		}
		fmt.Println("(* = would be reclaimed automatically)")
	}

	if result.UsedPorts != nil {
		if len(result.UsedPorts) == 0 {
			fmt.Println("Nearby ports: all free")
		} else {
			parts := make([]string, len(result.UsedPorts))
			for i, p := range result.UsedPorts {
				parts[i] = strconv.Itoa(p)
			}
			fmt.Printf("Nearby ports in use: %s\n", strings.Join(parts, ", "))
		}
	}
}
