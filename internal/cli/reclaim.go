// Package cli — reclaim.go implements the "devserve reclaim" command.
//
// Reclaim is the port reconciler: it enumerates everything holding the
// target port (host processes via their listening sockets, plus any process
// whose name or command line matches the configured filter, plus Docker
// containers publishing the port), terminates them gracefully, and waits
// for the port to come free.
//
// The operation is best-effort across holders: one process that cannot be
// terminated does not stop the others from being handled. The exit code
// reports the worst outcome (permission denied beats port-still-busy).
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/devserve/internal/docker"
	"github.com/mmr-tortoise/devserve/internal/model"
	"github.com/mmr-tortoise/devserve/internal/port"
	"github.com/mmr-tortoise/devserve/internal/proc"
)

// freeWaitFloor is the minimum time reclaim waits for the kernel to release
// the port after the holders are gone. Sockets can linger briefly even after
// their owning process has exited.
const freeWaitFloor = 5 * time.Second

// reclaimOptions carries the resolved parameters for one reclaim pass.
type reclaimOptions struct {
	port   int
	filter string
	grace  time.Duration

	// force terminates holders that do NOT match the filter without
	// prompting. Matching holders never require confirmation; they are
	// exactly what the filter exists to identify.
	force bool

	// confirmIn is where the confirmation prompt reads its answer from.
	confirmIn io.Reader
}

// reclaimResult summarizes what one reclaim pass did.
type reclaimResult struct {
	Port       int               `json:"port"`
	Terminated []model.PortOwner `json:"terminated"`
	Skipped    []model.PortOwner `json:"skipped,omitempty"`
	Freed      bool              `json:"freed"`
}

// NewReclaimCommand creates the "reclaim" cobra command.
func NewReclaimCommand() *cobra.Command {
	var (
		portFlag   int
		filterFlag string
		graceFlag  time.Duration
		forceFlag  bool
	)

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Terminate whatever is holding the server's port",
		Long: `Find every process and container holding the configured port, terminate
them gracefully (SIGTERM, then SIGKILL after the grace period), and wait
for the port to come free.

Holders matching the process filter are terminated without asking. Other
holders require confirmation, or --force.

Exit codes: 3 if a holder could not be terminated for lack of permission,
4 if the port is still busy afterwards, 7 if the confirmation was declined.

Examples:
  devserve reclaim
  devserve reclaim --port 8000 --filter uvicorn
  devserve reclaim --force --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			opts := reclaimOptions{
				port:      cfg.Port,
				filter:    cfg.ProcessFilter,
				grace:     cfg.Grace,
				force:     forceFlag,
				confirmIn: cmd.InOrStdin(),
			}
			if cmd.Flags().Changed("port") {
				opts.port = portFlag
			}
			if cmd.Flags().Changed("filter") {
				opts.filter = filterFlag
			}
			if cmd.Flags().Changed("grace") {
				opts.grace = graceFlag
			}

			result, err := reclaimPort(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printReclaimResult(result)
			return nil
		},
	}

	cmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Port to reclaim (default: configured port)")
	cmd.Flags().StringVarP(&filterFlag, "filter", "f", "", "Process name filter (default: configured filter)")
	cmd.Flags().DurationVar(&graceFlag, "grace", 0, "Grace period between SIGTERM and SIGKILL (default: configured)")
	cmd.Flags().BoolVar(&forceFlag, "force", false, "Terminate non-matching port holders without confirmation")

	return cmd
}

// reclaimPort runs one reconciliation pass against opts.port. It is also
// called from the start and restart commands before launching the server.
func reclaimPort(ctx context.Context, opts reclaimOptions) (*reclaimResult, error) {
	result := &reclaimResult{Port: opts.port}
	inspector := proc.NewInspector()

	// Step 1: Enumerate host processes holding the port, and processes
	// matching the filter regardless of port. A crashed reload worker can
	// lose its socket and still wedge the next startup, so the filter
	// catches what the socket table misses.
	owners, err := inspector.PortOwners(ctx, opts.port)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to enumerate holders of port %d", opts.port), err)
	}

	named, err := inspector.MatchByName(ctx, opts.filter)
	if err != nil {
		logger.Debug("process name scan failed", "err", err)
		named = nil
	}
	owners = mergeOwners(owners, named)

	// Step 2: Add containers publishing the port. Docker being down is not
	// an error for reclaim; it just means there are no containers to stop.
	var dockerCli *docker.Client
	if cli, err := docker.NewClient(); err != nil {
		logger.Debug("docker unavailable, reclaiming host processes only", "err", err)
	} else if err := cli.Ping(ctx); err != nil {
		logger.Debug("docker unavailable, reclaiming host processes only", "err", err)
		_ = cli.Close()
	} else {
		dockerCli = cli
		defer func() { _ = dockerCli.Close() }()

		holders, err := docker.ListPortHolders(ctx, dockerCli, opts.port)
		if err != nil {
			logger.Debug("container enumeration failed", "err", err)
		} else {
			owners = mergeOwners(owners, holders)
		}
	}

	if len(owners) == 0 {
		logger.Debug("port has no holders, nothing to reclaim", "port", opts.port)
		result.Freed = true
		return result, nil
	}

	for _, o := range owners {
		logger.Debug("found port holder", "holder", o.String())
	}

	// Step 3: Confirm before touching holders the filter does not
	// recognize, containers included.
	targets, unexpected := partitionOwners(owners, opts.filter)
	if len(unexpected) > 0 {
		if opts.force {
			targets = append(targets, unexpected...)
		} else {
			ok, err := confirmTermination(opts.confirmIn, opts.port, unexpected)
			if err != nil || !ok {
				result.Skipped = unexpected
				return result, model.NewCLIError(model.ExitUserCancelled,
					fmt.Sprintf("declined to terminate %d unrecognized holder(s) of port %d (use --force to skip the prompt)",
						len(unexpected), opts.port))
			}
			targets = append(targets, unexpected...)
		}
	}

	// Step 4: Terminate, best-effort. Keep going past failures so a single
	// privileged process does not shield the rest.
	var permErrs, otherErrs []error
	for _, o := range targets {
		switch o.Kind {
		case model.OwnerProcess:
			err := inspector.Terminate(ctx, o.PID, opts.grace)
			switch {
			case err == nil:
				result.Terminated = append(result.Terminated, o)
			case errors.Is(err, proc.ErrPermissionDenied):
				logger.Warn("permission denied", "holder", o.String())
				permErrs = append(permErrs, fmt.Errorf("%s: %w", o.String(), err))
			case errors.Is(err, proc.ErrProtectedProcess):
				logger.Warn("skipping protected process", "holder", o.String())
				result.Skipped = append(result.Skipped, o)
			default:
				otherErrs = append(otherErrs, fmt.Errorf("%s: %w", o.String(), err))
			}

		case model.OwnerContainer:
			if dockerCli == nil {
				result.Skipped = append(result.Skipped, o)
				continue
			}
			graceSeconds := int(opts.grace.Round(time.Second) / time.Second)
			if err := docker.StopContainer(ctx, dockerCli, o.ContainerID, graceSeconds); err != nil {
				otherErrs = append(otherErrs, fmt.Errorf("%s: %w", o.String(), err))
			} else {
				result.Terminated = append(result.Terminated, o)
			}
		}
	}

	// Step 5: Wait for the kernel to actually release the port. What the
	// failed terminations mean depends on the outcome here: a denied kill
	// of a process that releases the port anyway is not an error.
	waitTimeout := opts.grace + freeWaitFloor
	scanner := port.NewScanner()
	if err := scanner.WaitUntilFree(ctx, opts.port, waitTimeout); err != nil {
		if len(permErrs) > 0 {
			return result, model.WrapCLIError(model.ExitPermissionDenied,
				fmt.Sprintf("could not terminate %d holder(s) of port %d: permission denied (try again with elevated privileges)",
					len(permErrs), opts.port), errors.Join(append(permErrs, err)...))
		}
		if len(otherErrs) > 0 {
			err = errors.Join(append(otherErrs, err)...)
		}
		return result, model.WrapCLIError(model.ExitPortBusy,
			fmt.Sprintf("port %d is still in use after reclaiming", opts.port), err)
	}

	result.Freed = true
	if failed := append(permErrs, otherErrs...); len(failed) > 0 {
		// The port came free anyway, so these are warnings, not failures.
		logger.Warn("some holders reported errors during termination", "err", errors.Join(failed...))
	}
	return result, nil
}

// mergeOwners combines two holder lists, deduplicating processes by PID and
// containers by ID.
func mergeOwners(a, b []model.PortOwner) []model.PortOwner {
	merged := make([]model.PortOwner, 0, len(a)+len(b))
	seenPID := make(map[int32]bool)
	seenContainer := make(map[string]bool)

	for _, list := range [][]model.PortOwner{a, b} {
		for _, o := range list {
			switch o.Kind {
			case model.OwnerProcess:
				if seenPID[o.PID] {
					continue
				}
				seenPID[o.PID] = true
			case model.OwnerContainer:
				if seenContainer[o.ContainerID] {
					continue
				}
				seenContainer[o.ContainerID] = true
			}
			merged = append(merged, o)
		}
	}
	return merged
}

// partitionOwners splits holders into expected targets (processes matching
// the filter) and unexpected ones that need confirmation. Containers are
// always unexpected: the filter describes a host process, and stopping
// someone's unrelated container just because it publishes the port needs
// explicit consent.
func partitionOwners(owners []model.PortOwner, filter string) (targets, unexpected []model.PortOwner) {
	for _, o := range owners {
		if o.MatchesFilter(filter) {
			targets = append(targets, o)
		} else {
			unexpected = append(unexpected, o)
		}
	}
	return targets, unexpected
}

// confirmTermination asks the user whether the listed holders should be
// terminated. Only an explicit "y"/"yes" counts as consent; EOF or anything
// else declines.
func confirmTermination(in io.Reader, targetPort int, owners []model.PortOwner) (bool, error) {
	fmt.Fprintf(os.Stderr, "Port %d is held by something that does not look like the dev server:\n", targetPort)
	for _, o := range owners {
		fmt.Fprintf(os.Stderr, "  - %s\n", o.String())
	}
	fmt.Fprint(os.Stderr, "Terminate them? [y/N] ")

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// printReclaimResult outputs the reclaim result in text or JSON format.
func printReclaimResult(result *reclaimResult) {
	if IsJSONOutput() {
		printJSON(result)
		return
	}

	if len(result.Terminated) == 0 {
		fmt.Printf("Port %d is free, nothing to reclaim\n", result.Port)
		return
	}

	fmt.Printf("Reclaimed port %d:\n", result.Port)
	for _, o := range result.Terminated {
		fmt.Printf("  terminated %s\n", o.String())
	}
	for _, o := range result.Skipped {
		fmt.Printf("  skipped    %s\n", o.String())
	}
}
