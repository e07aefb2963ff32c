// Package cli — start.go implements the "devserve start" command.
//
// Start is the reason devserve exists: it reclaims the configured port,
// spawns the server command detached with its output in a per-project log
// file, records the instance, and waits for the HTTP health endpoint to
// answer before reporting success. A server that dies in its first moments
// or never becomes ready fails the command with exit code 5 and the tail
// of its log.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/devserve/internal/model"
	"github.com/mmr-tortoise/devserve/internal/port"
	"github.com/mmr-tortoise/devserve/internal/proc"
	"github.com/mmr-tortoise/devserve/internal/server"
	"github.com/mmr-tortoise/devserve/internal/state"
)

// settleWindow is how long start watches a freshly spawned process for an
// immediate crash before moving on to the readiness probe.
const settleWindow = 500 * time.Millisecond

// logTailLines is how many trailing log lines are attached to a startup
// failure message.
const logTailLines = 15

// fallbackRange is how far above the configured port start searches for a
// substitute when --fallback is given and the port cannot be freed.
const fallbackRange = 100

// startFlags are the options shared between start and restart.
type startFlags struct {
	restart   bool
	noReclaim bool
	force     bool
	fallback  bool
}

// startResult is the JSON shape of a successful start.
type startResult struct {
	Project string `json:"project"`
	PID     int32  `json:"pid"`
	Port    int    `json:"port"`
	URL     string `json:"url"`
	LogFile string `json:"logFile"`
	Action  string `json:"action"`
}

// NewStartCommand creates the "start" cobra command.
func NewStartCommand() *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the development server on a clean port",
		Long: `Reclaim the configured port, launch the server command, and wait until
its health endpoint answers.

If a recorded instance is already running, start is a no-op unless
--restart is given. Port reclaiming can be skipped with --no-reclaim,
in which case a busy port fails immediately with exit code 4.

Examples:
  devserve start
  devserve start --restart
  devserve start --no-reclaim --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.restart, "restart", false, "Restart the server if it is already running")
	cmd.Flags().BoolVar(&flags.noReclaim, "no-reclaim", false, "Do not terminate existing port holders")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Terminate non-matching port holders without confirmation")
	cmd.Flags().BoolVar(&flags.fallback, "fallback", false, "Use the next free port when the configured one cannot be freed")

	return cmd
}

// runStart is the main logic function for the start command. It is also the
// second half of restart.
func runStart(ctx context.Context, cmd *cobra.Command, flags startFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.NewStore()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to open state directory", err)
	}

	inspector := proc.NewInspector()

	// Step 1: Look at the recorded instance, if any. A healthy running
	// instance makes start a no-op; anything else is cleaned up.
	existing, err := store.Load(ctx, cfg.Project)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to read instance record for %q", cfg.Project), err)
	}

	if existing != nil {
		switch existing.Status {
		case model.StatusRunning:
			if !flags.restart {
				printStartResult(&startResult{
					Project: cfg.Project,
					PID:     existing.PID,
					Port:    existing.Port,
					URL:     serverURL(existing.Port, existing.HealthPath),
					LogFile: existing.LogFile,
					Action:  "already-running",
				})
				return nil
			}
			logger.Debug("restarting running instance", "pid", existing.PID)
			if err := inspector.Terminate(ctx, existing.PID, cfg.Grace); err != nil {
				return model.WrapCLIError(model.ExitPermissionDenied,
					fmt.Sprintf("failed to stop running instance (pid %d)", existing.PID), err)
			}
			_ = store.Delete(cfg.Project)

		case model.StatusStale:
			// The PID now belongs to an unrelated process. Drop the
			// record; never signal a reused PID.
			logger.Debug("dropping stale instance record", "pid", existing.PID)
			_ = store.Delete(cfg.Project)

		default:
			// Stopped or orphaned. The record is useless either way;
			// an orphaned process still holding the port is reclaim's
			// problem, not the record's.
			_ = store.Delete(cfg.Project)
		}
	}

	// Step 2: Reclaim the port unless told not to.
	if flags.noReclaim {
		logger.Debug("skipping port reclaim")
	} else {
		opts := reclaimOptions{
			port:      cfg.Port,
			filter:    cfg.ProcessFilter,
			grace:     cfg.Grace,
			force:     flags.force,
			confirmIn: cmd.InOrStdin(),
		}
		if _, err := reclaimPort(ctx, opts); err != nil {
			alt, ok := fallbackPort(cfg.Port, flags.fallback, err)
			if !ok {
				return err
			}
			logger.Warn("port could not be freed, falling back", "from", cfg.Port, "to", alt)
			cfg.Port = alt
		}
	}

	// Step 3: Launch, detached, with output in the project log.
	cwd, err := os.Getwd()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to determine working directory", err)
	}

	launcher := server.NewLauncher(logger)
	logPath := store.LogPath(cfg.Project)
	pid, err := launcher.Launch(ctx, cfg.Command, cwd, logPath, map[string]string{
		"DEVSERVE_PORT": strconv.Itoa(cfg.Port),
	})
	if err != nil {
		return model.WrapCLIError(model.ExitServerFailed, "failed to launch server", err)
	}

	// Step 4: Record the instance before probing. Even a server that fails
	// its health check should be findable by stop and status.
	procStarted, err := inspector.CreateTime(ctx, pid)
	if err != nil {
		logger.Debug("could not read process creation time", "pid", pid, "err", err)
	}

	inst := &model.Instance{
		ID:            uuid.NewString(),
		Project:       cfg.Project,
		PID:           pid,
		Port:          cfg.Port,
		Command:       cfg.Command,
		LogFile:       logPath,
		HealthPath:    cfg.HealthPath,
		StartedAt:     time.Now(),
		ProcStartedAt: procStarted,
	}
	if err := store.Save(inst); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to save instance record", err)
	}

	// Step 5: Catch immediate crashes before burning the readiness budget
	// on a process that is already gone.
	if launcher.ExitedEarly(ctx, inspector.IsAlive, pid, settleWindow) {
		return model.WrapCLIError(model.ExitServerFailed,
			fmt.Sprintf("server exited immediately after start (pid %d)", pid),
			fmt.Errorf("last log lines from %s:\n%s", logPath, logTail(logPath, logTailLines)))
	}

	// Step 6: Wait for the health endpoint.
	logger.Debug("waiting for server to become ready", "port", cfg.Port, "path", cfg.HealthPath, "timeout", cfg.ReadyTimeout)
	if err := launcher.WaitReady(ctx, cfg.Port, cfg.HealthPath, cfg.ReadyTimeout); err != nil {
		return model.WrapCLIError(model.ExitServerFailed,
			fmt.Sprintf("server did not become ready (pid %d, log: %s)", pid, logPath), err)
	}

	printStartResult(&startResult{
		Project: cfg.Project,
		PID:     pid,
		Port:    cfg.Port,
		URL:     serverURL(cfg.Port, cfg.HealthPath),
		LogFile: logPath,
		Action:  "started",
	})
	return nil
}

// fallbackPort picks a substitute port above base when the reclaim failed
// only because the port stayed busy and the user opted into fallback.
// Permission and cancellation failures are never papered over with a
// different port.
func fallbackPort(base int, enabled bool, reclaimErr error) (int, bool) {
	if !enabled {
		return 0, false
	}
	var cliErr *model.CLIError
	if !errors.As(reclaimErr, &cliErr) || cliErr.Code != model.ExitPortBusy {
		return 0, false
	}
	alt, err := port.NewScanner().FindAvailablePort(base+1, base+fallbackRange, "tcp")
	if err != nil {
		return 0, false
	}
	return alt, true
}

// serverURL builds the local URL a browser would use to reach the server.
func serverURL(port int, healthPath string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, healthPath)
}

// logTail returns the last n lines of the file at path, or a placeholder
// when the log cannot be read.
func logTail(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "(log unavailable)"
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// printStartResult outputs the start command result in text or JSON format.
func printStartResult(result *startResult) {
	if IsJSONOutput() {
		printJSON(result)
		return
	}

	if result.Action == "already-running" {
		fmt.Printf("Server %q is already running (pid %d) at %s\n",
			result.Project, result.PID, result.URL)
		fmt.Println("Use --restart to restart it.")
		return
	}

	fmt.Printf("Started server %q (pid %d)\n", result.Project, result.PID)
	fmt.Printf("  URL: %s\n", result.URL)
	fmt.Printf("  Log: %s\n", result.LogFile)
}
