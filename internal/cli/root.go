// Package cli implements the cobra-based CLI commands for devserve.
//
// Each subcommand (status, reclaim, start, stop, restart, list) is defined
// in its own file within this package. This file defines the root command
// that serves as the parent for all subcommands and handles global flags.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/devserve/internal/config"
	"github.com/mmr-tortoise/devserve/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// When true, all output uses structured JSON format for machine consumption.
	// When false (default), output uses human-readable text format.
	jsonOutput bool

	// verbose enables debug-level logging output for troubleshooting.
	verbose bool

	// configPath is an explicit config file path set via --config.
	// When empty, the working directory is probed for devserve.{jsonc,json,yaml,yml}.
	configPath string
)

// logger is the package-wide structured logger. It writes to stderr so
// stdout stays reserved for command output, and its level follows the
// --verbose flag (set in the root command's PersistentPreRun).
var logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	ReportTimestamp: false,
	Level:           charmlog.WarnLevel,
})

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
//
// The root command itself does not perform any action. It only provides
// help text and global flags; actual functionality lives in the
// subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devserve",
		Short: "Clean-startup supervisor for local development servers",
		Long: `devserve guarantees a clean start for a local development web server.

Before launching, it finds whatever is squatting on the server's port
(stray reload workers, half-dead containers, a forgotten instance from
another terminal), terminates it gracefully, waits for the port to come
free, and only then spawns a fresh server and probes it for readiness.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		// Version is displayed when --version flag is used.
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				logger.SetLevel(charmlog.DebugLevel)
			}
		},
	}

	// PersistentFlags are inherited by all subcommands.
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: probe working directory)")

	// Register subcommands. Each subcommand is defined in its own file
	// (status.go, reclaim.go, etc.) and returns a *cobra.Command.
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewReclaimCommand())
	rootCmd.AddCommand(NewStartCommand())
	rootCmd.AddCommand(NewStopCommand())
	rootCmd.AddCommand(NewRestartCommand())
	rootCmd.AddCommand(NewListCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// The command context is cancelled on SIGINT/SIGTERM so blocking
// operations (termination polls, readiness probes) unwind instead of
// leaving the terminal hanging.
//
// It inspects errors returned by cobra commands and translates them
// into appropriate OS exit codes. CLIError types carry their own
// exit codes; other errors default to exit code 1.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		// Generic error — exit with code 1.
		printError(err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode because stdout is
		// reserved for successful command output.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		if underlying != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", message)
		}
	}
}

// printJSON writes v to stdout as indented JSON. Shared by all subcommands
// for their --json output.
func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig resolves configuration for the current working directory,
// honoring the --config flag. Any failure is a config error (exit code 2).
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to determine working directory", err)
	}

	cfg, err := config.Load(cwd, configPath)
	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			return nil, err
		}
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to load configuration", err)
	}

	if cfg.Source != "" {
		logger.Debug("loaded configuration", "source", cfg.Source, "project", cfg.Project, "port", cfg.Port)
	} else {
		logger.Debug("no config file found, using defaults", "project", cfg.Project, "port", cfg.Port)
	}
	return cfg, nil
}
