// Package server launches the development server process and waits for it
// to become ready.
//
// The launcher deliberately detaches: devserve is a one-shot CLI, not a
// supervisor daemon, so the spawned server must outlive the devserve
// process. Output goes to a per-project log file instead of the operator's
// terminal, and readiness is established by probing the server's HTTP
// surface rather than watching its stdout.
package server

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/shell"
)

// Launcher spawns and probes development server processes.
type Launcher struct {
	// logger receives debug-level progress lines (spawn arguments, probe
	// attempts). The CLI wires this to stderr at the level selected by
	// --verbose.
	logger *log.Logger
}

// NewLauncher creates a Launcher that reports progress to the given logger.
// A nil logger is replaced with the package default.
func NewLauncher(logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Launcher{logger: logger}
}

// Launch starts the configured server command in dir, detached from the
// devserve process, with combined stdout/stderr appended to logPath.
// Returns the PID of the started process.
//
// The command string is tokenized with mvdan.cc/sh's shell.Fields, which
// honors quoting and expands $VAR references from the environment — so a
// config command like `uvicorn app:app --port "$DEVSERVE_PORT"` behaves the
// way it would in a POSIX shell, without invoking an actual shell.
//
// extraEnv entries override the inherited environment both during that
// expansion and in the child's environment, letting the CLI pass the
// resolved port to servers that read it either way.
//
// The context covers only the spawn itself; deliberately, the started
// process is NOT tied to it. Cancelling devserve after a successful Launch
// must not take the server down with it.
func (l *Launcher) Launch(ctx context.Context, command, dir, logPath string, extraEnv map[string]string) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// extraEnv must win during tokenization too, not just in the child's
	// environment: a command like `--port "$DEVSERVE_PORT"` is expanded by
	// shell.Fields before the child ever exists.
	lookup := func(name string) string {
		if v, ok := extraEnv[name]; ok {
			return v
		}
		return os.Getenv(name)
	}

	fields, err := shell.Fields(command, lookup)
	if err != nil {
		return 0, fmt.Errorf("failed to parse server command %q: %w", command, err)
	}
	if len(fields) == 0 {
		return 0, fmt.Errorf("server command %q is empty after expansion", command)
	}

	// Append rather than truncate: consecutive runs of the same project
	// build one continuous log, which is what an operator digging into
	// "why did it crash last time" wants.
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open server log file %q: %w", logPath, err)
	}
	// The file descriptor is inherited by the child on Start; our handle
	// can be closed as soon as the spawn is done.
	defer func() { _ = logFile.Close() }()

	// exec.Command, not CommandContext: the server must survive devserve.
	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	cmd.Env = os.Environ()
	for k, v := range extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Put the child in its own process group (unix) so terminal signals
	// aimed at devserve don't propagate to the server.
	detach(cmd)

	l.logger.Debug("spawning server", "argv0", fields[0], "args", len(fields)-1, "dir", dir, "log", logPath)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start server command %q: %w", command, err)
	}

	pid := int32(cmd.Process.Pid)

	// Release drops our handle on the child without waiting for it.
	// devserve exits shortly after; the server is reparented to init.
	_ = cmd.Process.Release()

	l.logger.Debug("server spawned", "pid", pid)
	return pid, nil
}

// ExitedEarly reports whether a freshly launched process died within the
// settle window. A server that exits in its first moments (bad import,
// wrong directory, port raced away) produces a clearer error message than
// a readiness timeout would.
func (l *Launcher) ExitedEarly(ctx context.Context, alive func(context.Context, int32) bool, pid int32, settle time.Duration) bool {
	deadline := time.Now().Add(settle)
	for time.Now().Before(deadline) {
		if !alive(ctx, pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return !alive(ctx, pid)
}
