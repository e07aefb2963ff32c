package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sentinel errors returned by Terminate. Callers use errors.Is to map them
// to exit codes and operator-facing messages.
var (
	// ErrPermissionDenied means the OS refused the kill signal. The usual
	// cause is a holder owned by another user; the operator needs elevated
	// privileges to remove it.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrProtectedProcess means the target PID is devserve itself, one of
	// its ancestors, or a system process (PID 0/1). These are never
	// signalled regardless of flags.
	ErrProtectedProcess = errors.New("refusing to terminate protected process")
)

// defaultPollInterval is how often Terminate re-checks whether the process
// has exited during the grace period.
const defaultPollInterval = 100 * time.Millisecond

// Terminate stops the process with the given PID, gracefully if possible.
//
// Sequence:
//  1. SIGTERM, giving the process a chance to run shutdown handlers
//     (flush logs, close sockets, reap child workers).
//  2. Poll for exit every 100ms for up to the grace duration.
//  3. If still alive after the grace period, SIGKILL.
//
// A process that disappears between enumeration and signalling is treated as
// success — the goal is "gone", not "killed by us". Returns
// ErrPermissionDenied if the OS refuses the signal, and ErrProtectedProcess
// if pid is devserve itself, an ancestor, or PID 0/1.
func (in *Inspector) Terminate(ctx context.Context, pid int32, grace time.Duration) error {
	if pid <= 1 || selfAndAncestors(ctx)[pid] {
		return fmt.Errorf("%w: pid %d", ErrProtectedProcess, pid)
	}

	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		// Already gone, nothing to terminate.
		return nil
	}

	if err := p.TerminateWithContext(ctx); err != nil {
		if isPermission(err) {
			return fmt.Errorf("%w: cannot signal pid %d (try running with elevated privileges)", ErrPermissionDenied, pid)
		}
		if isGone(err) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM to pid %d: %w", pid, err)
	}

	// Wait out the grace period, polling for exit.
	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !in.IsAlive(ctx, pid) {
				return nil
			}
		}
	}

	// Grace expired — escalate. SIGKILL cannot be caught or ignored, so a
	// surviving process after this point indicates a kernel-level hang
	// (e.g., uninterruptible disk sleep), which we report rather than retry.
	if err := p.KillWithContext(ctx); err != nil {
		if isPermission(err) {
			return fmt.Errorf("%w: cannot kill pid %d", ErrPermissionDenied, pid)
		}
		if isGone(err) {
			return nil
		}
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}

	// Give the kernel a moment to reap, then verify.
	time.Sleep(defaultPollInterval)
	if in.IsAlive(ctx, pid) {
		return fmt.Errorf("pid %d survived SIGKILL", pid)
	}
	return nil
}

// isPermission reports whether an error from a kill signal indicates
// insufficient privileges.
func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM)
}

// isGone reports whether an error from a kill signal indicates the target
// process no longer exists (exited on its own between lookup and signal).
func isGone(err error) bool {
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone)
}
