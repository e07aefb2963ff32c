package port

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// waitInitialInterval is the first re-probe delay after a failed
	// availability check. Sockets in TIME_WAIT or a dying process usually
	// release the port within a few hundred milliseconds.
	waitInitialInterval = 100 * time.Millisecond

	// waitMaxInterval caps the exponential growth of the re-probe delay.
	waitMaxInterval = 2 * time.Second
)

// WaitUntilFree blocks until the given TCP port becomes available, re-probing
// with exponential backoff, or until the timeout elapses.
//
// Port release is inherently racy: after a process is signalled, the kernel
// may keep the socket alive briefly (graceful shutdown handlers, TIME_WAIT on
// the listen address with SO_REUSEADDR quirks). Rather than sleeping a fixed
// duration, we re-probe with growing intervals so the common fast case
// returns in ~100ms while slow shutdowns still get the full timeout.
//
// Returns nil as soon as a probe succeeds. Returns an error if the timeout
// elapses or ctx is cancelled with the port still held.
func (s *Scanner) WaitUntilFree(ctx context.Context, port int, timeout time.Duration) error {
	// Fast path: a single probe avoids setting up the backoff machinery
	// when the port is already free (the usual case after a clean stop).
	if s.IsPortAvailable(port, "tcp") {
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = waitInitialInterval
	policy.MaxInterval = waitMaxInterval
	// MaxElapsedTime makes the backoff itself enforce the deadline, so we
	// get a permanent failure instead of retrying forever.
	policy.MaxElapsedTime = timeout

	operation := func() error {
		if s.IsPortAvailable(port, "tcp") {
			return nil
		}
		return fmt.Errorf("port %d still in use", port)
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("timed out after %s waiting for port %d to become free: %w", timeout, port, err)
	}
	return nil
}
