package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// perRequestTimeout bounds a single health check round trip so a hung
// accept loop cannot eat the whole readiness budget in one request.
const perRequestTimeout = 2 * time.Second

// WaitReady polls the server's health endpoint on 127.0.0.1 until it
// answers, or until timeout elapses. Any HTTP response below 500 counts as
// ready: a 404 on the health path still proves the server is accepting and
// routing requests, which is the property callers care about.
//
// Polling backs off exponentially so a slow-starting server is not hammered
// while an almost-ready one is noticed quickly.
func (l *Launcher) WaitReady(ctx context.Context, port int, healthPath string, timeout time.Duration) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, healthPath)
	client := &http.Client{Timeout: perRequestTimeout}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = timeout

	attempt := 0
	probe := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			l.logger.Debug("server not ready yet", "attempt", attempt, "err", err)
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= http.StatusInternalServerError {
			l.logger.Debug("server answered but unhealthy", "attempt", attempt, "status", resp.StatusCode)
			return fmt.Errorf("health check %s returned status %d", url, resp.StatusCode)
		}
		l.logger.Debug("server ready", "attempt", attempt, "status", resp.StatusCode)
		return nil
	}

	if err := backoff.Retry(probe, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("server on port %d did not become ready within %s: %w", port, timeout, err)
	}
	return nil
}
