// Package docker provides Docker Engine API wrappers for the devserve
// reconciler.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Discovery of running containers that publish the development port
//     on the host
//   - Graceful container stop with TERM→KILL escalation, matching the
//     semantics the proc package applies to host processes
//
// Docker is strictly optional: every entry point reports daemon absence as
// ErrDaemonUnavailable, and callers fall back to host-only reconciliation.
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
