// Package proc provides host process inspection and termination for the
// devserve CLI.
//
// This package answers the second half of the port question: internal/port
// knows whether the development port is held, proc knows by whom. It walks
// the process and socket tables via github.com/shirou/gopsutil/v4 rather
// than shelling out to lsof/ss/ps, which keeps behavior consistent across
// Linux and macOS and avoids parsing human-oriented output.
//
// Termination is graceful by default: SIGTERM first, SIGKILL only after the
// grace period expires. Killing OS processes is best-effort and racy by
// nature — callers must re-probe the port afterwards instead of assuming
// the termination freed it.
package proc
