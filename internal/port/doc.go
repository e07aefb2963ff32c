// Package port implements port availability scanning for the devserve CLI.
//
// The Scanner verifies OS-level port availability via net.Listen(), which
// asks the kernel directly instead of parsing /proc/net/* or shelling out
// to lsof/ss. WaitUntilFree layers exponential-backoff re-probing on top,
// because releasing a port after terminating its holder is not atomic —
// graceful shutdown handlers and lingering sockets can hold the bind for
// a short while after the process is signalled.
//
// Identifying WHO holds a port is deliberately not this package's job;
// that requires walking the process table and lives in internal/proc.
package port
