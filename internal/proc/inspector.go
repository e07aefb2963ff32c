package proc

import (
	"context"
	"fmt"
	"os"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/mmr-tortoise/devserve/internal/model"
)

// Inspector discovers which host processes hold a TCP port or match a
// process-name filter.
//
// The struct is stateless; it exists as a receiver (rather than bare
// functions) so the CLI layer can inject it into the reconcile flow and
// tests can substitute it behind the PortInspector interface if needed.
type Inspector struct{}

// NewInspector creates a new Inspector instance.
func NewInspector() *Inspector {
	return &Inspector{}
}

// PortOwners returns the host processes that have a TCP socket in LISTEN
// state on the given port, as PortOwner values with PID, executable name,
// and command line resolved.
//
// A connection entry with PID 0 means the kernel exposed the socket but the
// owning process could not be resolved (typically another user's process on
// an unprivileged scan). Such entries are reported as owners with an empty
// ProcessName so the operator at least learns the port is held, even though
// devserve cannot terminate the holder.
func (in *Inspector) PortOwners(ctx context.Context, port int) ([]model.PortOwner, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to inspect TCP sockets: %w", err)
	}

	// De-duplicate by PID: a server listening on both IPv4 and IPv6 shows
	// up as two connection entries for the same process.
	seen := make(map[int32]bool)
	var owners []model.PortOwner

	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port {
			continue
		}
		if seen[c.Pid] {
			continue
		}
		seen[c.Pid] = true

		owner := model.PortOwner{
			Kind: model.OwnerProcess,
			Port: port,
			PID:  c.Pid,
		}

		// PID 0 = unresolvable owner; keep the entry but leave the process
		// fields empty.
		if c.Pid > 0 {
			if name, cmdline, err := describeProcess(ctx, c.Pid); err == nil {
				owner.ProcessName = name
				owner.Cmdline = cmdline
			}
		}

		owners = append(owners, owner)
	}

	return owners, nil
}

// MatchByName enumerates all host processes whose executable name or command
// line contains the filter (case-insensitive). This implements the
// process-name filter half of the reconciler: stray "uvicorn" processes are
// found even when they are not currently holding the port (e.g., a reloader
// parent whose worker died).
//
// devserve's own process and its ancestor chain are always excluded, so a
// filter that happens to match the user's shell or terminal cannot cause
// the tool to kill its own session.
func (in *Inspector) MatchByName(ctx context.Context, filter string) ([]model.PortOwner, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	protected := selfAndAncestors(ctx)

	var owners []model.PortOwner
	for _, p := range procs {
		if protected[p.Pid] {
			continue
		}

		name, cmdline, err := describeProcess(ctx, p.Pid)
		if err != nil {
			// Processes can exit between enumeration and inspection,
			// and some are unreadable without privileges. Skip quietly.
			continue
		}

		if !matchesFilter(name, cmdline, filter) {
			continue
		}

		owners = append(owners, model.PortOwner{
			Kind:        model.OwnerProcess,
			PID:         p.Pid,
			ProcessName: name,
			Cmdline:     cmdline,
		})
	}

	return owners, nil
}

// IsAlive reports whether a process with the given PID currently exists.
func (in *Inspector) IsAlive(ctx context.Context, pid int32) bool {
	running, err := process.PidExistsWithContext(ctx, pid)
	return err == nil && running
}

// CreateTime returns the process creation time in milliseconds since the
// epoch, as reported by the OS. Instance records store this value so PID
// reuse can be detected on later loads.
func (in *Inspector) CreateTime(ctx context.Context, pid int32) (int64, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, fmt.Errorf("process %d not found: %w", pid, err)
	}
	created, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read creation time of process %d: %w", pid, err)
	}
	return created, nil
}

// IsChildOf reports whether pid is a descendant of ancestor, walking the
// parent chain up to a bounded depth. Reloading servers (uvicorn --reload,
// gunicorn) bind the port in a worker child while the recorded PID is the
// supervisor parent; this lets status attribution see through that split.
func (in *Inspector) IsChildOf(ctx context.Context, pid, ancestor int32) bool {
	if pid <= 1 || ancestor <= 0 || pid == ancestor {
		return false
	}

	current := pid
	for depth := 0; depth < 32 && current > 1; depth++ {
		p, err := process.NewProcessWithContext(ctx, current)
		if err != nil {
			return false
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			return false
		}
		if ppid == ancestor {
			return true
		}
		if ppid == current {
			return false
		}
		current = ppid
	}
	return false
}

// describeProcess resolves the executable name and full command line of a PID.
func describeProcess(ctx context.Context, pid int32) (name, cmdline string, err error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", "", err
	}

	name, err = p.NameWithContext(ctx)
	if err != nil {
		return "", "", err
	}

	// Cmdline can fail on processes we cannot read (other users, kernel
	// threads). The name alone is still useful, so this is not an error.
	cmdline, _ = p.CmdlineWithContext(ctx)
	return name, cmdline, nil
}

// matchesFilter is the case-insensitive substring test shared by the
// filter-matching paths. Split out as a pure function for testability.
func matchesFilter(name, cmdline, filter string) bool {
	f := strings.ToLower(strings.TrimSpace(filter))
	if f == "" {
		return false
	}
	return strings.Contains(strings.ToLower(name), f) ||
		strings.Contains(strings.ToLower(cmdline), f)
}

// selfAndAncestors returns the PID set that termination must never touch:
// devserve itself and every ancestor up to init. The walk is bounded to
// guard against cyclic ppid data from a racing process table.
func selfAndAncestors(ctx context.Context) map[int32]bool {
	protected := map[int32]bool{0: true, 1: true}

	pid := int32(os.Getpid())
	for depth := 0; depth < 32 && pid > 1; depth++ {
		protected[pid] = true

		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			break
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil || protected[ppid] {
			break
		}
		pid = ppid
	}

	return protected
}
