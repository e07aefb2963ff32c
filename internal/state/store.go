// Package state persists devserve instance records.
//
// Each project gets one YAML file under the devserve state directory,
// recording the PID, port, command, and process identity of the server
// devserve launched for it. The records are deliberately advisory: every
// load re-validates them against the live process table, because nothing
// stops a recorded server from crashing, being killed externally, or having
// its PID reused between devserve invocations.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/devserve/internal/model"
	"github.com/mmr-tortoise/devserve/internal/proc"
)

// ErrNotFound indicates no record exists for the requested project.
var ErrNotFound = errors.New("instance record not found")

// appName is the directory name used under the platform state root.
const appName = "devserve"

// Store reads and writes instance records in a single directory.
type Store struct {
	// dir is the directory holding one <project>.yaml per record plus a
	// logs/ subdirectory for server output.
	dir string

	// inspector resolves record status against the live process table.
	inspector *proc.Inspector
}

// NewStore creates a Store rooted at the platform state directory,
// creating it if needed.
//
// Directory resolution follows platform conventions: Windows uses
// %LOCALAPPDATA%, macOS uses ~/Library/Application Support, and
// Linux/others use $XDG_STATE_HOME (defaulting to ~/.local/state).
func NewStore() (*Store, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(dir)
}

// NewStoreAt creates a Store rooted at an explicit directory. Used by tests
// and by the DEVSERVE_STATE_DIR escape hatch.
func NewStoreAt(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %q: %w", dir, err)
	}
	return &Store{dir: dir, inspector: proc.NewInspector()}, nil
}

// stateDir returns the platform-specific devserve state directory.
func stateDir() (string, error) {
	// Explicit override wins, mainly for tests and containerized use.
	if dir := os.Getenv("DEVSERVE_STATE_DIR"); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
		return filepath.Join(base, appName), nil

	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil

	default: // Linux and others
		base := os.Getenv("XDG_STATE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(base, appName), nil
	}
}

// Dir returns the directory the store is rooted at.
func (s *Store) Dir() string {
	return s.dir
}

// LogPath returns the log file path for a project's server output.
func (s *Store) LogPath(project string) string {
	return filepath.Join(s.dir, "logs", project+".log")
}

// recordPath returns the YAML file path for a project's record.
func (s *Store) recordPath(project string) string {
	return filepath.Join(s.dir, project+".yaml")
}

// Save validates and writes an instance record. The write is atomic
// (temp file + rename) so a crash mid-write cannot leave a truncated
// record behind.
func (s *Store) Save(inst *model.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance record: %w", err)
	}

	path := s.recordPath(inst.Project)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write instance record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit instance record: %w", err)
	}
	return nil
}

// Load reads the record for a project and resolves its current status
// against the live process table. Returns ErrNotFound if no record exists.
func (s *Store) Load(ctx context.Context, project string) (*model.Instance, error) {
	data, err := os.ReadFile(s.recordPath(project))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: project %q", ErrNotFound, project)
		}
		return nil, fmt.Errorf("failed to read instance record for %q: %w", project, err)
	}

	inst := &model.Instance{}
	if err := yaml.Unmarshal(data, inst); err != nil {
		return nil, fmt.Errorf("corrupt instance record for %q: %w", project, err)
	}

	inst.Status = s.resolveStatus(ctx, inst)
	return inst, nil
}

// Delete removes the record for a project. Deleting a record that does not
// exist is a no-op.
func (s *Store) Delete(project string) error {
	err := os.Remove(s.recordPath(project))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete instance record for %q: %w", project, err)
	}
	return nil
}

// List loads all records in the store with resolved statuses, sorted is the
// caller's concern. Corrupt records are skipped rather than failing the
// whole listing — one broken file should not hide the healthy instances.
func (s *Store) List(ctx context.Context) ([]*model.Instance, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var instances []*model.Instance
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		project := strings.TrimSuffix(e.Name(), ".yaml")
		inst, err := s.Load(ctx, project)
		if err != nil {
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// resolveStatus computes the lifecycle state of a record from the live
// process table:
//
//	PID dead                              → stopped
//	PID alive, creation time mismatch     → stale (PID was reused)
//	PID alive, matches, holds the port    → running
//	PID alive, matches, port not held     → orphaned
//
// The creation-time comparison tolerates a one-second skew because some
// platforms round process start times to whole seconds.
func (s *Store) resolveStatus(ctx context.Context, inst *model.Instance) model.InstanceStatus {
	if !s.inspector.IsAlive(ctx, inst.PID) {
		return model.StatusStopped
	}

	created, err := s.inspector.CreateTime(ctx, inst.PID)
	if err != nil {
		// Process vanished between the liveness check and here.
		return model.StatusStopped
	}
	if diff := created - inst.ProcStartedAt; diff > 1000 || diff < -1000 {
		return model.StatusStale
	}

	owners, err := s.inspector.PortOwners(ctx, inst.Port)
	if err == nil {
		for _, o := range owners {
			if o.PID == inst.PID {
				return model.StatusRunning
			}
		}
	}

	// Reloading servers bind through a child worker; attribute the port to
	// the recorded parent if the holder is one of its descendants. Checking
	// one generation is enough for the uvicorn/gunicorn reloader layout.
	if err == nil {
		for _, o := range owners {
			if s.inspector.IsChildOf(ctx, o.PID, inst.PID) {
				return model.StatusRunning
			}
		}
	}

	return model.StatusOrphaned
}
