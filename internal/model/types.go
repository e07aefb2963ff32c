// Package model defines the domain types for the devserve CLI.
//
// All entities in this package represent the transient OS-level facts the
// tool works with: who holds the development port right now, and which
// server instance (if any) devserve itself launched. Instance records are
// persisted as YAML files by the state package; everything else is
// reconstructed from the live process table and the Docker API at runtime.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// InstanceStatus represents the lifecycle state of a managed server instance.
// The state transitions are:
//
//	[Started] → Running → Stopped ⇄ Running → [Record removed]
//	Running → Stale    (recorded PID was reused by an unrelated process)
//	Running → Orphaned (process alive but no longer bound to the port)
type InstanceStatus string

const (
	// StatusRunning indicates the recorded process is alive, matches the
	// recorded identity, and is listening on the recorded port.
	StatusRunning InstanceStatus = "running"

	// StatusStopped indicates the recorded process is no longer alive.
	// The record is preserved so "start" can reuse the log file location.
	StatusStopped InstanceStatus = "stopped"

	// StatusStale indicates a process with the recorded PID is alive but its
	// start time does not match the record — the OS reused the PID for an
	// unrelated process. The record must not be acted on.
	StatusStale InstanceStatus = "stale"

	// StatusOrphaned indicates the recorded process is alive and matches the
	// record, but no longer holds the port. This typically happens when a
	// reloading server crashed its worker and the parent lost the socket.
	StatusOrphaned InstanceStatus = "orphaned"
)

// String returns the string representation of InstanceStatus.
// This method satisfies the fmt.Stringer interface, enabling
// human-readable output in CLI commands and logging.
func (s InstanceStatus) String() string {
	return string(s)
}

// IsValid checks whether the InstanceStatus value is one of the
// predefined valid states.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case StatusRunning, StatusStopped, StatusStale, StatusOrphaned:
		return true
	default:
		return false
	}
}

// ParseInstanceStatus converts a string to an InstanceStatus.
// Returns an error if the string does not match any valid status.
func ParseInstanceStatus(s string) (InstanceStatus, error) {
	status := InstanceStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid instance status: %q (valid: running, stopped, stale, orphaned)", s)
	}
	return status, nil
}

// OwnerKind identifies what kind of entity currently holds the target port.
//
// Detection logic:
//   - A host process with a listening socket on the port → OwnerProcess
//   - No host listener found, but a Docker container publishes the port
//     (the actual listener is dockerd's proxy) → OwnerContainer
type OwnerKind string

const (
	// OwnerProcess means the port is held by a regular host process.
	OwnerProcess OwnerKind = "process"

	// OwnerContainer means the port is published by a Docker container.
	// Terminating the host-side proxy process would not free the port;
	// the container itself has to be stopped.
	OwnerContainer OwnerKind = "container"
)

// String returns the string representation of OwnerKind.
func (k OwnerKind) String() string {
	return string(k)
}

// IsValid checks whether the OwnerKind value is one of the
// predefined valid kinds.
func (k OwnerKind) IsValid() bool {
	switch k {
	case OwnerProcess, OwnerContainer:
		return true
	default:
		return false
	}
}

// PortOwner describes a single entity holding the target port.
// Exactly one of the process fields (PID/ProcessName/Cmdline) or the
// container fields (ContainerID/ContainerName/Image) is populated,
// depending on Kind.
type PortOwner struct {
	// Kind distinguishes host processes from Docker containers.
	Kind OwnerKind `json:"kind"`

	// Port is the TCP port this owner holds.
	Port int `json:"port"`

	// PID is the operating-system process ID. Only set for Kind == process.
	PID int32 `json:"pid,omitempty"`

	// ProcessName is the executable name (e.g., "uvicorn", "python3.12").
	ProcessName string `json:"processName,omitempty"`

	// Cmdline is the full command line of the process, space-joined.
	Cmdline string `json:"cmdline,omitempty"`

	// ContainerID is the Docker container ID. Only set for Kind == container.
	ContainerID string `json:"containerId,omitempty"`

	// ContainerName is the human-readable Docker container name.
	ContainerName string `json:"containerName,omitempty"`

	// Image is the Docker image the container was created from.
	Image string `json:"image,omitempty"`
}

// String returns a short human-readable description of the owner,
// suitable for confirmation prompts and error messages.
func (o *PortOwner) String() string {
	switch o.Kind {
	case OwnerContainer:
		return fmt.Sprintf("container %s (%s)", o.ContainerName, o.Image)
	default:
		return fmt.Sprintf("pid %d (%s)", o.PID, o.ProcessName)
	}
}

// MatchesFilter reports whether this owner matches a process-name filter.
// The match is a case-insensitive substring test against both the executable
// name and the full command line, so a filter of "uvicorn" matches a process
// named "python3.12" running "python -m uvicorn app:app".
//
// Container owners never match a process filter — stopping a container is a
// separate decision from killing a stray host process, and always requires
// confirmation or --force.
func (o *PortOwner) MatchesFilter(filter string) bool {
	if o.Kind != OwnerProcess || filter == "" {
		return false
	}
	f := strings.ToLower(filter)
	return strings.Contains(strings.ToLower(o.ProcessName), f) ||
		strings.Contains(strings.ToLower(o.Cmdline), f)
}

// Instance represents one server process launched and recorded by devserve.
// This is the primary aggregate entity in the domain: the state package
// persists it as a YAML file, and every command that acts on an instance
// first re-validates the record against the live process table.
type Instance struct {
	// ID uniquely identifies this instance record (a UUID).
	ID string `json:"id" yaml:"id"`

	// Project is the project name the instance belongs to. Must contain only
	// alphanumeric characters and hyphens.
	Project string `json:"project" yaml:"project"`

	// PID is the process ID of the launched server.
	PID int32 `json:"pid" yaml:"pid"`

	// Port is the TCP port the server was asked to bind.
	Port int `json:"port" yaml:"port"`

	// Command is the exact command line the server was launched with.
	Command string `json:"command" yaml:"command"`

	// LogFile is the absolute path of the file the server's combined
	// stdout/stderr is redirected to.
	LogFile string `json:"logFile" yaml:"log_file"`

	// HealthPath is the HTTP path probed for readiness (e.g., "/docs").
	HealthPath string `json:"healthPath" yaml:"health_path"`

	// StartedAt is the wall-clock time devserve launched the server.
	StartedAt time.Time `json:"startedAt" yaml:"started_at"`

	// ProcStartedAt is the process creation time reported by the OS, in
	// milliseconds since the epoch. Used to detect PID reuse: a live process
	// with the recorded PID but a different creation time is not our server.
	ProcStartedAt int64 `json:"procStartedAt" yaml:"proc_started_at"`

	// Status is the computed lifecycle state. Never persisted — it is
	// recomputed from the process table on every load.
	Status InstanceStatus `json:"status" yaml:"-"`
}

// projectRegex validates project names: alphanumeric + hyphens only,
// must start and end with alphanumeric.
var projectRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)

// ValidateProject checks if the given name is a valid project name.
// Valid names contain only alphanumeric characters and hyphens,
// and must start/end with an alphanumeric character.
func ValidateProject(name string) error {
	if name == "" {
		return fmt.Errorf("project name must not be empty")
	}
	if !projectRegex.MatchString(name) {
		return fmt.Errorf("invalid project name %q: must contain only alphanumeric characters and hyphens, and start/end with alphanumeric", name)
	}
	return nil
}

// Validate checks whether the Instance has valid field values.
func (i *Instance) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("instance: id must not be empty")
	}
	if err := ValidateProject(i.Project); err != nil {
		return fmt.Errorf("instance: %w", err)
	}
	if i.PID <= 0 {
		return fmt.Errorf("instance: pid %d must be positive", i.PID)
	}
	if i.Port < 1 || i.Port > 65535 {
		return fmt.Errorf("instance: port %d out of range (1-65535)", i.Port)
	}
	if strings.TrimSpace(i.Command) == "" {
		return fmt.Errorf("instance: command must not be empty")
	}
	return nil
}

// ExitCode defines standard CLI exit codes. These codes allow scripts and
// CI systems to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the project configuration file was
	// missing (when explicitly requested) or invalid.
	ExitConfigError ExitCode = 2

	// ExitPermissionDenied indicates a port holder could not be terminated
	// due to insufficient privileges, and the port remained held.
	ExitPermissionDenied ExitCode = 3

	// ExitPortBusy indicates the target port was still in use after all
	// termination attempts completed.
	ExitPortBusy ExitCode = 4

	// ExitServerFailed indicates the server process could not be spawned
	// or did not become ready within the readiness timeout.
	ExitServerFailed ExitCode = 5

	// ExitInstanceNotFound indicates no recorded instance matches the
	// requested project.
	ExitInstanceNotFound ExitCode = 6

	// ExitUserCancelled indicates the user declined a confirmation prompt.
	ExitUserCancelled ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
