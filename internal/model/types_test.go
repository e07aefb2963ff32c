package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInstanceStatus_String verifies that InstanceStatus values produce
// the expected string representations for CLI output and JSON serialization.
func TestInstanceStatus_String(t *testing.T) {
	tests := []struct {
		status   InstanceStatus
		expected string
	}{
		{StatusRunning, "running"},
		{StatusStopped, "stopped"},
		{StatusStale, "stale"},
		{StatusOrphaned, "orphaned"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

// TestInstanceStatus_IsValid checks that only defined status values pass validation.
func TestInstanceStatus_IsValid(t *testing.T) {
	assert.True(t, StatusRunning.IsValid())
	assert.True(t, StatusStopped.IsValid())
	assert.True(t, StatusStale.IsValid())
	assert.True(t, StatusOrphaned.IsValid())
	assert.False(t, InstanceStatus("invalid").IsValid())
	assert.False(t, InstanceStatus("").IsValid())
}

// TestParseInstanceStatus verifies string-to-status conversion,
// including case normalization and error cases.
func TestParseInstanceStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected InstanceStatus
		hasError bool
	}{
		{"running", StatusRunning, false},
		{"stopped", StatusStopped, false},
		{"stale", StatusStale, false},
		{"orphaned", StatusOrphaned, false},
		{"Running", StatusRunning, false}, // case insensitive
		{"STOPPED", StatusStopped, false}, // case insensitive
		{"invalid", "", true},             // unknown value
		{"", "", true},                    // empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseInstanceStatus(tt.input)
			if tt.hasError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

// TestOwnerKind_IsValid checks that only defined owner kinds pass validation.
func TestOwnerKind_IsValid(t *testing.T) {
	assert.True(t, OwnerProcess.IsValid())
	assert.True(t, OwnerContainer.IsValid())
	assert.False(t, OwnerKind("socket").IsValid())
	assert.False(t, OwnerKind("").IsValid())
}

// TestPortOwner_String verifies the human-readable owner descriptions used
// in confirmation prompts and error messages.
func TestPortOwner_String(t *testing.T) {
	proc := &PortOwner{Kind: OwnerProcess, Port: 8000, PID: 4242, ProcessName: "uvicorn"}
	assert.Equal(t, "pid 4242 (uvicorn)", proc.String())

	ctr := &PortOwner{
		Kind:          OwnerContainer,
		Port:          8000,
		ContainerName: "backend-app-1",
		Image:         "backend:dev",
	}
	assert.Equal(t, "container backend-app-1 (backend:dev)", ctr.String())
}

// TestPortOwner_MatchesFilter exercises the case-insensitive substring match
// against both the executable name and the full command line.
func TestPortOwner_MatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		owner  PortOwner
		filter string
		want   bool
	}{
		{
			name:   "matches executable name",
			owner:  PortOwner{Kind: OwnerProcess, ProcessName: "uvicorn"},
			filter: "uvicorn",
			want:   true,
		},
		{
			name:   "matches cmdline when exe is the interpreter",
			owner:  PortOwner{Kind: OwnerProcess, ProcessName: "python3.12", Cmdline: "python -m uvicorn app:app --port 8000"},
			filter: "uvicorn",
			want:   true,
		},
		{
			name:   "case insensitive",
			owner:  PortOwner{Kind: OwnerProcess, ProcessName: "Uvicorn"},
			filter: "UVICORN",
			want:   true,
		},
		{
			name:   "no match",
			owner:  PortOwner{Kind: OwnerProcess, ProcessName: "postgres", Cmdline: "postgres -D /var/lib/pg"},
			filter: "uvicorn",
			want:   false,
		},
		{
			name:   "empty filter never matches",
			owner:  PortOwner{Kind: OwnerProcess, ProcessName: "uvicorn"},
			filter: "",
			want:   false,
		},
		{
			name:   "containers never match a process filter",
			owner:  PortOwner{Kind: OwnerContainer, ContainerName: "uvicorn-box", Image: "uvicorn:latest"},
			filter: "uvicorn",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.owner.MatchesFilter(tt.filter))
		})
	}
}

// TestValidateProject checks project name validation rules.
func TestValidateProject(t *testing.T) {
	// Valid names.
	assert.NoError(t, ValidateProject("backend"))
	assert.NoError(t, ValidateProject("course-materials"))
	assert.NoError(t, ValidateProject("a"))
	assert.NoError(t, ValidateProject("app2"))

	// Invalid names.
	assert.Error(t, ValidateProject(""))
	assert.Error(t, ValidateProject("-leading"))
	assert.Error(t, ValidateProject("trailing-"))
	assert.Error(t, ValidateProject("has spaces"))
	assert.Error(t, ValidateProject("has/slash"))
}

// TestInstance_Validate exercises instance record validation, which guards
// the state package against writing unusable records.
func TestInstance_Validate(t *testing.T) {
	valid := Instance{
		ID:        "9f6b2d1c-0000-4000-8000-000000000000",
		Project:   "backend",
		PID:       4242,
		Port:      8000,
		Command:   "uvicorn app:app --reload --port 8000",
		StartedAt: time.Now(),
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Instance)
	}{
		{"empty id", func(i *Instance) { i.ID = "" }},
		{"bad project", func(i *Instance) { i.Project = "no good" }},
		{"zero pid", func(i *Instance) { i.PID = 0 }},
		{"negative pid", func(i *Instance) { i.PID = -1 }},
		{"port too low", func(i *Instance) { i.Port = 0 }},
		{"port too high", func(i *Instance) { i.Port = 70000 }},
		{"blank command", func(i *Instance) { i.Command = "   " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := valid
			tt.mutate(&inst)
			assert.Error(t, inst.Validate())
		})
	}
}

// TestCLIError_ErrorAndUnwrap verifies error formatting and that
// errors.Is can see through the CLIError wrapper.
func TestCLIError_ErrorAndUnwrap(t *testing.T) {
	underlying := errors.New("connection refused")

	wrapped := WrapCLIError(ExitPortBusy, "port 8000 still in use", underlying)
	assert.Equal(t, "port 8000 still in use: connection refused", wrapped.Error())
	assert.True(t, errors.Is(wrapped, underlying))
	assert.Equal(t, ExitPortBusy, wrapped.Code)

	plain := NewCLIError(ExitInstanceNotFound, "no instance for project \"backend\"")
	assert.Equal(t, "no instance for project \"backend\"", plain.Error())
	assert.Nil(t, plain.Unwrap())
}
