//go:build windows

package server

import "os/exec"

// Windows has no process groups in the POSIX sense; CREATE_NEW_PROCESS_GROUP
// via CreationFlags would detach console signals, but the default behavior
// is already sufficient for a short-lived launcher.
func detach(_ *exec.Cmd) {}
