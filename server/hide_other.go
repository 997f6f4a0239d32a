//go:build !windows

package server

import "os/exec"

// hideWindow is a no-op where processes have no window to hide.
func hideWindow(_ *exec.Cmd) {}
