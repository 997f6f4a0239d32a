//go:build windows

package server

import (
	"os/exec"
	"syscall"
)

// hideWindow keeps the subprocess from opening a console window.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
