//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr starts the server in its own session so it outlives the
// terminal that ran the CLI
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
