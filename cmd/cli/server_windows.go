//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr starts the server in its own process group without a
// console window
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
}
