//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// SetProcAttr puts the child in its own process group so the assistant and
// anything it spawns can be killed together.
func SetProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the entire process group.
// The group ID equals the PID of the group leader.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}
