//go:build windows

package process

import "os/exec"

// SetProcAttr is a no-op on Windows.
// Windows uses job objects instead of POSIX process groups.
func SetProcAttr(cmd *exec.Cmd) {}

// killProcessGroup is a no-op on Windows. Kill falls back to killing the
// direct child.
func killProcessGroup(pid int) error {
	return nil
}
