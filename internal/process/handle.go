package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// ErrInputClosed is returned when writing to a process whose stdin is closed.
var ErrInputClosed = errors.New("process input closed")

// Handle is a live external process attached to a task.
type Handle interface {
	PID() int
	// WriteInput writes text to the process's standard input.
	WriteInput(text string) error
	// Kill terminates the process and its children.
	Kill() error
}

// CmdHandle is a Handle over a started *exec.Cmd.
//
// Thread-safe: writes to stdin are serialized.
type CmdHandle struct {
	cmd *exec.Cmd

	mu    sync.Mutex
	stdin io.WriteCloser
}

// NewCmdHandle wraps a started command. stdin may be nil when the caller
// does not keep the pipe open.
func NewCmdHandle(cmd *exec.Cmd, stdin io.WriteCloser) *CmdHandle {
	return &CmdHandle{cmd: cmd, stdin: stdin}
}

// PID returns the OS process ID, or 0 if the command never started.
func (h *CmdHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// WriteInput writes text to stdin.
func (h *CmdHandle) WriteInput(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdin == nil {
		return ErrInputClosed
	}
	if _, err := io.WriteString(h.stdin, text); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// CloseInput closes stdin. Further writes return ErrInputClosed.
func (h *CmdHandle) CloseInput() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdin == nil {
		return nil
	}
	err := h.stdin.Close()
	h.stdin = nil
	return err
}

// Kill kills the process group, then the process itself.
func (h *CmdHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	_ = killProcessGroup(h.cmd.Process.Pid)
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}

// KillPID kills a process by ID. It is used for processes recorded in the
// task store that this server no longer holds a handle for.
func KillPID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	_ = killProcessGroup(pid)
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}
