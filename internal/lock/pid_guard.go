// Package lock keeps two orch servers from sharing one data directory.
//
// The guard is a PID file next to the task store. It protects against the
// same user starting serve twice; it is not a cross-host lock.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/randalmurphal/orch/internal/util"
)

// PIDFileName is the name of the PID file in the data directory.
const PIDFileName = "orch.pid"

// PIDGuard records the PID of the server owning a data directory.
type PIDGuard struct {
	dir string
	pid int
}

// NewPIDGuard creates a guard for the given data directory.
func NewPIDGuard(dir string) *PIDGuard {
	return &PIDGuard{dir: dir, pid: os.Getpid()}
}

// Path returns the PID file path.
func (g *PIDGuard) Path() string {
	return filepath.Join(g.dir, PIDFileName)
}

// Check reports an AlreadyRunningError if a live process other than this
// one owns the directory. Stale or unreadable PID files are removed.
func (g *PIDGuard) Check() error {
	pid, err := g.owner()
	if err != nil || pid == 0 {
		return err
	}
	if pid != g.pid && processExists(pid) {
		return &AlreadyRunningError{PID: pid, Path: g.Path()}
	}
	_ = os.Remove(g.Path())
	return nil
}

// Acquire checks the guard and writes this process's PID.
func (g *PIDGuard) Acquire() error {
	if err := g.Check(); err != nil {
		return err
	}
	if err := util.WriteFileAtomicString(g.Path(), strconv.Itoa(g.pid), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release removes the PID file if this process still owns it.
func (g *PIDGuard) Release() {
	if pid, err := g.owner(); err == nil && pid == g.pid {
		_ = os.Remove(g.Path())
	}
}

// owner returns the PID in the file, or 0 when there is no valid file.
func (g *PIDGuard) owner() (int, error) {
	data, err := os.ReadFile(g.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(g.Path())
		return 0, nil
	}
	return pid, nil
}

// AlreadyRunningError means another server owns the data directory.
type AlreadyRunningError struct {
	PID  int
	Path string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("orch server already running (pid %d, %s)", e.PID, e.Path)
}

// processExists sends signal 0 to pid. FindProcess always succeeds on Unix.
func processExists(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
