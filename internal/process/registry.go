// Package process tracks the live assistant processes attached to running
// tasks and lets callers steer or kill them.
package process

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry describes a registered process.
type Entry struct {
	TaskID    int64     `json:"taskId"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Age returns how long the process has been registered.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StartedAt)
}

type registered struct {
	handle    Handle
	startedAt time.Time
}

// Registry maps task IDs to live process handles. It is the authority on
// whether a task's process is alive.
//
// Thread-safe: All methods can be called concurrently.
type Registry struct {
	mu     sync.Mutex
	procs  map[int64]*registered
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		procs:  make(map[int64]*registered),
		logger: logger,
		now:    time.Now,
	}
}

// Register attaches h to the task, replacing any previous handle.
func (r *Registry) Register(taskID int64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.procs[taskID]; ok && prev.handle != h {
		r.logger.Warn("replacing registered process", "task_id", taskID, "old_pid", prev.handle.PID(), "pid", h.PID())
	}
	r.procs[taskID] = &registered{handle: h, startedAt: r.now()}
}

// Deregister removes h from the task. It only removes the entry if h is the
// handle currently registered, so a late exit of a replaced process cannot
// drop its successor. Reports whether an entry was removed.
func (r *Registry) Deregister(taskID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.procs[taskID]
	if !ok || cur.handle != h {
		return false
	}
	delete(r.procs, taskID)
	return true
}

// Steer writes input followed by a newline to the task's process.
// It returns false if no process is registered or the write fails.
func (r *Registry) Steer(taskID int64, input string) bool {
	h := r.lookup(taskID)
	if h == nil {
		return false
	}
	if err := h.WriteInput(input + "\n"); err != nil {
		r.logger.Warn("steer failed", "task_id", taskID, "error", err)
		return false
	}
	r.logger.Info("steered task", "task_id", taskID, "bytes", len(input))
	return true
}

// Kill terminates the task's process and deregisters it.
// It returns false if no process was registered.
func (r *Registry) Kill(taskID int64) bool {
	r.mu.Lock()
	cur, ok := r.procs[taskID]
	if ok {
		delete(r.procs, taskID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := cur.handle.Kill(); err != nil {
		r.logger.Warn("kill failed", "task_id", taskID, "pid", cur.handle.PID(), "error", err)
	}
	r.logger.Info("killed task process", "task_id", taskID, "pid", cur.handle.PID())
	return true
}

// IsActive reports whether a process is registered for the task.
func (r *Registry) IsActive(taskID int64) bool {
	return r.lookup(taskID) != nil
}

// ListActive returns the registered processes ordered by task ID.
func (r *Registry) ListActive() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.procs))
	for id, p := range r.procs {
		out = append(out, Entry{TaskID: id, PID: p.handle.PID(), StartedAt: p.startedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// KillOlderThan kills every process registered longer than maxAge and
// returns the affected task IDs.
func (r *Registry) KillOlderThan(maxAge time.Duration) []int64 {
	now := r.now()
	var killed []int64
	for _, e := range r.ListActive() {
		if e.Age(now) > maxAge && r.Kill(e.TaskID) {
			killed = append(killed, e.TaskID)
		}
	}
	return killed
}

// KillAll kills every registered process and returns the affected task IDs.
func (r *Registry) KillAll() []int64 {
	var killed []int64
	for _, e := range r.ListActive() {
		if r.Kill(e.TaskID) {
			killed = append(killed, e.TaskID)
		}
	}
	return killed
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

func (r *Registry) lookup(taskID int64) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.procs[taskID]; ok {
		return p.handle
	}
	return nil
}
