package api

import (
	"fmt"
	"net/http"
	"time"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/task"
)

// defaultMaxProcessAge is the kill-old cutoff when none is given.
const defaultMaxProcessAge = 2 * time.Hour

// ProcessInfo is a live assistant process joined with its task.
type ProcessInfo struct {
	PID       int       `json:"pid"`
	TaskID    int64     `json:"taskId"`
	TaskType  task.Type `json:"taskType,omitempty"`
	Repo      string    `json:"repo,omitempty"`
	StartTime time.Time `json:"startTime"`
}

// handleListProcesses lists the processes orch spawned, oldest first.
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	entries := s.processes.ListActive()
	out := make([]ProcessInfo, 0, len(entries))
	for _, e := range entries {
		info := ProcessInfo{PID: e.PID, TaskID: e.TaskID, StartTime: e.StartedAt}
		if t, err := s.store.GetTask(r.Context(), e.TaskID); err == nil {
			info.TaskType = t.Type
			info.Repo = t.Repo
		}
		out = append(out, info)
	}
	JSONResponse(w, out)
}

// handleKillProcess kills the process attached to one task.
func (s *Server) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r, "taskId")
	if err != nil {
		HandleError(w, err)
		return
	}
	if !s.processes.Kill(id) {
		HandleError(w, orcherrors.ErrProcessNotFound(id))
		return
	}
	JSONResponse(w, Message{Success: true, TaskID: id})
}

// handleKillOldProcesses kills processes older than ?maxAge= (default 2h).
func (s *Server) handleKillOldProcesses(w http.ResponseWriter, r *http.Request) {
	maxAge := defaultMaxProcessAge
	if raw := r.URL.Query().Get("maxAge"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			HandleError(w, orcherrors.ErrInvalidRequest(fmt.Sprintf("invalid maxAge %q", raw)))
			return
		}
		maxAge = d
	}

	killed := s.processes.KillOlderThan(maxAge)
	s.logger.Info("killed old processes", "count", len(killed), "max_age", maxAge)
	JSONResponse(w, Message{
		Success: true,
		Message: fmt.Sprintf("Killed %d Orch process(es) older than %s", len(killed), describeAge(maxAge)),
	})
}

// handleKillAllProcesses kills every registered process.
func (s *Server) handleKillAllProcesses(w http.ResponseWriter, r *http.Request) {
	killed := s.processes.KillAll()
	s.logger.Info("killed all processes", "count", len(killed))
	JSONResponse(w, Message{
		Success: true,
		Message: fmt.Sprintf("Killed %d Orch process(es)", len(killed)),
	})
}

func describeAge(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d == time.Minute:
		return "1 minute"
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
