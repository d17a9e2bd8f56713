package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/randalmurphal/orch/internal/assistant"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"
)

const defaultListLimit = 100

// stoppedByUser is the failure recorded when a running task is stopped.
const stoppedByUser = "Stopped by user"

// handleListTasks returns tasks newest first, optionally filtered by status.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{Limit: defaultListLimit}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := task.Status(raw)
		if !task.IsValidStatus(status) {
			HandleError(w, orcherrors.ErrInvalidRequest(fmt.Sprintf("unknown status %q", raw)))
			return
		}
		opts.Status = status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			HandleError(w, orcherrors.ErrInvalidRequest(fmt.Sprintf("invalid limit %q", raw)))
			return
		}
		opts.Limit = limit
	}

	tasks, err := s.store.ListTasks(r.Context(), opts)
	if err != nil {
		HandleError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	JSONResponse(w, tasks)
}

type createTaskRequest struct {
	Type     string       `json:"type" validate:"required,tasktype"`
	Repo     string       `json:"repo" validate:"required"`
	RepoPath string       `json:"repoPath"`
	Context  task.Context `json:"context"`
}

// handleCreateTask stores a pending task. Without an explicit repoPath the
// repository is resolved through the mapping.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	repoPath := req.RepoPath
	if repoPath == "" && s.registry != nil {
		repoPath = s.registry.Resolve(req.Repo)
	}
	tctx := req.Context
	if tctx.Source == "" {
		tctx.Source = task.SourceManual
	}
	if tctx.Event == "" {
		tctx.Event = "manual.create"
	}

	t, err := s.store.CreateTask(r.Context(), task.Type(req.Type), req.Repo, repoPath, tctx)
	if err != nil {
		HandleError(w, err)
		return
	}
	s.created(t)
	JSONResponseStatus(w, t, http.StatusCreated)
}

// handleGetTask returns a task. Running tasks include their live output.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, t)
}

// handleStopTask kills a running task's process and fails the task.
func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.runningTask(w, r)
	if !ok {
		return
	}

	if !s.processes.Kill(t.ID) {
		s.logger.Warn("stop requested but no live process", "task_id", t.ID)
	}
	if err := s.store.FailTask(r.Context(), t.ID, stoppedByUser); err != nil {
		HandleError(w, err)
		return
	}
	s.logger.Info("task stopped by user", "task_id", t.ID)
	JSONResponse(w, Message{Success: true})
}

// handleDeleteTask removes a task that is not running.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, Message{Success: true})
}

// handleRetryTask creates a new pending task from a failed one.
func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	t, err := s.store.RetryTask(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	s.created(t)
	JSONResponse(w, Message{
		TaskID:  t.ID,
		Message: fmt.Sprintf("Retry task #%d created (attempt %d)", t.ID, t.Context.RetryCount),
	})
}

type completeTaskRequest struct {
	Result string `json:"result"`
}

// handleCompleteTask finishes a running task by hand. Terminal-mode tasks
// only complete this way.
func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req completeTaskRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	t, ok := s.runningTask(w, r)
	if !ok {
		return
	}

	result := req.Result
	if result == "" {
		result = "Completed manually"
	}
	if err := s.store.CompleteTask(r.Context(), t.ID, result); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, Message{Success: true})
}

type steerRequest struct {
	Input string `json:"input" validate:"required"`
}

// handleSteerTask writes a line to a running task's assistant process.
func (s *Server) handleSteerTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	var req steerRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if !s.processes.Steer(id, req.Input) {
		HandleError(w, orcherrors.ErrProcessNotFound(id))
		return
	}
	JSONResponse(w, Message{Success: true, TaskID: id})
}

type terminalResponse struct {
	Success  bool                 `json:"success"`
	Terminal assistant.TerminalID `json:"terminal,omitempty"`
	Hint     string               `json:"hint,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// handleOpenTerminal opens a shell in the task's repository.
func (s *Server) handleOpenTerminal(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	if s.terminals == nil {
		JSONResponseStatus(w, terminalResponse{Error: "terminal launching is not configured"}, http.StatusServiceUnavailable)
		return
	}

	res, err := s.terminals.Open(assistant.LaunchRequest{
		TaskID: t.ID,
		Title:  fmt.Sprintf("Task #%d: %s", t.ID, t.Repo),
		Dir:    t.RepoPath,
	})
	if err != nil {
		s.logger.Warn("open terminal failed", "task_id", t.ID, "error", err)
		JSONResponseStatus(w, terminalResponse{Error: err.Error()}, http.StatusInternalServerError)
		return
	}
	JSONResponse(w, terminalResponse{Success: true, Terminal: res.Terminal, Hint: res.Hint})
}

// runningTask loads the {id} task and writes an error unless it is running.
func (s *Server) runningTask(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	id, err := taskID(r, "id")
	if err != nil {
		HandleError(w, err)
		return nil, false
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return nil, false
	}
	if t.Status != task.StatusRunning {
		HandleError(w, orcherrors.ErrTaskNotRunning(id, string(t.Status)))
		return nil, false
	}
	return t, true
}
