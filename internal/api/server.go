// Package api provides the REST, webhook and WebSocket server for orch.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/randalmurphal/orch/internal/assistant"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/process"
	"github.com/randalmurphal/orch/internal/project"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"
)

// Terminals opens and detects terminal windows. *assistant.Launcher
// satisfies it.
type Terminals interface {
	Open(req assistant.LaunchRequest) (assistant.LaunchResult, error)
	Detect() []assistant.TerminalInfo
}

// Config holds server configuration.
type Config struct {
	Addr      string
	Store     storage.Backend
	Processes *process.Registry
	Publisher events.Publisher
	Providers *hosting.Set
	Registry  *project.Registry
	Terminals Terminals

	// WebhookSecret enables GitHub signature checks when set.
	WebhookSecret string
	// ADOOrg is the Azure DevOps organization used in repository names.
	ADOOrg string

	// OnTaskCreated runs after every task the API creates. serve uses it to
	// nudge the dispatcher.
	OnTaskCreated func(*task.Task)
	Logger        *slog.Logger
}

// Server is the orch API server.
type Server struct {
	addr          string
	store         storage.Backend
	processes     *process.Registry
	publisher     events.Publisher
	providers     *hosting.Set
	registry      *project.Registry
	terminals     Terminals
	webhookSecret string
	adoOrg        string
	onCreated     func(*task.Task)
	logger        *slog.Logger

	mux       *http.ServeMux
	validator *requestValidator
	wsHandler *WSHandler
}

// New creates a new API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3003"
	}
	if cfg.Processes == nil {
		cfg.Processes = process.NewRegistry(logger)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NewNopPublisher()
	}
	if cfg.Providers == nil {
		cfg.Providers = hosting.NewSetOf()
	}

	s := &Server{
		addr:          cfg.Addr,
		store:         cfg.Store,
		processes:     cfg.Processes,
		publisher:     cfg.Publisher,
		providers:     cfg.Providers,
		registry:      cfg.Registry,
		terminals:     cfg.Terminals,
		webhookSecret: cfg.WebhookSecret,
		adoOrg:        cfg.ADOOrg,
		onCreated:     cfg.OnTaskCreated,
		logger:        logger,
		mux:           http.NewServeMux(),
		validator:     newRequestValidator(),
	}
	s.wsHandler = NewWSHandler(cfg.Publisher, s, logger)
	s.registerRoutes()
	return s
}

// registerRoutes sets up all routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Tasks
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/stop", s.handleStopTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/retry", s.handleRetryTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/complete", s.handleCompleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/steer", s.handleSteerTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/terminal", s.handleOpenTerminal)

	// Processes
	s.mux.HandleFunc("GET /api/processes", s.handleListProcesses)
	s.mux.HandleFunc("POST /api/processes/kill-old", s.handleKillOldProcesses)
	s.mux.HandleFunc("POST /api/processes/kill-all", s.handleKillAllProcesses)
	s.mux.HandleFunc("POST /api/processes/{taskId}/kill", s.handleKillProcess)

	// Repositories and system
	s.mux.HandleFunc("GET /api/repos", s.handleListRepos)
	s.mux.HandleFunc("POST /api/repos/clone", s.handleCloneRepo)
	s.mux.HandleFunc("GET /api/system/terminals", s.handleListTerminals)

	// Manual actions
	s.mux.HandleFunc("POST /api/actions/review-pr", s.handleReviewPR)
	s.mux.HandleFunc("POST /api/actions/analyze-workitem", s.handleAnalyzeWorkItem)
	s.mux.HandleFunc("POST /api/actions/fix-pr-comments", s.handleFixPRComments)
	s.mux.HandleFunc("POST /api/actions/test-workitem", s.handleTestWorkItem)
	s.mux.HandleFunc("POST /api/actions/review-resolution", s.handleReviewResolution)

	// Webhooks
	s.mux.HandleFunc("POST /webhooks/github", s.handleGitHubWebhook)
	s.mux.HandleFunc("POST /webhooks/ado", s.handleADOWebhook)

	// WebSocket
	s.mux.Handle("GET /ws", s.wsHandler)
}

// Handler returns the routes wrapped in CORS, request ID and access log
// middleware.
func (s *Server) Handler() http.Handler {
	return RequestID(AccessLog(s.logger, CORS(s.mux.ServeHTTP)))
}

// StartContext serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) StartContext(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.wsHandler.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", s.addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// created runs the creation hook for a task the API just stored.
func (s *Server) created(t *task.Task) {
	if s.onCreated != nil {
		s.onCreated(t)
	}
}

// taskID parses the {id} path value.
func taskID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, orcherrors.ErrInvalidRequest("invalid task id " + strconv.Quote(raw))
	}
	return id, nil
}

// recentTasks is the snapshot sent to WebSocket clients.
func (s *Server) recentTasks(ctx context.Context) ([]*task.Task, error) {
	return s.store.ListTasks(ctx, storage.ListOptions{Limit: defaultListLimit})
}

func (s *Server) steer(taskID int64, input string) bool {
	return s.processes.Steer(taskID, input)
}
