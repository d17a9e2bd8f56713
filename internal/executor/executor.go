// Package executor runs one claimed task to a terminal state.
//
// A task is claimed (pending→running) synchronously by the caller, then Run
// builds the prompt, invokes the assistant, applies git side effects for edit
// tasks, writes the result back to the originating host, and records the
// terminal transition. Nothing that goes wrong inside Run escapes it: failures
// and panics become a failed task.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/orch/internal/assistant"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/learnings"
	"github.com/randalmurphal/orch/internal/prompt"
	"github.com/randalmurphal/orch/internal/stream"
	"github.com/randalmurphal/orch/internal/task"
)

// unknownError is recorded when a failure carries no message.
const unknownError = "Unknown error"

// Store is the subset of the task store the executor writes to.
type Store interface {
	GetTask(ctx context.Context, id int64) (*task.Task, error)
	StartTask(ctx context.Context, id int64) (bool, error)
	SetPID(ctx context.Context, id int64, pid int) error
	CompleteTask(ctx context.Context, id int64, result string) error
	FailTask(ctx context.Context, id int64, errText string) error
}

// Invoker runs the assistant. *assistant.Runner satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, t *task.Task, prompt string, opts assistant.Options) assistant.Result
	InvokeStreaming(ctx context.Context, t *task.Task, prompt string, opts assistant.Options, onChunk func(assistant.Chunk)) assistant.Result
	OpenTerminal(t *task.Task, prompt string, opts assistant.Options, launcher *assistant.Launcher) assistant.Result
}

// LearningExtractor records a lesson after a retry succeeds.
type LearningExtractor interface {
	OnRetrySuccess(ctx context.Context, retry *task.Task) (*learnings.Learning, error)
}

// Config configures an Executor.
type Config struct {
	Store   Store
	Invoker Invoker
	Outputs *stream.Buffer // Live output; default: new buffer

	Providers *hosting.Set     // Result comments and PRs; nil disables write-back
	Publisher events.Publisher // Default: NopPublisher
	Locks     *git.RepoLocks   // Default: new lock set

	Learnings learnings.Store   // Optional
	Extractor LearningExtractor // Optional

	// TerminalMode opens every task in a visible terminal. Tasks with
	// Context.TerminalMode open there regardless.
	TerminalMode bool
	Launcher     *assistant.Launcher

	// NewGit builds the git client for a repository. Default: git.New.
	NewGit func(repoPath string) *git.Git

	Logger *slog.Logger
}

// Executor drives tasks through their flow.
type Executor struct {
	store     Store
	invoker   Invoker
	outputs   *stream.Buffer
	providers *hosting.Set
	publisher events.Publisher
	locks     *git.RepoLocks
	learnings learnings.Store
	extractor LearningExtractor

	terminalMode bool
	launcher     *assistant.Launcher

	newGit func(repoPath string) *git.Git
	logger *slog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.Outputs == nil {
		cfg.Outputs = stream.NewBuffer(0)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NewNopPublisher()
	}
	if cfg.Locks == nil {
		cfg.Locks = git.NewRepoLocks()
	}
	if cfg.NewGit == nil {
		cfg.NewGit = func(repoPath string) *git.Git { return git.New(repoPath) }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		store:        cfg.Store,
		invoker:      cfg.Invoker,
		outputs:      cfg.Outputs,
		providers:    cfg.Providers,
		publisher:    cfg.Publisher,
		locks:        cfg.Locks,
		learnings:    cfg.Learnings,
		extractor:    cfg.Extractor,
		terminalMode: cfg.TerminalMode,
		launcher:     cfg.Launcher,
		newGit:       cfg.NewGit,
		logger:       cfg.Logger,
	}
}

// Claim moves a pending task to running. It reports false when another
// caller claimed the task first.
func (e *Executor) Claim(ctx context.Context, t *task.Task) (bool, error) {
	ok, err := e.store.StartTask(ctx, t.ID)
	if err != nil || !ok {
		return false, err
	}
	t.Status = task.StatusRunning
	return true, nil
}

// Execute claims the task and runs it. It is a no-op if the task was
// already claimed.
func (e *Executor) Execute(ctx context.Context, t *task.Task) {
	ok, err := e.Claim(ctx, t)
	if err != nil {
		e.logger.Error("claim task failed", "task_id", t.ID, "error", err)
		return
	}
	if !ok {
		e.logger.Debug("task already claimed", "task_id", t.ID)
		return
	}
	e.Run(ctx, t)
}

// Run executes a claimed task. It always leaves the task terminal, except
// in terminal mode where completion is signaled externally.
func (e *Executor) Run(ctx context.Context, t *task.Task) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked", "task_id", t.ID, "panic", r)
			e.fail(context.WithoutCancel(ctx), t, fmt.Sprintf("internal error: %v", r))
		}
	}()

	e.logger.Info("processing task", "task_id", t.ID, "type", t.Type, "repo", t.Repo)

	var err error
	if t.Type == task.TypePRCommentFix {
		err = e.ProcessPRCommentFix(ctx, t)
	} else {
		err = e.runStandard(ctx, t)
	}
	if err != nil {
		e.logger.Error("task error", "task_id", t.ID, "error", err)
		e.fail(context.WithoutCancel(ctx), t, err.Error())
	}
}

// runStandard is the flow shared by every type except pr-comment-fix.
func (e *Executor) runStandard(ctx context.Context, t *task.Task) error {
	p, err := prompt.Build(t, e.loadLearnings(t))
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}

	opts := e.options(ctx, t, t.Type.AllowsEdits())

	if e.terminalMode || t.Context.TerminalMode {
		return e.openTerminal(ctx, t, p, opts)
	}

	res := e.invoker.InvokeStreaming(ctx, t, p, opts, e.onChunk(t.ID))
	if !res.Success {
		e.fail(ctx, t, res.Error)
		return nil
	}

	var prURL string
	if opts.AllowEdits {
		prURL = e.HandleCodeChanges(ctx, t, res.Output)
	}

	e.postResult(ctx, t, ResultComment(t.Type, res.Output, prURL))

	result := res.Output
	if prURL != "" {
		result += "\n\nPR: " + prURL
	}
	if !e.complete(ctx, t, result) {
		return nil
	}

	e.logger.Info("task completed", "task_id", t.ID, "pr_url", prURL)
	e.extractLearning(ctx, t)
	return nil
}

// openTerminal hands the task to an interactive session. The task stays
// running until it is completed through the store.
func (e *Executor) openTerminal(ctx context.Context, t *task.Task, p string, opts assistant.Options) error {
	res := e.invoker.OpenTerminal(t, p, opts, e.launcher)
	if !res.Success {
		e.fail(ctx, t, res.Error)
		return nil
	}
	e.appendOutput(t.ID, assistant.Chunk{Stream: events.StreamStdout, Text: res.Output + "\n"})
	e.logger.Info("task opened in terminal; awaiting manual completion", "task_id", t.ID)
	return nil
}

// options builds invocation options that record the process PID on start.
func (e *Executor) options(ctx context.Context, t *task.Task, allowEdits bool) assistant.Options {
	return assistant.Options{
		AllowEdits: allowEdits,
		OnStart: func(pid int) {
			if err := e.store.SetPID(ctx, t.ID, pid); err != nil {
				e.logger.Warn("record pid failed", "task_id", t.ID, "pid", pid, "error", err)
			}
		},
	}
}

func (e *Executor) onChunk(taskID int64) func(assistant.Chunk) {
	return func(c assistant.Chunk) {
		e.appendOutput(taskID, c)
	}
}

func (e *Executor) appendOutput(taskID int64, c assistant.Chunk) {
	e.outputs.Append(taskID, c.Tagged())
	e.publisher.Publish(events.NewEvent(events.EventOutput, taskID, events.OutputChunk{
		Stream: c.Stream,
		Chunk:  c.Text,
	}))
}

func (e *Executor) loadLearnings(t *task.Task) string {
	if e.learnings == nil || t.RepoPath == "" {
		return ""
	}
	text, err := e.learnings.Load(t.RepoPath)
	if err != nil {
		e.logger.Warn("load learnings failed", "task_id", t.ID, "repo_path", t.RepoPath, "error", err)
		return ""
	}
	return text
}

func (e *Executor) extractLearning(ctx context.Context, t *task.Task) {
	if e.extractor == nil || !t.IsRetry() {
		return
	}
	l, err := e.extractor.OnRetrySuccess(ctx, t)
	if err != nil {
		e.logger.Warn("learning extraction failed", "task_id", t.ID, "error", err)
		return
	}
	if l != nil {
		e.logger.Info("learning recorded", "task_id", t.ID, "error_pattern", l.ErrorPattern)
	}
}

// complete records success. It reports false when the task was already
// terminal, which happens when a stop request won the race.
func (e *Executor) complete(ctx context.Context, t *task.Task, result string) bool {
	err := e.store.CompleteTask(context.WithoutCancel(ctx), t.ID, result)
	if err == nil {
		t.Status = task.StatusCompleted
		t.Result = result
		return true
	}
	e.logTransitionError(t, err)
	return false
}

// fail records failure. An already-terminal task is left alone.
func (e *Executor) fail(ctx context.Context, t *task.Task, errText string) {
	if errText == "" {
		errText = unknownError
	}
	err := e.store.FailTask(context.WithoutCancel(ctx), t.ID, errText)
	if err == nil {
		t.Status = task.StatusFailed
		t.Error = errText
		e.logger.Warn("task failed", "task_id", t.ID, "error", errText)
		return
	}
	e.logTransitionError(t, err)
}

func (e *Executor) logTransitionError(t *task.Task, err error) {
	if errors.Is(err, orcherrors.ErrTaskTerminal(t.ID, "")) {
		e.logger.Info("task already terminal; ignoring late result", "task_id", t.ID)
		return
	}
	e.logger.Error("record task result failed", "task_id", t.ID, "error", err)
}
