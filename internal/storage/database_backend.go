package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/orch/internal/db"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/stream"
	"github.com/randalmurphal/orch/internal/task"
)

// DatabaseBackend is the Backend backed by internal/db.
type DatabaseBackend struct {
	db        *db.DB
	outputs   *stream.Buffer
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Config configures a DatabaseBackend.
type Config struct {
	DB        *db.DB
	Outputs   *stream.Buffer   // Default: new buffer with the standard cap
	Publisher events.Publisher // Default: NopPublisher
	Logger    *slog.Logger
}

// NewDatabaseBackend creates a store over an open database.
func NewDatabaseBackend(cfg Config) *DatabaseBackend {
	if cfg.Outputs == nil {
		cfg.Outputs = stream.NewBuffer(0)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NewNopPublisher()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DatabaseBackend{
		db:        cfg.DB,
		outputs:   cfg.Outputs,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// NewInMemoryBackend creates a backend over a private in-memory SQLite database.
func NewInMemoryBackend() (*DatabaseBackend, error) {
	d, err := db.OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("open in-memory db: %w", err)
	}
	return NewDatabaseBackend(Config{DB: d}), nil
}

// Outputs returns the live output buffer shared with the store.
func (b *DatabaseBackend) Outputs() *stream.Buffer {
	return b.outputs
}

// CreateTask allocates the next ID and stores a pending task.
func (b *DatabaseBackend) CreateTask(ctx context.Context, typ task.Type, repo, repoPath string, tctx task.Context) (*task.Task, error) {
	if errs := task.ValidateNew(typ, repo, repoPath, tctx); len(errs) > 0 {
		return nil, orcherrors.ErrInvalidRequest(errs.Error())
	}

	t := &task.Task{
		Type:      typ,
		Status:    task.StatusPending,
		Repo:      repo,
		RepoPath:  repoPath,
		Context:   tctx,
		CreatedAt: b.now(),
	}
	if err := b.db.InsertTask(ctx, t); err != nil {
		return nil, err
	}

	b.logger.Info("task created", "task_id", t.ID, "type", t.Type, "repo", t.Repo)
	b.publisher.Publish(events.NewEvent(events.EventTaskCreated, t.ID, events.TaskUpdate{Status: string(t.Status)}))
	return t, nil
}

// GetTask loads a task. Running tasks carry their live output.
func (b *DatabaseBackend) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	t, err := b.db.GetTask(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, orcherrors.ErrTaskNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	b.attachOutput(t)
	return t, nil
}

// ListTasks returns tasks newest first.
func (b *DatabaseBackend) ListTasks(ctx context.Context, opts ListOptions) ([]*task.Task, error) {
	tasks, err := b.db.ListTasks(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		b.attachOutput(t)
	}
	return tasks, nil
}

func (b *DatabaseBackend) attachOutput(t *task.Task) {
	if t.Status == task.StatusRunning {
		t.StreamingOutput = b.outputs.Get(t.ID)
	}
}

// GetPendingTasks returns up to limit pending tasks, oldest first.
func (b *DatabaseBackend) GetPendingTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	return b.db.ListPendingTasks(ctx, limit)
}

// GetRunningCount counts running tasks in the database.
func (b *DatabaseBackend) GetRunningCount(ctx context.Context) (int, error) {
	return b.db.CountTasksByStatus(ctx, task.StatusRunning)
}

// GetTasksWithPIDs returns running tasks that have an attached process.
func (b *DatabaseBackend) GetTasksWithPIDs(ctx context.Context) ([]*task.Task, error) {
	return b.db.ListTasksWithPID(ctx)
}

// StartTask moves a pending task to running and clears any stale output.
func (b *DatabaseBackend) StartTask(ctx context.Context, id int64) (bool, error) {
	b.outputs.Clear(id)

	ok, err := b.db.MarkRunning(ctx, id, b.now())
	if err != nil {
		return false, err
	}
	if !ok {
		if _, err := b.GetTask(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	b.publisher.Publish(events.NewEvent(events.EventTaskUpdated, id, events.TaskUpdate{Status: string(task.StatusRunning)}))
	return true, nil
}

// SetPID records the OS process attached to a running task.
func (b *DatabaseBackend) SetPID(ctx context.Context, id int64, pid int) error {
	ok, err := b.db.SetTaskPID(ctx, id, pid)
	if err != nil {
		return err
	}
	if !ok {
		return b.notRunning(ctx, id)
	}
	return nil
}

// CompleteTask marks a running task completed.
func (b *DatabaseBackend) CompleteTask(ctx context.Context, id int64, result string) error {
	return b.finish(ctx, id, task.StatusCompleted, result, "")
}

// FailTask marks a running task failed.
func (b *DatabaseBackend) FailTask(ctx context.Context, id int64, errText string) error {
	return b.finish(ctx, id, task.StatusFailed, "", errText)
}

// finish folds the buffered output into the record and clears the buffer.
// A task that is already terminal is left untouched and ErrTaskTerminal is
// returned so late process exits after a stop cannot overwrite the record.
func (b *DatabaseBackend) finish(ctx context.Context, id int64, status task.Status, result, errText string) error {
	output := b.outputs.Get(id)

	ok, err := b.db.MarkTerminal(ctx, id, status, result, errText, output, b.now())
	if err != nil {
		return err
	}
	if !ok {
		err := b.notRunning(ctx, id)
		if oe := orcherrors.AsOrchError(err); oe != nil && oe.Code == orcherrors.CodeTaskTerminal {
			b.outputs.Clear(id)
		}
		return err
	}
	b.outputs.Clear(id)

	b.logger.Info("task finished", "task_id", id, "status", status)
	b.publisher.Publish(events.NewEvent(events.EventTaskUpdated, id, events.TaskUpdate{Status: string(status), Error: errText}))
	return nil
}

// notRunning explains why a running-only update matched no row.
func (b *DatabaseBackend) notRunning(ctx context.Context, id int64) error {
	t, err := b.db.GetTask(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return orcherrors.ErrTaskNotFound(id)
	}
	if err != nil {
		return err
	}
	if t.IsTerminal() {
		return orcherrors.ErrTaskTerminal(id, string(t.Status))
	}
	return orcherrors.ErrTaskNotRunning(id, string(t.Status))
}

// DeleteTask removes a task that is not running.
func (b *DatabaseBackend) DeleteTask(ctx context.Context, id int64) error {
	ok, err := b.db.DeleteTask(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := b.db.GetTask(ctx, id); errors.Is(err, db.ErrNotFound) {
			return orcherrors.ErrTaskNotFound(id)
		}
		return orcherrors.ErrTaskRunning(id)
	}

	b.outputs.Clear(id)
	b.publisher.Publish(events.NewEvent(events.EventTaskDeleted, id, nil))
	return nil
}

// RetryTask creates a new pending task from a failed one. The failed task is
// kept as the record of the attempt.
func (b *DatabaseBackend) RetryTask(ctx context.Context, failedID int64) (*task.Task, error) {
	src, err := b.GetTask(ctx, failedID)
	if err != nil {
		return nil, err
	}
	if src.Status != task.StatusFailed {
		return nil, orcherrors.ErrTaskNotFailed(failedID, string(src.Status))
	}

	tctx := src.Context
	tctx.ReviewComments = append([]task.ReviewComment(nil), src.Context.ReviewComments...)
	tctx.RetryOfTaskID = src.ID
	tctx.RetryError = src.Error
	if tctx.RetryError == "" {
		tctx.RetryError = "Unknown error"
	}
	tctx.RetryCount = src.Context.RetryCount + 1

	t, err := b.CreateTask(ctx, src.Type, src.Repo, src.RepoPath, tctx)
	if err != nil {
		return nil, fmt.Errorf("retry task %d: %w", failedID, err)
	}
	return t, nil
}

// Close closes the database.
func (b *DatabaseBackend) Close() error {
	return b.db.Close()
}
