// Package storage implements the durable task store for orch.
//
// Every mutation is committed to the database before the call returns. The
// live output of running tasks lives in a stream.Buffer next to the store and
// is folded into the persisted record when the task reaches a terminal state.
package storage

import (
	"context"

	"github.com/randalmurphal/orch/internal/db"
	"github.com/randalmurphal/orch/internal/task"
)

// ListOptions narrows ListTasks.
type ListOptions = db.TaskFilter

// Backend defines the task store operations.
// All implementations must be safe for concurrent access.
type Backend interface {
	CreateTask(ctx context.Context, typ task.Type, repo, repoPath string, tctx task.Context) (*task.Task, error)
	GetTask(ctx context.Context, id int64) (*task.Task, error)
	ListTasks(ctx context.Context, opts ListOptions) ([]*task.Task, error)

	// GetPendingTasks returns up to limit pending tasks, oldest first.
	GetPendingTasks(ctx context.Context, limit int) ([]*task.Task, error)
	// GetRunningCount is read from the store on every call.
	GetRunningCount(ctx context.Context) (int, error)
	GetTasksWithPIDs(ctx context.Context) ([]*task.Task, error)

	// StartTask claims a pending task. It reports false if the task was
	// already claimed.
	StartTask(ctx context.Context, id int64) (bool, error)
	SetPID(ctx context.Context, id int64, pid int) error
	CompleteTask(ctx context.Context, id int64, result string) error
	FailTask(ctx context.Context, id int64, errText string) error

	DeleteTask(ctx context.Context, id int64) error
	RetryTask(ctx context.Context, failedID int64) (*task.Task, error)

	Close() error
}
