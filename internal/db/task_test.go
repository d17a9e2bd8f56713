package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orch/internal/task"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func insert(t *testing.T, d *DB, typ task.Type, created time.Time) *task.Task {
	t.Helper()
	tk := &task.Task{
		Type:      typ,
		Status:    task.StatusPending,
		Repo:      "acme/widgets",
		RepoPath:  "/src/widgets",
		Context:   task.Context{Source: task.SourceGitHub, Title: "Fix null pointer", IssueNumber: 42},
		CreatedAt: created,
	}
	require.NoError(t, d.InsertTask(context.Background(), tk))
	return tk
}

func TestInsertAndGetTask(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 5, time.UTC)
	tk := insert(t, d, task.TypeIssueFix, created)
	assert.Equal(t, int64(1), tk.ID)

	got, err := d.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.TypeIssueFix, got.Type)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, "Fix null pointer", got.Context.Title)
	assert.Equal(t, 42, got.Context.IssueNumber)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Nil(t, got.StartedAt)

	_, err = d.GetTask(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIDsAreNotReused(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	first := insert(t, d, task.TypeDocs, time.Now())
	ok, err := d.DeleteTask(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)

	second := insert(t, d, task.TypeDocs, time.Now())
	assert.Greater(t, second.ID, first.ID)
}

func TestListPendingTasksOrdersByCreation(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	base := time.Now()
	t3 := insert(t, d, task.TypeDocs, base.Add(2*time.Second))
	t1 := insert(t, d, task.TypeDocs, base)
	t2 := insert(t, d, task.TypeDocs, base.Add(time.Second))

	got, err := d.ListPendingTasks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, t1.ID, got[0].ID)
	assert.Equal(t, t2.ID, got[1].ID)

	all, err := d.ListPendingTasks(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, t3.ID, all[2].ID)
}

func TestTransitions(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	tk := insert(t, d, task.TypePRReview, time.Now())

	// Terminal transition from pending is refused.
	ok, err := d.MarkTerminal(ctx, tk.ID, task.StatusCompleted, "done", "", "", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.MarkRunning(ctx, tk.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.MarkRunning(ctx, tk.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second claim must be a no-op")

	n, err := d.CountTasksByStatus(ctx, task.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err = d.SetTaskPID(ctx, tk.ID, 4242)
	require.NoError(t, err)
	assert.True(t, ok)

	withPID, err := d.ListTasksWithPID(ctx)
	require.NoError(t, err)
	require.Len(t, withPID, 1)
	assert.Equal(t, 4242, withPID[0].PID)

	ok, err = d.MarkTerminal(ctx, tk.ID, task.StatusFailed, "ignored", "exit 1", "partial", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := d.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "exit 1", got.Error)
	assert.Empty(t, got.Result)
	assert.Equal(t, "partial", got.Output)
	assert.Zero(t, got.PID)
	assert.NotNil(t, got.CompletedAt)

	ok, err = d.MarkTerminal(ctx, tk.ID, task.StatusCompleted, "late", "", "", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "terminal tasks cannot transition again")
}

func TestDeleteTaskRefusesRunning(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	tk := insert(t, d, task.TypeCodeGen, time.Now())

	_, err := d.MarkRunning(ctx, tk.ID, time.Now())
	require.NoError(t, err)

	ok, err := d.DeleteTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.GetTask(ctx, tk.ID)
	assert.NoError(t, err)
}

func TestListTasksFilter(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	a := insert(t, d, task.TypeDocs, time.Now())
	b := insert(t, d, task.TypeDocs, time.Now())
	_, err := d.MarkRunning(ctx, b.ID, time.Now())
	require.NoError(t, err)

	all, err := d.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "newest first")

	pending, err := d.ListTasks(ctx, TaskFilter{Status: task.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)

	limited, err := d.ListTasks(ctx, TaskFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
