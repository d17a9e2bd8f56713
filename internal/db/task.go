package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/orch/internal/task"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const taskColumns = `id, type, status, repo, repo_path, context, result, error, output, pid,
	created_at, started_at, completed_at`

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status task.Status
	Limit  int
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertTask persists a new task and assigns its ID.
func (d *DB) InsertTask(ctx context.Context, t *task.Task) error {
	ctxJSON, err := json.Marshal(t.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	row := d.queryRow(ctx, `
		INSERT INTO tasks (type, status, repo, repo_path, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		string(t.Type), string(t.Status), t.Repo, t.RepoPath, string(ctxJSON), formatTime(t.CreatedAt),
	)
	if err := row.Scan(&t.ID); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads a task by ID.
func (d *DB) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	row := d.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks newest first.
func (d *DB) ListTasks(ctx context.Context, f TaskFilter) ([]*task.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return d.queryTasks(ctx, q, args...)
}

// ListPendingTasks returns up to limit pending tasks, oldest first.
func (d *DB) ListPendingTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	return d.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		string(task.StatusPending), limit,
	)
}

// ListTasksWithPID returns running tasks that have an attached process.
func (d *DB) ListTasksWithPID(ctx context.Context) ([]*task.Task, error) {
	return d.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND pid IS NOT NULL
		ORDER BY id ASC`,
		string(task.StatusRunning),
	)
}

// CountTasksByStatus counts tasks in the given status straight from the table.
func (d *DB) CountTasksByStatus(ctx context.Context, status task.Status) (int, error) {
	var n int
	if err := d.queryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s tasks: %w", status, err)
	}
	return n, nil
}

// MarkRunning moves a pending task to running. It reports false when the
// task was not pending, which makes a second claim a no-op.
func (d *DB) MarkRunning(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := d.exec(ctx, `
		UPDATE tasks SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		string(task.StatusRunning), formatTime(at), id, string(task.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark task %d running: %w", id, err)
	}
	return affected(res)
}

// MarkTerminal moves a running task to completed or failed, storing exactly
// one of result or errText along with the captured output, and clears pid.
func (d *DB) MarkTerminal(ctx context.Context, id int64, status task.Status, result, errText, output string, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %s is not terminal", status)
	}
	if status == task.StatusCompleted {
		errText = ""
	} else {
		result = ""
	}

	res, err := d.exec(ctx, `
		UPDATE tasks SET status = ?, result = ?, error = ?, output = ?, pid = NULL, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(status), nullString(result), nullString(errText), nullString(output), formatTime(at),
		id, string(task.StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("mark task %d %s: %w", id, status, err)
	}
	return affected(res)
}

// SetTaskPID attaches (pid > 0) or clears (pid == 0) the process of a running task.
func (d *DB) SetTaskPID(ctx context.Context, id int64, pid int) (bool, error) {
	var v sql.NullInt64
	if pid > 0 {
		v = sql.NullInt64{Int64: int64(pid), Valid: true}
	}
	res, err := d.exec(ctx, `UPDATE tasks SET pid = ? WHERE id = ? AND status = ?`,
		v, id, string(task.StatusRunning))
	if err != nil {
		return false, fmt.Errorf("set pid for task %d: %w", id, err)
	}
	return affected(res)
}

// DeleteTask removes a task unless it is running.
func (d *DB) DeleteTask(ctx context.Context, id int64) (bool, error) {
	res, err := d.exec(ctx, `DELETE FROM tasks WHERE id = ? AND status <> ?`, id, string(task.StatusRunning))
	if err != nil {
		return false, fmt.Errorf("delete task %d: %w", id, err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (d *DB) queryTasks(ctx context.Context, q string, args ...any) ([]*task.Task, error) {
	rows, err := d.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*task.Task, error) {
	var (
		t                      task.Task
		typ, status, ctxJSON   string
		result, errText, out   sql.NullString
		pid                    sql.NullInt64
		createdAt              string
		startedAt, completedAt sql.NullString
	)
	if err := s.Scan(&t.ID, &typ, &status, &t.Repo, &t.RepoPath, &ctxJSON,
		&result, &errText, &out, &pid, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	t.Result = result.String
	t.Error = errText.String
	t.Output = out.String
	if pid.Valid {
		t.PID = int(pid.Int64)
	}
	if ctxJSON != "" {
		if err := json.Unmarshal([]byte(ctxJSON), &t.Context); err != nil {
			return nil, fmt.Errorf("decode context for task %d: %w", t.ID, err)
		}
	}

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for task %d: %w", t.ID, err)
	}
	if t.StartedAt, err = parseOptionalTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at for task %d: %w", t.ID, err)
	}
	if t.CompletedAt, err = parseOptionalTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at for task %d: %w", t.ID, err)
	}
	return &t, nil
}

func parseOptionalTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	ts, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
