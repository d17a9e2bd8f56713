// Package task defines the task record that flows through orch.
package task

import (
	"time"
)

// Source identifies the system a task originated from.
type Source string

const (
	SourceGitHub Source = "github"
	SourceADO    Source = "ado"
	SourceGitLab Source = "gitlab"
	SourceManual Source = "manual"
)

// ReviewComment is a single reviewer comment attached to a pr-comment-fix task.
type ReviewComment struct {
	ID       int64  `json:"id"`
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Body     string `json:"body"`
	DiffHunk string `json:"diffHunk,omitempty"`
}

// Context carries the type-specific fields of a task. It is immutable after
// creation except for the retry fields stamped on derivative tasks.
type Context struct {
	Source      Source `json:"source,omitempty"`
	Event       string `json:"event,omitempty"`
	PRNumber    int    `json:"prNumber,omitempty"`
	IssueNumber int    `json:"issueNumber,omitempty"`
	WorkItemID  int    `json:"workItemId,omitempty"`
	Branch      string `json:"branch,omitempty"`
	BaseBranch  string `json:"baseBranch,omitempty"`
	Title       string `json:"title,omitempty"`
	Body        string `json:"body,omitempty"`
	URL         string `json:"url,omitempty"`
	PRURL       string `json:"prUrl,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	TestNotes   string `json:"testNotes,omitempty"`

	ReviewComments []ReviewComment `json:"reviewComments,omitempty"`

	// TerminalMode tasks run in a visible terminal window and only complete
	// through an explicit external completion call.
	TerminalMode bool `json:"terminalMode,omitempty"`

	RetryOfTaskID int64  `json:"retryOfTaskId,omitempty"`
	RetryError    string `json:"retryError,omitempty"`
	RetryCount    int    `json:"retryCount,omitempty"`
}

// Task is the unit of orchestrated work.
type Task struct {
	ID       int64   `json:"id"`
	Type     Type    `json:"type"`
	Status   Status  `json:"status"`
	Repo     string  `json:"repo"`
	RepoPath string  `json:"repoPath"`
	Context  Context `json:"context"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Output string `json:"output,omitempty"`
	PID    int    `json:"pid,omitempty"`

	// StreamingOutput is never persisted. The API fills it from the live
	// buffer while the task is running.
	StreamingOutput string `json:"streamingOutput,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// IsRetry reports whether the task was created by retrying a failed task.
func (t *Task) IsRetry() bool {
	return t.Context.RetryOfTaskID != 0
}

// IsTerminal reports whether the task has reached completed or failed.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// ExternalID returns the identifier used in branch names: the work item,
// then the issue number, then the task ID.
func (t *Task) ExternalID() int64 {
	switch {
	case t.Context.WorkItemID != 0:
		return int64(t.Context.WorkItemID)
	case t.Context.IssueNumber != 0:
		return int64(t.Context.IssueNumber)
	default:
		return t.ID
	}
}

// Age returns how long the task has been running, or zero if it never started.
func (t *Task) Age(now time.Time) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return now.Sub(*t.StartedAt)
}
