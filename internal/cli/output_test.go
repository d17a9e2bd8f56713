package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/orch/internal/task"
)

func TestDescribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  task.Context
		want string
	}{
		{"title wins", task.Context{Title: "Fix login", PRNumber: 3}, "Fix login"},
		{"pr", task.Context{PRNumber: 3}, "PR #3"},
		{"issue", task.Context{IssueNumber: 8}, "Issue #8"},
		{"work item", task.Context{WorkItemID: 1234}, "Work item #1234"},
		{"nothing", task.Context{}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, describe(&task.Task{Context: tt.ctx}))
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n b\t\tc", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "abcdefghijklmnop", truncate("abcdefghijklmnop", 3))
}

func TestSince(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", since(now.Add(-30*time.Second), now))
	assert.Equal(t, "5m ago", since(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", since(now.Add(-3*time.Hour), now))
	assert.Equal(t, "47h ago", since(now.Add(-47*time.Hour), now))
	assert.Equal(t, "4d ago", since(now.Add(-4*24*time.Hour), now))
}

func TestTerminal_PlainWhenNotTTY(t *testing.T) {
	t.Parallel()

	term := detectTerminal(&bytes.Buffer{})
	assert.False(t, term.color)
	assert.Equal(t, defaultWidth, term.width)
	assert.Equal(t, "running", term.status(task.StatusRunning))
	assert.Equal(t, "Repo:", term.label("Repo:"))
}

func TestPrintTask_SkipsEmptyFields(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	done := started.Add(95 * time.Second)
	var buf bytes.Buffer
	printTask(&buf, &task.Task{
		ID:          12,
		Type:        task.TypeDocs,
		Status:      task.StatusCompleted,
		Repo:        "acme/widgets",
		Result:      "Updated README",
		Output:      "wrote docs\n",
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &done,
		Context:     task.Context{RetryOfTaskID: 11, RetryCount: 2},
	}, true)

	out := buf.String()
	assert.Contains(t, out, "Duration:")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "Retry of:")
	assert.Contains(t, out, "11 (attempt 2)")
	assert.Contains(t, out, "Updated README")
	assert.Contains(t, out, "wrote docs")
	assert.NotContains(t, out, "Branch:")
	assert.NotContains(t, out, "PID:")
}
