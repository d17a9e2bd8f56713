package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/task"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListTasks(t *testing.T) {
	env := newTestEnv(t)
	first := env.createTask(t, task.TypePRReview, task.Context{PRNumber: 1})
	second := env.runningTask(t)

	t.Run("newest first", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/tasks", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		tasks := decodeBody[[]task.Task](t, rec)
		require.Len(t, tasks, 2)
		assert.Equal(t, second.ID, tasks[0].ID)
		assert.Equal(t, first.ID, tasks[1].ID)
	})

	t.Run("status filter", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/tasks?status=pending", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		tasks := decodeBody[[]task.Task](t, rec)
		require.Len(t, tasks, 1)
		assert.Equal(t, first.ID, tasks[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/tasks?limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[[]task.Task](t, rec), 1)
	})

	t.Run("bad status", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/tasks?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/tasks?limit=0", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListTasksEmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/tasks", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCreateTask(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"type":    "code-gen",
		"repo":    "acme/widgets",
		"context": map[string]any{"title": "Add CSV export"},
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[task.Task](t, rec)
	assert.Equal(t, task.StatusPending, created.Status)
	assert.Equal(t, env.repoDir, created.RepoPath, "resolved through the mapping")
	assert.Equal(t, task.SourceManual, created.Context.Source)
	assert.Equal(t, "Add CSV export", created.Context.Title)
	assert.Equal(t, []int64{created.ID}, env.createdIDs())
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{"missing type", map[string]any{"repo": "acme/widgets"}, "INVALID_REQUEST"},
		{"unknown type", map[string]any{"type": "deploy", "repo": "acme/widgets"}, "INVALID_TASK_TYPE"},
		{"missing repo", map[string]any{"type": "docs"}, "INVALID_REQUEST"},
		{"comment fix without PR", map[string]any{"type": "pr-comment-fix", "repo": "acme/widgets"}, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/tasks", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeBody[APIError](t, rec).Code)
		})
	}
	assert.Empty(t, env.createdIDs())
}

func TestGetTask(t *testing.T) {
	env := newTestEnv(t)
	running := env.runningTask(t)
	env.store.Outputs().Append(running.ID, "thinking...")

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", running.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[task.Task](t, rec)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, "thinking...", got.StreamingOutput)

	rec = env.do(t, http.MethodGet, "/api/tasks/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopTask(t *testing.T) {
	env := newTestEnv(t)
	running := env.runningTask(t)
	h := &fakeHandle{pid: 4242}
	env.processes.Register(running.ID, h)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/stop", running.ID), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, h.wasKilled())
	got := env.reload(t, running.ID)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "Stopped by user", got.Error)
}

func TestStopTaskNotRunning(t *testing.T) {
	env := newTestEnv(t)
	pending := env.createTask(t, task.TypeDocs, task.Context{})

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/stop", pending.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, task.StatusPending, env.reload(t, pending.ID).Status)

	rec = env.do(t, http.MethodPost, "/api/tasks/999/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	pending := env.createTask(t, task.TypeDocs, task.Context{})
	running := env.runningTask(t)

	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", running.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", pending.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", pending.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryTask(t *testing.T) {
	env := newTestEnv(t)
	running := env.runningTask(t)
	require.NoError(t, env.store.FailTask(t.Context(), running.ID, "boom"))

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/retry", running.ID), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[Message](t, rec)
	assert.Equal(t, fmt.Sprintf("Retry task #%d created (attempt 1)", resp.TaskID), resp.Message)
	retry := env.reload(t, resp.TaskID)
	assert.Equal(t, task.StatusPending, retry.Status)
	assert.Equal(t, running.ID, retry.Context.RetryOfTaskID)
	assert.Equal(t, "boom", retry.Context.RetryError)
	assert.Equal(t, []int64{resp.TaskID}, env.createdIDs())
}

func TestRetryTaskNotFailed(t *testing.T) {
	env := newTestEnv(t)
	pending := env.createTask(t, task.TypeDocs, task.Context{})

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/retry", pending.ID), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "TASK_NOT_FAILED", decodeBody[APIError](t, rec).Code)
}

func TestCompleteTask(t *testing.T) {
	env := newTestEnv(t)

	t.Run("default result", func(t *testing.T) {
		running := env.runningTask(t)
		rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/complete", running.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := env.reload(t, running.ID)
		assert.Equal(t, task.StatusCompleted, got.Status)
		assert.Equal(t, "Completed manually", got.Result)
	})

	t.Run("given result", func(t *testing.T) {
		running := env.runningTask(t)
		rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/complete", running.ID), map[string]string{"result": "verified by hand"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "verified by hand", env.reload(t, running.ID).Result)
	})

	t.Run("not running", func(t *testing.T) {
		pending := env.createTask(t, task.TypeDocs, task.Context{})
		rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/complete", pending.ID), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSteerTask(t *testing.T) {
	env := newTestEnv(t)
	running := env.runningTask(t)
	h := &fakeHandle{pid: 4242}
	env.processes.Register(running.ID, h)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/steer", running.ID), map[string]string{"input": "focus on tests"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"focus on tests"}, h.input)

	rec = env.do(t, http.MethodPost, "/api/tasks/999/steer", map[string]string{"input": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PROCESS_NOT_FOUND", decodeBody[APIError](t, rec).Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/steer", running.ID), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenTerminal(t *testing.T) {
	terms := &fakeTerminals{}
	env := newTestEnv(t, func(c *Config) { c.Terminals = terms })
	tk := env.createTask(t, task.TypeDocs, task.Context{})

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/terminal", tk.ID), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[terminalResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "tmux", string(resp.Terminal))
	require.Len(t, terms.reqs, 1)
	assert.Equal(t, env.repoDir, terms.reqs[0].Dir)
	assert.Equal(t, fmt.Sprintf("Task #%d: acme/widgets", tk.ID), terms.reqs[0].Title)
}

func TestOpenTerminalFailure(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Terminals = &fakeTerminals{err: errors.New("no terminal could be opened")} })
	tk := env.createTask(t, task.TypeDocs, task.Context{})

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/terminal", tk.ID), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, decodeBody[terminalResponse](t, rec).Success)
}

func TestProcesses(t *testing.T) {
	env := newTestEnv(t)
	running := env.runningTask(t)
	h := &fakeHandle{pid: 4242}
	env.processes.Register(running.ID, h)

	rec := env.do(t, http.MethodGet, "/api/processes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	procs := decodeBody[[]ProcessInfo](t, rec)
	require.Len(t, procs, 1)
	assert.Equal(t, 4242, procs[0].PID)
	assert.Equal(t, running.ID, procs[0].TaskID)
	assert.Equal(t, task.TypePRReview, procs[0].TaskType)
	assert.Equal(t, "acme/widgets", procs[0].Repo)

	rec = env.do(t, http.MethodPost, "/api/processes/kill-old", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Killed 0 Orch process(es) older than 2 hours", decodeBody[Message](t, rec).Message)
	assert.False(t, h.wasKilled())

	rec = env.do(t, http.MethodPost, "/api/processes/kill-old?maxAge=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/processes/%d/kill", running.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.wasKilled())

	rec = env.do(t, http.MethodPost, "/api/processes/999/kill", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKillAllProcesses(t *testing.T) {
	env := newTestEnv(t)
	a, b := &fakeHandle{pid: 1}, &fakeHandle{pid: 2}
	env.processes.Register(1, a)
	env.processes.Register(2, b)

	rec := env.do(t, http.MethodPost, "/api/processes/kill-all", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Killed 2 Orch process(es)", decodeBody[Message](t, rec).Message)
	assert.True(t, a.wasKilled())
	assert.True(t, b.wasKilled())
}

func TestDescribeAge(t *testing.T) {
	assert.Equal(t, "2 hours", describeAge(2*time.Hour))
	assert.Equal(t, "1 hour", describeAge(time.Hour))
	assert.Equal(t, "30 minutes", describeAge(30*time.Minute))
	assert.Equal(t, "1m30s", describeAge(90*time.Second))
}

func TestListRepos(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/repos", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[reposResponse](t, rec)
	assert.Empty(t, resp.Repos)
	assert.Equal(t, env.repoDir, resp.Mapping["acme/widgets"])
}

func TestCloneRepoRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing fields", map[string]string{}},
		{"bad scheme", map[string]string{"cloneUrl": "file:///etc", "targetName": "x"}},
		{"traversal", map[string]string{"cloneUrl": "https://github.com/acme/x.git", "targetName": "../x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/repos/clone", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListTerminals(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Terminals = &fakeTerminals{} })

	rec := env.do(t, http.MethodGet, "/api/system/terminals", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"tmux"`)
}

func TestReviewPRAction(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/actions/review-pr", map[string]any{
		"repo": "acme/widgets", "prNumber": 7, "title": "Add export",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[actionResponse](t, rec)
	assert.Equal(t, "PR review task created", resp.Message)
	got := env.reload(t, resp.TaskID)
	assert.Equal(t, task.TypePRReview, got.Type)
	assert.Equal(t, "manual.pr-review", got.Context.Event)
	assert.Equal(t, task.SourceGitHub, got.Context.Source)
	assert.Equal(t, 7, got.Context.PRNumber)

	rec = env.do(t, http.MethodPost, "/api/actions/review-pr", map[string]any{"repo": "acme/unknown", "prNumber": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REPO_NOT_MAPPED", decodeBody[APIError](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/actions/review-pr", map[string]any{"repo": "acme/widgets"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeWorkItemAction(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     map[string]any
		wantType task.Type
		wantRepo string
	}{
		{"bug by project", map[string]any{"workItemId": 31, "kind": "Bug", "project": "payments"}, task.TypeIssueFix, "acme/payments/billing"},
		{"story by repo", map[string]any{"workItemId": 32, "kind": "User Story", "repo": "acme/widgets"}, task.TypeCodeGen, "acme/widgets"},
		{"first repo fallback", map[string]any{"workItemId": 33, "kind": "Feature"}, task.TypeCodeGen, "acme/payments/billing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/actions/analyze-workitem", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			got := env.reload(t, decodeBody[actionResponse](t, rec).TaskID)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantRepo, got.Repo)
			assert.Equal(t, task.SourceADO, got.Context.Source)
		})
	}
}

func TestFixPRCommentsAction(t *testing.T) {
	provider := &fakeProvider{
		pr: &hosting.PR{Number: 9, HeadBranch: "feat/9-export", BaseBranch: "main"},
		comments: []hosting.PRComment{
			{ID: 1, Author: "alice", Path: "export.go", Line: 4, Body: "handle the error"},
			{ID: 2, Author: "orch-bot", Body: "thanks"},
			{ID: 3, Author: "alice", Body: "also this", InReplyTo: 1},
		},
	}
	env := newTestEnv(t, func(c *Config) { c.Providers = hosting.NewSetOf(provider) })

	rec := env.do(t, http.MethodPost, "/api/actions/fix-pr-comments", map[string]any{"repo": "acme/widgets", "prNumber": 9})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[actionResponse](t, rec)
	assert.Equal(t, "PR comment fix task created (1 comments)", resp.Message)
	got := env.reload(t, resp.TaskID)
	assert.Equal(t, task.TypePRCommentFix, got.Type)
	assert.Equal(t, "feat/9-export", got.Context.Branch)
	assert.Equal(t, "main", got.Context.BaseBranch)
	require.Len(t, got.Context.ReviewComments, 1)
	assert.Equal(t, int64(1), got.Context.ReviewComments[0].ID)
}

func TestFixPRCommentsActionErrors(t *testing.T) {
	t.Run("no provider", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/actions/fix-pr-comments", map[string]any{"repo": "acme/widgets", "prNumber": 9})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("branch lookup fails", func(t *testing.T) {
		provider := &fakeProvider{prErr: hosting.ErrNotFound}
		env := newTestEnv(t, func(c *Config) { c.Providers = hosting.NewSetOf(provider) })
		rec := env.do(t, http.MethodPost, "/api/actions/fix-pr-comments", map[string]any{"repo": "acme/widgets", "prNumber": 9})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Failed to fetch PR branch info", decodeBody[APIError](t, rec).Details)
	})

	t.Run("no open comments", func(t *testing.T) {
		provider := &fakeProvider{comments: []hosting.PRComment{{ID: 2, Author: "orch-bot"}}}
		env := newTestEnv(t, func(c *Config) { c.Providers = hosting.NewSetOf(provider) })
		rec := env.do(t, http.MethodPost, "/api/actions/fix-pr-comments", map[string]any{
			"repo": "acme/widgets", "prNumber": 9, "branch": "feat/9-export",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No unresolved review comments found", decodeBody[APIError](t, rec).Details)
		assert.Empty(t, env.createdIDs())
	})
}

func TestTestWorkItemAction(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/actions/test-workitem", map[string]any{
		"workItemId": 44,
		"title":      "Export totals",
		"prUrl":      "https://github.com/acme/widgets/pull/12",
		"testNotes":  "check rounding",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := env.reload(t, decodeBody[actionResponse](t, rec).TaskID)
	assert.Equal(t, task.TypeTesting, got.Type)
	assert.Equal(t, "acme/widgets", got.Repo)
	assert.Equal(t, "check rounding", got.Context.TestNotes)
	assert.Equal(t, "https://github.com/acme/widgets/pull/12", got.Context.PRURL)

	rec = env.do(t, http.MethodPost, "/api/actions/test-workitem", map[string]any{"workItemId": 45, "project": "nowhere"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REPO_NOT_MAPPED", decodeBody[APIError](t, rec).Code)
}

func TestReviewResolutionAction(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/actions/review-resolution", map[string]any{
		"workItemId": 46,
		"project":    "payments",
		"resolution": "Fixed rounding in totals",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[actionResponse](t, rec)
	assert.Equal(t, "Resolution review task created", resp.Message)
	got := env.reload(t, resp.TaskID)
	assert.Equal(t, task.TypeResolutionReview, got.Type)
	assert.Equal(t, "acme/payments/billing", got.Repo)
	assert.Equal(t, "Fixed rounding in totals", got.Context.Resolution)
}
