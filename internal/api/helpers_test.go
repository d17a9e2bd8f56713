package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orch/internal/assistant"
	"github.com/randalmurphal/orch/internal/db"
	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/process"
	"github.com/randalmurphal/orch/internal/project"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"
)

// testEnv is a server over an in-memory store with one mapped repository,
// acme/widgets, and one Azure DevOps repository, acme/payments/billing.
type testEnv struct {
	server    *Server
	handler   http.Handler
	store     *storage.DatabaseBackend
	processes *process.Registry
	publisher *events.MemoryPublisher
	repoDir   string

	mu      sync.Mutex
	created []int64
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)
	d, err := db.OpenInMemory()
	require.NoError(t, err)
	store := storage.NewDatabaseBackend(storage.Config{DB: d, Publisher: pub})
	t.Cleanup(func() { _ = store.Close() })

	repoDir := t.TempDir()
	env := &testEnv{
		store:     store,
		processes: process.NewRegistry(nil),
		publisher: pub,
		repoDir:   repoDir,
	}
	cfg := Config{
		Store:     store,
		Processes: env.processes,
		Publisher: pub,
		Registry: project.NewRegistry(project.RegistryConfig{
			BaseDir: t.TempDir(),
			Manual: map[string]string{
				"acme/widgets":          repoDir,
				"acme/payments/billing": repoDir,
			},
		}),
		ADOOrg: "acme",
		OnTaskCreated: func(tk *task.Task) {
			env.mu.Lock()
			defer env.mu.Unlock()
			env.created = append(env.created, tk.ID)
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	env.server = New(cfg)
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createTask(t *testing.T, typ task.Type, tctx task.Context) *task.Task {
	t.Helper()
	tk, err := e.store.CreateTask(context.Background(), typ, "acme/widgets", e.repoDir, tctx)
	require.NoError(t, err)
	return tk
}

func (e *testEnv) runningTask(t *testing.T) *task.Task {
	t.Helper()
	tk := e.createTask(t, task.TypePRReview, task.Context{PRNumber: 7})
	ok, err := e.store.StartTask(context.Background(), tk.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return tk
}

func (e *testEnv) reload(t *testing.T, id int64) *task.Task {
	t.Helper()
	tk, err := e.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func (e *testEnv) createdIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.created...)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// fakeHandle is a live process that records steering input.
type fakeHandle struct {
	mu     sync.Mutex
	pid    int
	input  []string
	killed bool
}

func (f *fakeHandle) PID() int { return f.pid }

func (f *fakeHandle) WriteInput(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, text)
	return nil
}

func (f *fakeHandle) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

func (f *fakeHandle) wasKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

// fakeTerminals opens nothing and reports a fixed terminal.
type fakeTerminals struct {
	err  error
	reqs []assistant.LaunchRequest
}

func (f *fakeTerminals) Open(req assistant.LaunchRequest) (assistant.LaunchResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return assistant.LaunchResult{}, f.err
	}
	return assistant.LaunchResult{Terminal: assistant.TerminalTmux, Hint: "tmux attach -t orch-term-1"}, nil
}

func (f *fakeTerminals) Detect() []assistant.TerminalInfo {
	return []assistant.TerminalInfo{{ID: assistant.TerminalTmux, Name: "tmux", Available: true}}
}

// fakeProvider serves one pull request with review comments.
type fakeProvider struct {
	hosting.Provider
	pr       *hosting.PR
	comments []hosting.PRComment
	prErr    error
}

func (f *fakeProvider) Name() hosting.ProviderType { return hosting.ProviderGitHub }

func (f *fakeProvider) AuthenticatedUser(context.Context) (string, error) { return "orch-bot", nil }

func (f *fakeProvider) GetPR(context.Context, string, int) (*hosting.PR, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	return f.pr, nil
}

func (f *fakeProvider) ListPRComments(context.Context, string, int) ([]hosting.PRComment, error) {
	return f.comments, nil
}
