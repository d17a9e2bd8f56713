package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orch/internal/assistant"
	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"
)

// step scripts one assistant invocation.
type step struct {
	res    assistant.Result
	chunks []assistant.Chunk
	effect func()
}

func ok(output string) step {
	return step{res: assistant.Result{Success: true, Output: output}}
}

type invocation struct {
	prompt     string
	allowEdits bool
	streaming  bool
}

// fakeInvoker replays steps in order and succeeds with "ok" once they run out.
type fakeInvoker struct {
	mu       sync.Mutex
	steps    []step
	calls    []invocation
	terminal assistant.Result
}

func (f *fakeInvoker) next(p string, opts assistant.Options, streaming bool) step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invocation{prompt: p, allowEdits: opts.AllowEdits, streaming: streaming})
	if len(f.steps) == 0 {
		return ok("ok")
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s
}

func (f *fakeInvoker) Invoke(_ context.Context, _ *task.Task, p string, opts assistant.Options) assistant.Result {
	s := f.next(p, opts, false)
	if s.effect != nil {
		s.effect()
	}
	return s.res
}

func (f *fakeInvoker) InvokeStreaming(_ context.Context, _ *task.Task, p string, opts assistant.Options, onChunk func(assistant.Chunk)) assistant.Result {
	s := f.next(p, opts, true)
	if opts.OnStart != nil {
		opts.OnStart(4242)
	}
	for _, c := range s.chunks {
		onChunk(c)
	}
	if s.effect != nil {
		s.effect()
	}
	return s.res
}

func (f *fakeInvoker) OpenTerminal(_ *task.Task, p string, opts assistant.Options, _ *assistant.Launcher) assistant.Result {
	f.next(p, opts, false)
	return f.terminal
}

func (f *fakeInvoker) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.calls...)
}

type posted struct {
	number int
	body   string
}

// fakeProvider records every write.
type fakeProvider struct {
	name      hosting.ProviderType
	prURL     string
	createErr error

	mu            sync.Mutex
	created       []hosting.PRCreateOptions
	prComments    []posted
	issueComments []posted
	replies       []int64
}

func newFakeProvider(name hosting.ProviderType) *fakeProvider {
	return &fakeProvider{name: name, prURL: "https://github.com/acme/widgets/pull/7"}
}

func (f *fakeProvider) Name() hosting.ProviderType { return f.name }

func (f *fakeProvider) AuthenticatedUser(context.Context) (string, error) { return "orch-bot", nil }

func (f *fakeProvider) CreatePR(_ context.Context, _ string, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, opts)
	return &hosting.PR{Number: 7, HTMLURL: f.prURL, HeadBranch: opts.Head, BaseBranch: opts.Base}, nil
}

func (f *fakeProvider) GetPR(context.Context, string, int) (*hosting.PR, error) {
	return nil, hosting.ErrNotFound
}

func (f *fakeProvider) ListOpenPRs(context.Context, string, int) ([]hosting.PR, error) {
	return nil, nil
}

func (f *fakeProvider) ListOpenIssues(context.Context, string, int) ([]hosting.Issue, error) {
	return nil, nil
}

func (f *fakeProvider) ListPRComments(context.Context, string, int) ([]hosting.PRComment, error) {
	return nil, nil
}

func (f *fakeProvider) CreatePRComment(_ context.Context, _ string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prComments = append(f.prComments, posted{number, body})
	return nil
}

func (f *fakeProvider) CreateIssueComment(_ context.Context, _ string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueComments = append(f.issueComments, posted{number, body})
	return nil
}

func (f *fakeProvider) ReplyToComment(_ context.Context, _ string, _ int, commentID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, commentID)
	return nil
}

// fakeRunner records git invocations and answers by command prefix.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	fail    map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: map[string]string{
			"git branch --show-current": "main",
			"git symbolic-ref":          "origin/main",
		},
		fail: map[string]bool{},
	}
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for prefix := range f.fail {
		if strings.HasPrefix(call, prefix) {
			return "fatal: " + prefix, errors.New("exit status 1")
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(call, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRunner) ran(prefix string) bool {
	for _, c := range f.commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeRunner) last() string {
	cmds := f.commands()
	if len(cmds) == 0 {
		return ""
	}
	return cmds[len(cmds)-1]
}

// harness wires an executor to an in-memory store and fakes.
type harness struct {
	exec     *Executor
	store    *storage.DatabaseBackend
	invoker  *fakeInvoker
	provider *fakeProvider
	events   *events.MemoryPublisher
}

type harnessOption func(*Config)

func withRunner(r *fakeRunner) harnessOption {
	return func(c *Config) {
		c.NewGit = func(repoPath string) *git.Git { return git.New(repoPath, git.WithRunner(r)) }
	}
}

func newHarness(t *testing.T, provider *fakeProvider, opts ...harnessOption) *harness {
	t.Helper()
	store := storage.NewTestBackend(t)
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)

	inv := &fakeInvoker{}
	cfg := Config{
		Store:     store,
		Invoker:   inv,
		Outputs:   store.Outputs(),
		Publisher: pub,
	}
	if provider != nil {
		cfg.Providers = hosting.NewSetOf(provider)
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &harness{exec: New(cfg), store: store, invoker: inv, provider: provider, events: pub}
}

func (h *harness) create(t *testing.T, typ task.Type, repoPath string, tctx task.Context) *task.Task {
	t.Helper()
	tk, err := h.store.CreateTask(context.Background(), typ, "acme/widgets", repoPath, tctx)
	require.NoError(t, err)
	return tk
}

func (h *harness) reload(t *testing.T, id int64) *task.Task {
	t.Helper()
	tk, err := h.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupRepo creates a working repository on main with a bare origin.
func setupRepo(t *testing.T) (dir, remote string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	remote = filepath.Join(t.TempDir(), "origin.git")
	gitCmd(t, t.TempDir(), "init", "--bare", remote)
	gitCmd(t, remote, "symbolic-ref", "HEAD", "refs/heads/main")

	dir = t.TempDir()
	gitCmd(t, dir, "init")
	gitCmd(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	gitCmd(t, dir, "config", "user.email", "test@test.com")
	gitCmd(t, dir, "config", "user.name", "Test User")
	gitCmd(t, dir, "config", "commit.gpgsign", "false")
	writeFile(t, dir, "README.md", "# widgets\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "Initial commit")
	gitCmd(t, dir, "remote", "add", "origin", remote)
	gitCmd(t, dir, "push", "-u", "origin", "main")
	return dir, remote
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
