package cli

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orch/internal/config"
	"github.com/randalmurphal/orch/internal/db"
	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/storage"
)

// sharedBackend keeps the in-memory store open across commands.
type sharedBackend struct {
	storage.Backend
}

func (sharedBackend) Close() error { return nil }

type cliEnv struct {
	dir     string
	cfgPath string
	store   *storage.DatabaseBackend
}

// newCLIEnv isolates the CLI from the caller's config and environment and
// points every store-backed command at one in-memory database.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	for _, name := range []string{"PORT", "GITHUB_TOKEN", "ADO_PAT", "GITLAB_TOKEN", "REPOS_BASE_DIR", "REPOS_MAPPING"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}

	reposDir := filepath.Join(dir, "repos")
	require.NoError(t, os.MkdirAll(reposDir, 0o755))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  port: 3999
github:
  token: ghp_secret
repos:
  base_dir: `+reposDir+`
  auto_scan: false
  mapping:
    Acme/Widgets: widgets
database:
  path: `+filepath.Join(dir, "orch.db")+`
`), 0o600))

	d, err := db.OpenInMemory()
	require.NoError(t, err)
	store := storage.NewDatabaseBackend(storage.Config{DB: d, Publisher: events.NewNopPublisher()})
	t.Cleanup(func() { _ = store.Close() })

	orig := openBackend
	openBackend = func(*config.Config, events.Publisher, *slog.Logger) (storage.Backend, error) {
		return sharedBackend{store}, nil
	}
	t.Cleanup(func() { openBackend = orig })

	return &cliEnv{dir: dir, cfgPath: cfgPath, store: store}
}

// run executes the CLI with the env's config file and returns stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.cfgPath}, args...)...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func storageAll() storage.ListOptions {
	return storage.ListOptions{}
}
