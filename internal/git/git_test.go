package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}

// setupTestRepo creates a repository on branch main with one commit and a
// bare origin that has main pushed.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	remote := filepath.Join(t.TempDir(), "origin.git")
	gitCmd(t, t.TempDir(), "init", "--bare", remote)
	gitCmd(t, remote, "symbolic-ref", "HEAD", "refs/heads/main")

	dir := t.TempDir()
	gitCmd(t, dir, "init")
	gitCmd(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	gitCmd(t, dir, "config", "user.email", "test@test.com")
	gitCmd(t, dir, "config", "user.name", "Test User")
	gitCmd(t, dir, "config", "commit.gpgsign", "false")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "Initial commit")
	gitCmd(t, dir, "remote", "add", "origin", remote)
	gitCmd(t, dir, "push", "-u", "origin", "main")

	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStatusOnRealRepo(t *testing.T) {
	dir := setupTestRepo(t)
	g := New(dir)
	ctx := context.Background()

	st, err := g.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.HasChanges())

	writeFile(t, dir, "README.md", "# Changed\n")
	writeFile(t, dir, "new.go", "package x\n")
	writeFile(t, dir, "staged.go", "package y\n")
	gitCmd(t, dir, "add", "staged.go")

	st, err = g.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.HasChanges())
	assert.Equal(t, []string{"README.md"}, st.Unstaged)
	assert.Equal(t, []string{"new.go"}, st.Untracked)
	assert.Equal(t, []string{"staged.go"}, st.Staged)
	assert.ElementsMatch(t, []string{"README.md", "new.go", "staged.go"}, st.Files())
}

func TestCreateBranchCommitPushRestore(t *testing.T) {
	dir := setupTestRepo(t)
	g := New(dir)
	ctx := context.Background()

	original, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", original)
	assert.Equal(t, "main", g.DefaultBranch(ctx))

	writeFile(t, dir, "fix.go", "package fix\n")
	require.NoError(t, g.CreateBranchFrom(ctx, "bug/42-fix-null-pointer", "main"))

	current, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bug/42-fix-null-pointer", current)

	require.NoError(t, g.Commit(ctx, "issue-fix: Fix null pointer"))
	require.NoError(t, g.Push(ctx, "bug/42-fix-null-pointer"))

	remoteBranches := gitCmd(t, dir, "ls-remote", "--heads", "origin")
	assert.Contains(t, remoteBranches, "refs/heads/bug/42-fix-null-pointer")

	require.NoError(t, g.Checkout(ctx, original))
	current, err = g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", current)
	_, err = os.Stat(filepath.Join(dir, "fix.go"))
	assert.True(t, os.IsNotExist(err), "committed file should not be on main")
}

func TestCreateBranchFromUnknownBase(t *testing.T) {
	dir := setupTestRepo(t)
	g := New(dir)

	err := g.CreateBranchFrom(context.Background(), "feat/1-x", "does-not-exist")
	require.Error(t, err)

	current, _ := g.CurrentBranch(context.Background())
	assert.Equal(t, "main", current)
}

func TestCommitWithNothingToCommitFails(t *testing.T) {
	dir := setupTestRepo(t)
	err := New(dir).Commit(context.Background(), "empty")
	assert.Error(t, err)

	var gitErr *GitError
	assert.ErrorAs(t, err, &gitErr)
	assert.Equal(t, "commit", gitErr.Op)
}

func TestDiscard(t *testing.T) {
	dir := setupTestRepo(t)
	g := New(dir)
	ctx := context.Background()

	writeFile(t, dir, "README.md", "# Changed\n")
	writeFile(t, dir, "scratch/notes.txt", "tmp\n")
	writeFile(t, dir, "staged.go", "package y\n")
	gitCmd(t, dir, "add", "staged.go")

	require.NoError(t, g.Discard(ctx))

	st, err := g.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.HasChanges())
	data, err := os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Test\n", string(data))
}

func TestCheckoutRemote(t *testing.T) {
	dir := setupTestRepo(t)
	ctx := context.Background()

	gitCmd(t, dir, "checkout", "-b", "feat/7-thing")
	writeFile(t, dir, "thing.go", "package thing\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "thing")
	gitCmd(t, dir, "push", "-u", "origin", "feat/7-thing")
	gitCmd(t, dir, "checkout", "main")

	g := New(dir)
	require.NoError(t, g.CheckoutRemote(ctx, "feat/7-thing"))
	current, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feat/7-thing", current)

	assert.ErrorIs(t, g.CheckoutRemote(ctx, ""), ErrNoRemoteBranch)
}

func TestClone(t *testing.T) {
	dir := setupTestRepo(t)
	remote := strings.TrimSpace(gitCmd(t, dir, "remote", "get-url", "origin"))

	target := filepath.Join(t.TempDir(), "nested", "widgets")
	require.NoError(t, Clone(context.Background(), remote, target))
	assert.True(t, IsRepo(target))

	err := Clone(context.Background(), remote, target)
	assert.Error(t, err, "cloning over an existing repository")
}

func TestRemoteURL(t *testing.T) {
	dir := setupTestRepo(t)
	url, err := New(dir).RemoteURL(context.Background(), "origin")
	require.NoError(t, err)
	assert.Contains(t, url, "origin.git")
}
