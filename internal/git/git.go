// Package git runs the git commands orch needs against a task's working tree.
//
// Every operation shells out through a CommandRunner so flows can be tested
// with a recording fake. Nothing here serializes access to a repository;
// callers hold a RepoLocks entry around multi-step flows.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CloneTimeout bounds a single clone.
const CloneTimeout = 120 * time.Second

// Git runs git commands in one working tree.
type Git struct {
	repoPath string
	runner   CommandRunner
}

// Option configures a Git.
type Option func(*Git)

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option {
	return func(g *Git) {
		g.runner = r
	}
}

// New creates a Git for the working tree at repoPath.
func New(repoPath string, opts ...Option) *Git {
	g := &Git{repoPath: repoPath, runner: NewExecRunner()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RepoPath returns the working tree path.
func (g *Git) RepoPath() string {
	return g.repoPath
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, g.repoPath, "git", args...)
	if err != nil {
		return "", &GitError{
			Op:     args[0],
			Cmd:    "git " + strings.Join(args, " "),
			Output: out,
			Err:    err,
		}
	}
	return out, nil
}

// Status lists changed paths in the working tree.
type Status struct {
	Staged    []string
	Unstaged  []string
	Untracked []string
}

// HasChanges reports whether anything is staged, modified or untracked.
func (s Status) HasChanges() bool {
	return len(s.Staged)+len(s.Unstaged)+len(s.Untracked) > 0
}

// Files returns every changed path once, staged first.
func (s Status) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, group := range [][]string{s.Staged, s.Unstaged, s.Untracked} {
		for _, f := range group {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files
}

// ParseStatus parses `git status --porcelain` (v1) output.
func ParseStatus(porcelain string) Status {
	var s Status
	for _, line := range strings.Split(porcelain, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}
		x, y, path := line[0], line[1], line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)

		if x == '?' && y == '?' {
			s.Untracked = append(s.Untracked, path)
			continue
		}
		if x != ' ' {
			s.Staged = append(s.Staged, path)
		}
		if y != ' ' {
			s.Unstaged = append(s.Unstaged, path)
		}
	}
	return s
}

// Status returns the working tree status.
func (g *Git) Status(ctx context.Context) (Status, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(out), nil
}

// Commit stages everything, including untracked files, and commits.
func (g *Git) Commit(ctx context.Context, message string) error {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return err
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return err
	}
	return nil
}

// Discard throws away all uncommitted changes, staged or not, and removes
// untracked files and directories.
func (g *Git) Discard(ctx context.Context) error {
	if _, err := g.run(ctx, "reset", "--hard", "HEAD"); err != nil {
		return err
	}
	if _, err := g.run(ctx, "clean", "-fd"); err != nil {
		return err
	}
	return nil
}

// RemoteURL returns the fetch URL of a remote.
func (g *Git) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := g.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsRepo reports whether dir is the top of a git working tree.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// Clone clones url into dir. The clone is cancelled after CloneTimeout.
func Clone(ctx context.Context, url, dir string, opts ...Option) error {
	if IsRepo(dir) {
		return fmt.Errorf("clone %s: %s is already a repository", url, dir)
	}
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create clone parent: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, CloneTimeout)
	defer cancel()

	g := New(parent, opts...)
	if _, err := g.run(ctx, "clone", url, dir); err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}
