package executor

import (
	"context"
	"fmt"

	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/task"
)

// HandleCodeChanges turns the assistant's uncommitted edits into a branch,
// a commit, a push and a pull request, and returns the PR URL. It returns
// "" when the tree is clean or any step fails. The branch that was checked
// out on entry is checked out again on every path.
func (e *Executor) HandleCodeChanges(ctx context.Context, t *task.Task, output string) string {
	g := e.newGit(t.RepoPath)

	release, err := e.locks.Acquire(ctx, t.RepoPath)
	if err != nil {
		e.logger.Warn("repo lock not acquired", "task_id", t.ID, "repo_path", t.RepoPath, "error", err)
		return ""
	}
	defer release()

	status, err := g.Status(ctx)
	if err != nil {
		e.logger.Error("git status failed", "task_id", t.ID, "error", err)
		return ""
	}
	if !status.HasChanges() {
		e.logger.Info("no code changes detected", "task_id", t.ID)
		return ""
	}
	e.logger.Info("detected changes", "task_id", t.ID, "files", len(status.Files()))

	original, err := g.CurrentBranch(ctx)
	if err != nil {
		e.logger.Error("read current branch failed", "task_id", t.ID, "error", err)
		return ""
	}
	defer e.restoreBranch(ctx, g, t, original)

	base := g.DefaultBranch(ctx)
	branch := git.BranchName(t)

	if err := g.CreateBranchFrom(ctx, branch, base); err != nil {
		e.logger.Error("create branch failed", "task_id", t.ID, "branch", branch, "error", err)
		e.discard(ctx, g, t)
		return ""
	}

	if err := g.Commit(ctx, CommitMessage(t)); err != nil {
		e.logger.Error("commit failed", "task_id", t.ID, "branch", branch, "error", err)
		e.discard(ctx, g, t)
		return ""
	}

	if err := g.Push(ctx, branch); err != nil {
		e.logger.Error("push failed", "task_id", t.ID, "branch", branch, "error", err)
		return ""
	}

	provider, err := e.providers.ForTask(t)
	if err != nil {
		e.logger.Warn("no provider for pull request", "task_id", t.ID, "repo", t.Repo, "error", err)
		return ""
	}
	pr, err := provider.CreatePR(ctx, t.Repo, hosting.PRCreateOptions{
		Title: PRTitle(t),
		Body:  PRBody(t, output),
		Head:  branch,
		Base:  base,
	})
	if err != nil {
		e.logger.Error("create pull request failed", "task_id", t.ID, "branch", branch, "error", err)
		return ""
	}

	e.logger.Info("created pull request", "task_id", t.ID, "url", pr.HTMLURL)
	return pr.HTMLURL
}

// restoreBranch runs even after the caller's context is cancelled.
func (e *Executor) restoreBranch(ctx context.Context, g *git.Git, t *task.Task, branch string) {
	if err := g.Checkout(context.WithoutCancel(ctx), branch); err != nil {
		e.logger.Error("restore original branch failed", "task_id", t.ID, "branch", branch, "error", err)
	}
}

func (e *Executor) discard(ctx context.Context, g *git.Git, t *task.Task) {
	if err := g.Discard(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("discard changes failed", "task_id", t.ID, "error", err)
	}
}

// CommitMessage names the task type, title and task ID.
func CommitMessage(t *task.Task) string {
	title := t.Context.Title
	if title == "" {
		title = "Auto-generated changes"
	}
	return fmt.Sprintf("%s: %s\n\nGenerated by Orch task #%d", t.Type, title, t.ID)
}
