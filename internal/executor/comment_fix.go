package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/prompt"
	"github.com/randalmurphal/orch/internal/task"
)

// ProcessPRCommentFix addresses reviewer comments on an existing pull
// request:
//  1. check out the PR branch from origin
//  2. complete as a no-op when no comments are attached
//  3. fix the comments in edit mode
//  4. when files changed, simplify them and run a read-only self-review
//  5. commit and push to the same branch
//  6. reply to every comment
//
// A failure in steps 1, 3 or 5 fails the task and discards uncommitted
// changes. The branch checked out on entry is restored on every path.
func (e *Executor) ProcessPRCommentFix(ctx context.Context, t *task.Task) error {
	branch := t.Context.Branch
	if branch == "" {
		e.fail(ctx, t, "No branch specified for PR")
		return nil
	}

	release, err := e.locks.Acquire(ctx, t.RepoPath)
	if err != nil {
		return fmt.Errorf("acquire repo lock: %w", err)
	}
	defer release()

	g := e.newGit(t.RepoPath)

	original, err := g.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("read current branch: %w", err)
	}
	defer e.restoreBranch(ctx, g, t, original)

	if err := g.CheckoutRemote(ctx, branch); err != nil {
		e.logger.Error("checkout PR branch failed", "task_id", t.ID, "branch", branch, "error", err)
		e.discard(ctx, g, t)
		e.fail(ctx, t, fmt.Sprintf("Failed to checkout branch: %v", err))
		return nil
	}

	comments := t.Context.ReviewComments
	if len(comments) == 0 {
		e.complete(ctx, t, "No review comments to fix")
		return nil
	}

	e.logger.Info("fixing review comments", "task_id", t.ID, "pr", t.Context.PRNumber, "comments", len(comments))
	fixPrompt, err := prompt.Build(t, e.loadLearnings(t))
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}
	fix := e.invoker.InvokeStreaming(ctx, t, fixPrompt, e.options(ctx, t, true), e.onChunk(t.ID))
	if !fix.Success {
		e.abortCommentFix(ctx, g, t, "Fix step failed: "+orUnknown(fix.Error))
		return nil
	}

	status, err := g.Status(ctx)
	if err != nil {
		e.abortCommentFix(ctx, g, t, fmt.Sprintf("Failed to read changes: %v", err))
		return nil
	}

	if status.HasChanges() {
		e.polish(ctx, t, status.Files())

		// Simplification may have reverted everything.
		status, err = g.Status(ctx)
		if err != nil {
			e.abortCommentFix(ctx, g, t, fmt.Sprintf("Failed to read changes: %v", err))
			return nil
		}
	}

	if status.HasChanges() {
		if err := g.Commit(ctx, CommentFixCommitMessage(t)); err != nil {
			e.abortCommentFix(ctx, g, t, fmt.Sprintf("Failed to commit changes: %v", err))
			return nil
		}
		if err := g.Push(ctx, branch); err != nil {
			e.abortCommentFix(ctx, g, t, fmt.Sprintf("Failed to push changes: %v", err))
			return nil
		}
	} else {
		e.logger.Info("fix made no file changes; skipping commit", "task_id", t.ID)
	}

	e.replyToComments(ctx, t)

	result := fmt.Sprintf("Fixed %d review comment(s) and pushed to %s\n\n%s", len(comments), branch, fix.Output)
	if e.complete(ctx, t, result) {
		e.logger.Info("task completed", "task_id", t.ID, "branch", branch)
		e.extractLearning(ctx, t)
	}
	return nil
}

// polish runs the simplify pass over exactly the changed files, then a
// read-only self-review whose verdict is only logged.
func (e *Executor) polish(ctx context.Context, t *task.Task, files []string) {
	e.logger.Info("simplifying changed files", "task_id", t.ID, "files", len(files))
	if p, err := prompt.Simplify(files); err != nil {
		e.logger.Warn("build simplify prompt failed", "task_id", t.ID, "error", err)
	} else if res := e.invoker.InvokeStreaming(ctx, t, p, e.options(ctx, t, true), e.onChunk(t.ID)); !res.Success {
		e.logger.Warn("simplify step failed", "task_id", t.ID, "error", res.Error)
	}

	p, err := prompt.SelfReview()
	if err != nil {
		e.logger.Warn("build self-review prompt failed", "task_id", t.ID, "error", err)
		return
	}
	res := e.invoker.InvokeStreaming(ctx, t, p, e.options(ctx, t, false), e.onChunk(t.ID))
	switch {
	case !res.Success:
		e.logger.Warn("self-review failed", "task_id", t.ID, "error", res.Error)
	case NeedsAttention(res.Output):
		e.logger.Info("self-review flagged issues, continuing anyway", "task_id", t.ID)
	default:
		e.logger.Info("self-review approved", "task_id", t.ID)
	}
}

func (e *Executor) abortCommentFix(ctx context.Context, g *git.Git, t *task.Task, reason string) {
	e.discard(ctx, g, t)
	e.fail(ctx, t, reason)
}

// replyToComments acknowledges each comment. Failures are logged only.
func (e *Executor) replyToComments(ctx context.Context, t *task.Task) {
	provider, err := e.providers.ForTask(t)
	if err != nil {
		e.logger.Warn("no provider for comment replies", "task_id", t.ID, "repo", t.Repo, "error", err)
		return
	}
	body := ReplyBody(t.ID)
	for _, c := range t.Context.ReviewComments {
		if err := provider.ReplyToComment(ctx, t.Repo, t.Context.PRNumber, c.ID, body); err != nil {
			e.logger.Error("reply to review comment failed", "task_id", t.ID, "comment_id", c.ID, "error", err)
		}
	}
}

// NeedsAttention reports whether a self-review flagged problems.
func NeedsAttention(review string) bool {
	lower := strings.ToLower(review)
	return strings.Contains(lower, "needs attention") && !strings.Contains(lower, "approved")
}

// CommentFixCommitMessage is the commit message for review fixes.
func CommentFixCommitMessage(t *task.Task) string {
	return fmt.Sprintf("fix: address PR review comments\n\nFixed %d review comment(s)\nGenerated by Orch task #%d",
		len(t.Context.ReviewComments), t.ID)
}

// ReplyBody acknowledges a review comment.
func ReplyBody(taskID int64) string {
	return fmt.Sprintf("✅ Addressed in latest push.\n\n_Auto-fixed by Orch task #%d_", taskID)
}

func orUnknown(s string) string {
	if s == "" {
		return unknownError
	}
	return s
}
