package executor

import (
	"context"
	"fmt"

	"github.com/randalmurphal/orch/internal/task"
)

// prBodyExcerpt bounds how much assistant output is quoted in a PR body.
const prBodyExcerpt = 2000

// ResultComment is the comment posted back to the originating PR, issue or
// work item.
func ResultComment(typ task.Type, output, prURL string) string {
	heading := "Analysis"
	if typ == task.TypePRReview {
		heading = "Code Review"
	}
	comment := fmt.Sprintf("## 🤖 Claude %s\n\n%s", heading, output)
	if prURL != "" {
		comment += "\n\n---\n📝 **PR Created:** " + prURL
	}
	return comment
}

// PRTitle titles pull requests opened for a task.
func PRTitle(t *task.Task) string {
	kind := "Feat"
	if t.Type == task.TypeIssueFix {
		kind = "Fix"
	}
	title := t.Context.Title
	if title == "" {
		title = "Auto-generated"
	}
	return kind + ": " + title
}

// PRBody quotes the start of the assistant's output.
func PRBody(t *task.Task, output string) string {
	excerpt := output
	if len(excerpt) > prBodyExcerpt {
		excerpt = excerpt[:prBodyExcerpt] + "..."
	}
	return fmt.Sprintf("## Summary\n\nAuto-generated by Orch for task #%d\n\n### Claude's Analysis\n\n%s\n\n---\n_Generated by [Orch](https://github.com/orch)_",
		t.ID, excerpt)
}

// postResult writes the result comment to the task's origin. Tasks created
// manually have no origin to write to. Failures are logged only.
func (e *Executor) postResult(ctx context.Context, t *task.Task, body string) {
	if t.Context.Source == "" || t.Context.Source == task.SourceManual {
		return
	}

	provider, err := e.providers.ForTask(t)
	if err != nil {
		e.logger.Warn("no provider for result comment", "task_id", t.ID, "source", t.Context.Source, "error", err)
		return
	}

	switch {
	case t.Context.PRNumber != 0:
		err = provider.CreatePRComment(ctx, t.Repo, t.Context.PRNumber, body)
	case t.Context.WorkItemID != 0:
		err = provider.CreateIssueComment(ctx, t.Repo, t.Context.WorkItemID, body)
	case t.Context.IssueNumber != 0:
		err = provider.CreateIssueComment(ctx, t.Repo, t.Context.IssueNumber, body)
	default:
		return
	}
	if err != nil {
		e.logger.Error("post result comment failed", "task_id", t.ID, "error", err)
		return
	}
	e.logger.Info("posted result comment", "task_id", t.ID, "provider", provider.Name())
}
