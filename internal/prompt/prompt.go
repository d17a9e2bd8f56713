// Package prompt builds the instructions sent to the assistant.
//
// Every function here is deterministic: the same task and learnings text
// always produce the same prompt.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/randalmurphal/orch/internal/task"
	"github.com/randalmurphal/orch/templates"
)

// ErrUnknownType is returned for a task type with no template.
var ErrUnknownType = errors.New("no prompt template for task type")

// maxExcerpt bounds the outputs quoted in the learning extraction prompt.
const maxExcerpt = 2000

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

var tmpl = template.Must(template.New("prompts").Funcs(funcs).ParseFS(templates.Prompts, "prompts/*.md"))

// data is the view of a task that templates render.
type data struct {
	task.Context
	ExternalRef string
}

// Build returns the prompt for a task. The learnings block, when present, is
// prepended to the base prompt, and the retry preamble wraps the result last
// so it is always the outermost instruction.
func Build(t *task.Task, learnings string) (string, error) {
	base, err := Base(t)
	if err != nil {
		return "", err
	}

	out, err := WithLearnings(base, learnings)
	if err != nil {
		return "", err
	}

	if t.IsRetry() {
		return WrapRetry(out, t.Context)
	}
	return out, nil
}

// Base renders the task type's template without learnings or retry framing.
func Base(t *task.Task) (string, error) {
	var name string
	switch t.Type {
	case task.TypePRReview:
		name = "pr_review.md"
	case task.TypeIssueFix:
		name = "issue_fix.md"
	case task.TypeCodeGen:
		name = "code_gen.md"
	case task.TypeDocs:
		name = "docs.md"
	case task.TypePipelineFix:
		name = "pipeline_fix.md"
	case task.TypeResolutionReview:
		name = "resolution_review.md"
	case task.TypePRCommentFix:
		name = "pr_comment_fix.md"
	case task.TypeTesting:
		name = "testing.md"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, t.Type)
	}
	return render(name, data{Context: t.Context, ExternalRef: externalRef(t.Context)})
}

// WithLearnings prepends the repository's learnings. Blank learnings leave
// the prompt unchanged.
func WithLearnings(prompt, learnings string) (string, error) {
	if strings.TrimSpace(learnings) == "" {
		return prompt, nil
	}
	return render("learnings.md", struct{ Learnings, Prompt string }{strings.TrimSpace(learnings), prompt})
}

// WrapRetry frames the prompt with the previous attempt's failure.
func WrapRetry(prompt string, c task.Context) (string, error) {
	count := c.RetryCount
	if count < 1 {
		count = 1
	}
	errText := c.RetryError
	if errText == "" {
		errText = "Unknown error"
	}
	return render("retry.md", struct {
		RetryCount    int
		RetryOfTaskID int64
		RetryError    string
		Prompt        string
	}{count, c.RetryOfTaskID, errText, prompt})
}

// Simplify asks the assistant to simplify exactly the given files.
func Simplify(files []string) (string, error) {
	return render("simplify.md", struct{ Files []string }{files})
}

// SelfReview asks for a read-only review of the uncommitted changes.
func SelfReview() (string, error) {
	return render("self_review.md", nil)
}

// ExtractLearning asks the assistant to compare a failed task with its
// successful retry and answer with a JSON lesson.
func ExtractLearning(failed, retry *task.Task) (string, error) {
	return render("extract_learning.md", struct {
		TaskType      task.Type
		FailedError   string
		FailedOutput  string
		SuccessOutput string
	}{
		TaskType:      failed.Type,
		FailedError:   failed.Error,
		FailedOutput:  excerpt(firstNonEmpty(failed.Result, failed.Output)),
		SuccessOutput: excerpt(firstNonEmpty(retry.Result, retry.Output)),
	})
}

// UpdateSkill asks whether a skill file should absorb a learning.
func UpdateSkill(errorPattern, solution, skillContent string) (string, error) {
	return render("update_skill.md", struct{ ErrorPattern, Solution, SkillContent string }{errorPattern, solution, skillContent})
}

func render(name string, v any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func externalRef(c task.Context) string {
	switch {
	case c.WorkItemID != 0:
		return fmt.Sprintf("Work item #%d", c.WorkItemID)
	case c.IssueNumber != 0:
		return fmt.Sprintf("Issue #%d", c.IssueNumber)
	default:
		return c.URL
	}
}

func excerpt(s string) string {
	if s == "" {
		return "N/A"
	}
	if len(s) > maxExcerpt {
		return s[:maxExcerpt]
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
