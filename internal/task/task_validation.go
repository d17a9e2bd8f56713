package task

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error returns a combined error message.
func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ToError returns an error if there are validation errors, nil otherwise.
func (e ValidationErrors) ToError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// ValidateNew checks the fields required to create a task.
func ValidateNew(t Type, repo, repoPath string, ctx Context) ValidationErrors {
	var errs ValidationErrors

	if !t.IsValid() {
		errs = append(errs, ValidationError{Field: "type", Value: string(t), Message: "unknown task type"})
	}
	if strings.TrimSpace(repo) == "" {
		errs = append(errs, ValidationError{Field: "repo", Message: "required"})
	}
	if (t.AllowsEdits() || t == TypePRCommentFix) && strings.TrimSpace(repoPath) == "" {
		errs = append(errs, ValidationError{Field: "repoPath", Message: "required for tasks that edit code"})
	}
	if t == TypePRCommentFix && ctx.PRNumber == 0 {
		errs = append(errs, ValidationError{Field: "context.prNumber", Message: "required for pr-comment-fix"})
	}
	if ctx.RetryCount < 0 {
		errs = append(errs, ValidationError{Field: "context.retryCount", Value: fmt.Sprint(ctx.RetryCount), Message: "must not be negative"})
	}

	return errs
}
