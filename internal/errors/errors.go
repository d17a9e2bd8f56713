// Package errors provides structured error types for orch.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for orch.
const (
	// Task errors
	CodeTaskNotFound    Code = "TASK_NOT_FOUND"
	CodeTaskRunning     Code = "TASK_RUNNING"
	CodeTaskNotRunning  Code = "TASK_NOT_RUNNING"
	CodeTaskNotFailed   Code = "TASK_NOT_FAILED"
	CodeTaskTerminal    Code = "TASK_TERMINAL"
	CodeInvalidTaskType Code = "INVALID_TASK_TYPE"
	CodeInvalidRequest  Code = "INVALID_REQUEST"

	// Process errors
	CodeProcessNotFound Code = "PROCESS_NOT_FOUND"
	CodeAssistantFailed Code = "ASSISTANT_FAILED"

	// Integration errors
	CodeWebhookSignature      Code = "WEBHOOK_SIGNATURE_INVALID"
	CodeProviderNotConfigured Code = "PROVIDER_NOT_CONFIGURED"
	CodeRepoNotMapped         Code = "REPO_NOT_MAPPED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryUnauthorized
	CategoryInternal
	CategoryUnavailable
)

var codeCategories = map[Code]Category{
	CodeTaskNotFound:          CategoryNotFound,
	CodeTaskRunning:           CategoryConflict,
	CodeTaskNotRunning:        CategoryBadRequest,
	CodeTaskNotFailed:         CategoryBadRequest,
	CodeTaskTerminal:          CategoryConflict,
	CodeInvalidTaskType:       CategoryBadRequest,
	CodeInvalidRequest:        CategoryBadRequest,
	CodeProcessNotFound:       CategoryNotFound,
	CodeAssistantFailed:       CategoryInternal,
	CodeWebhookSignature:      CategoryUnauthorized,
	CodeProviderNotConfigured: CategoryUnavailable,
	CodeRepoNotMapped:         CategoryBadRequest,
	CodeConfigInvalid:         CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryUnauthorized:
		return 401
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// OrchError is the structured error type for orch.
type OrchError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *OrchError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *OrchError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *OrchError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *OrchError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *OrchError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *OrchError) MarshalJSON() ([]byte, error) {
	type alias OrchError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an OrchError with the same code.
func (e *OrchError) Is(target error) bool {
	t, ok := target.(*OrchError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *OrchError) WithCause(err error) *OrchError {
	return &OrchError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id int64) *OrchError {
	return &OrchError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task #%d not found", id),
		Why:  "No task with this ID exists in the store",
		Fix:  "Run 'orch list' to see available tasks",
	}
}

// ErrTaskRunning returns an error when an operation needs a task that is not running.
func ErrTaskRunning(id int64) *OrchError {
	return &OrchError{
		Code: CodeTaskRunning,
		What: fmt.Sprintf("task #%d is running", id),
		Why:  "Running tasks cannot be deleted",
		Fix:  fmt.Sprintf("Stop it first with 'orch stop %d'", id),
	}
}

// ErrTaskNotRunning returns an error when an operation needs a running task.
func ErrTaskNotRunning(id int64, status string) *OrchError {
	return &OrchError{
		Code: CodeTaskNotRunning,
		What: fmt.Sprintf("task #%d is %s, not running", id, status),
		Why:  "Only running tasks can be stopped, steered or completed manually",
	}
}

// ErrTaskNotFailed returns an error when retry is requested for a task that did not fail.
func ErrTaskNotFailed(id int64, status string) *OrchError {
	return &OrchError{
		Code: CodeTaskNotFailed,
		What: fmt.Sprintf("task #%d is %s, not failed", id, status),
		Why:  "Only failed tasks can be retried",
	}
}

// ErrTaskTerminal returns an error when a terminal task is transitioned again.
func ErrTaskTerminal(id int64, status string) *OrchError {
	return &OrchError{
		Code: CodeTaskTerminal,
		What: fmt.Sprintf("task #%d is already %s", id, status),
	}
}

// ErrInvalidTaskType returns an error for an unknown task type.
func ErrInvalidTaskType(t string) *OrchError {
	return &OrchError{
		Code: CodeInvalidTaskType,
		What: fmt.Sprintf("invalid task type %q", t),
		Fix:  "Use one of: pr-review, issue-fix, code-gen, docs, pipeline-fix, resolution-review, pr-comment-fix, testing",
	}
}

// ErrInvalidRequest returns an error for a malformed API request.
func ErrInvalidRequest(reason string) *OrchError {
	return &OrchError{
		Code: CodeInvalidRequest,
		What: "invalid request",
		Why:  reason,
	}
}

// ErrProcessNotFound returns an error when no live process is registered for a task.
func ErrProcessNotFound(id int64) *OrchError {
	return &OrchError{
		Code: CodeProcessNotFound,
		What: fmt.Sprintf("no active process for task #%d", id),
		Why:  "The assistant process has exited or was never started",
	}
}

// ErrWebhookSignature returns an error for a webhook with a bad signature.
func ErrWebhookSignature() *OrchError {
	return &OrchError{
		Code: CodeWebhookSignature,
		What: "invalid webhook signature",
		Fix:  "Check that github.webhook_secret matches the secret configured on the webhook",
	}
}

// ErrProviderNotConfigured returns an error when a hosting provider lacks credentials.
func ErrProviderNotConfigured(provider string) *OrchError {
	return &OrchError{
		Code: CodeProviderNotConfigured,
		What: fmt.Sprintf("%s is not configured", provider),
		Fix:  "Set the provider token in config or environment",
	}
}

// ErrRepoNotMapped returns an error when a repository has no local working tree.
func ErrRepoNotMapped(repo string) *OrchError {
	return &OrchError{
		Code: CodeRepoNotMapped,
		What: fmt.Sprintf("repository %s is not mapped to a local path", repo),
		Fix:  "Add it to repos.mapping or clone it under repos.base_dir",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *OrchError {
	return &OrchError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .orch/config.yaml or the matching environment variable",
	}
}

// AsOrchError attempts to convert an error to an OrchError.
// Returns nil if the error is not an OrchError.
func AsOrchError(err error) *OrchError {
	var orchErr *OrchError
	if stderrors.As(err, &orchErr) {
		return orchErr
	}
	return nil
}

// Wrap wraps a generic error into an OrchError with unknown code.
func Wrap(err error, what string) *OrchError {
	return &OrchError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
