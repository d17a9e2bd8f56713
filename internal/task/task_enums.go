package task

import (
	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// Type selects the prompt template and whether the assistant may edit files.
type Type string

const (
	TypePRReview         Type = "pr-review"
	TypeIssueFix         Type = "issue-fix"
	TypeCodeGen          Type = "code-gen"
	TypeDocs             Type = "docs"
	TypePipelineFix      Type = "pipeline-fix"
	TypeResolutionReview Type = "resolution-review"
	TypePRCommentFix     Type = "pr-comment-fix"
	TypeTesting          Type = "testing"
)

// AllTypes returns every task type.
func AllTypes() []Type {
	return []Type{
		TypePRReview, TypeIssueFix, TypeCodeGen, TypeDocs,
		TypePipelineFix, TypeResolutionReview, TypePRCommentFix, TypeTesting,
	}
}

// IsValid returns true if t is one of the known task types.
func (t Type) IsValid() bool {
	switch t {
	case TypePRReview, TypeIssueFix, TypeCodeGen, TypeDocs,
		TypePipelineFix, TypeResolutionReview, TypePRCommentFix, TypeTesting:
		return true
	default:
		return false
	}
}

// AllowsEdits reports whether the assistant runs in edit-permitted mode for
// this type. Only these types are eligible for branch and PR creation.
// pr-comment-fix edits too, but through its own flow.
func (t Type) AllowsEdits() bool {
	switch t {
	case TypeIssueFix, TypeCodeGen, TypePipelineFix:
		return true
	default:
		return false
	}
}

// BranchPrefix returns the prefix used for branches created for this type.
func (t Type) BranchPrefix() string {
	switch t {
	case TypeIssueFix:
		return "bug"
	case TypeCodeGen:
		return "feat"
	default:
		return "maintenance"
	}
}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.IsValid() {
		return "", orcherrors.ErrInvalidTaskType(s)
	}
	return t, nil
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for completed and failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a task may move from one status to another.
// The only edges are pending→running and running→{completed,failed}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
