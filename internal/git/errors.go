package git

import "errors"

var (
	// ErrNotGitRepo indicates the path is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrNoRemoteBranch indicates a PR flow was started without a head branch.
	ErrNoRemoteBranch = errors.New("no branch specified")
)

// GitError wraps a git command error with context.
// Named GitError (not Error) to avoid collision with the builtin error interface.
type GitError struct {
	Op     string // Operation that failed (e.g., "commit", "push")
	Cmd    string // Git command that was run
	Output string // Combined stdout/stderr output
	Err    error  // Underlying error
}

func (e *GitError) Error() string {
	if e.Output != "" {
		return e.Op + ": " + e.Output
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *GitError) Unwrap() error {
	return e.Err
}
