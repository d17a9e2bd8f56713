package git

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// CommandRunner runs an external command in workDir. Tests substitute a
// recorder so no real git is needed.
type CommandRunner interface {
	// Run returns stdout with trailing newlines removed. On failure the
	// error is a *CommandError carrying the command's diagnostics.
	Run(ctx context.Context, workDir string, name string, args ...string) (stdout string, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner returns the default CommandRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run keeps leading whitespace: porcelain status lines for unstaged-only
// changes begin with a space.
func (ExecRunner) Run(ctx context.Context, workDir, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	runErr := cmd.Run()
	if runErr == nil {
		return strings.TrimRight(stdout.String(), "\r\n"), nil
	}

	cause := runErr
	if ctx.Err() != nil {
		cause = ctx.Err()
	}
	output := firstNonEmpty(stderr.String(), stdout.String(), runErr.Error())
	return output, &CommandError{Command: name, Args: args, WorkDir: workDir, Output: output, Err: cause}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// CommandError is a failed command with what it printed.
type CommandError struct {
	Command string
	Args    []string
	WorkDir string
	// Output is stderr, or stdout when stderr was empty.
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	switch {
	case e.Output != "":
		return e.Output
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Command + " failed"
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
