package assistant

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/orch/internal/task"
)

// OpenTerminal writes the prompt to a temporary file and opens a visible
// terminal that runs the assistant interactively in the task's repository.
// Success only means the window opened. The task stays running until it is
// completed explicitly.
func (r *Runner) OpenTerminal(t *task.Task, prompt string, opts Options, launcher *Launcher) Result {
	if launcher == nil {
		return Result{Error: "terminal mode is not configured", ExitCode: -1}
	}

	promptFile := filepath.Join(os.TempDir(), fmt.Sprintf("orch-prompt-%d-%s.md", t.ID, uuid.NewString()))
	if err := os.WriteFile(promptFile, []byte(prompt), 0o600); err != nil {
		return Result{Error: fmt.Sprintf("write prompt file: %v", err), ExitCode: -1}
	}

	res, err := launcher.Open(LaunchRequest{
		TaskID:  t.ID,
		Title:   fmt.Sprintf("Task #%d: %s", t.ID, t.Repo),
		Dir:     t.RepoPath,
		Command: r.interactiveCommand(launcher, promptFile, opts.AllowEdits),
	})
	if err != nil {
		_ = os.Remove(promptFile)
		r.logger.Error("open terminal failed", "task_id", t.ID, "error", err)
		return Result{Error: err.Error(), ExitCode: -1}
	}

	out := fmt.Sprintf("Opened %s terminal for task #%d (prompt: %s)", res.Terminal, t.ID, promptFile)
	if res.Hint != "" {
		out += "\n" + res.Hint
	}
	return Result{Success: true, Output: out}
}

// interactiveCommand runs the assistant without --print so the session stays
// interactive, seeding it with the prompt file's content.
func (r *Runner) interactiveCommand(l *Launcher, promptFile string, allowEdits bool) string {
	var flags []string
	if allowEdits {
		flags = editArgs
	} else {
		flags = readOnlyArgs
	}

	if l.goos == "windows" {
		return fmt.Sprintf("& %s %s (Get-Content -Raw %s)", psQuote(r.path), strings.Join(flags, " "), psQuote(promptFile))
	}
	return fmt.Sprintf("%s %s \"$(cat %s)\"", shellQuote(r.path), strings.Join(flags, " "), shellQuote(promptFile))
}
