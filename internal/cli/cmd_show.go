package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orch/internal/config"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"
)

// newShowCmd creates the show command
func newShowCmd() *cobra.Command {
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task's details",
		Long: `Show a task's details. Completed and failed tasks include the captured
assistant output with --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withBackend(func(ctx context.Context, _ *config.Config, b storage.Backend) error {
				t, err := b.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), t)
				}
				printTask(cmd.OutOrStdout(), t, showOutput)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&showOutput, "output", "o", false, "include the captured assistant output")
	return cmd
}

func printTask(out io.Writer, t *task.Task, withOutput bool) {
	term := detectTerminal(out)
	c := t.Context

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%s\t%s\n", term.label(label+":"), value)
		}
	}
	num := func(label string, n int) {
		if n != 0 {
			row(label, fmt.Sprintf("#%d", n))
		}
	}

	row("Task", fmt.Sprintf("%d", t.ID))
	row("Type", string(t.Type))
	row("Status", term.status(t.Status))
	row("Repo", t.Repo)
	row("Path", t.RepoPath)
	row("Source", string(c.Source))
	row("Event", c.Event)
	num("PR", c.PRNumber)
	num("Issue", c.IssueNumber)
	num("Work item", c.WorkItemID)
	row("Branch", c.Branch)
	row("Base", c.BaseBranch)
	row("Title", c.Title)
	row("URL", c.URL)
	row("PR URL", c.PRURL)
	if len(c.ReviewComments) > 0 {
		row("Comments", fmt.Sprintf("%d review comment(s)", len(c.ReviewComments)))
	}
	if c.TerminalMode {
		row("Mode", "terminal")
	}
	if t.IsRetry() {
		row("Retry of", fmt.Sprintf("%d (attempt %d)", c.RetryOfTaskID, c.RetryCount))
	}
	if t.PID != 0 {
		row("PID", fmt.Sprintf("%d", t.PID))
	}
	row("Created", formatTime(&t.CreatedAt))
	row("Started", formatTime(t.StartedAt))
	row("Completed", formatTime(t.CompletedAt))
	if t.StartedAt != nil && t.CompletedAt != nil {
		row("Duration", t.CompletedAt.Sub(*t.StartedAt).Round(time.Second).String())
	}
	_ = w.Flush()

	if t.Error != "" {
		fmt.Fprintf(out, "\n%s\n%s\n", term.label("Error:"), t.Error)
	}
	if t.Result != "" {
		fmt.Fprintf(out, "\n%s\n%s\n", term.label("Result:"), t.Result)
	}
	if withOutput {
		output := t.Output
		if output == "" {
			output = t.StreamingOutput
		}
		if strings.TrimSpace(output) == "" {
			output = "(no output captured)"
		}
		fmt.Fprintf(out, "\n%s\n%s\n", term.label("Output:"), strings.TrimRight(output, "\n"))
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
