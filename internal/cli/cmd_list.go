package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orch/internal/config"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"
)

// newListCmd creates the list command
func newListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks, newest first",
		Example: `  orch list
  orch list --status failed
  orch list --limit 5 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !task.IsValidStatus(task.Status(status)) {
				return orcherrors.ErrInvalidRequest(fmt.Sprintf(
					"invalid status %q (want one of %s)", status, statusList()))
			}
			if limit < 0 {
				return orcherrors.ErrInvalidRequest("--limit must not be negative")
			}

			return withBackend(func(ctx context.Context, _ *config.Config, b storage.Backend) error {
				tasks, err := b.ListTasks(ctx, storage.ListOptions{Status: task.Status(status), Limit: limit})
				if err != nil {
					return err
				}
				if jsonOut {
					if tasks == nil {
						tasks = []*task.Task{}
					}
					return printJSON(cmd.OutOrStdout(), tasks)
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
					return nil
				}
				printTaskTable(cmd, tasks, time.Now())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, running, completed, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of tasks (0 for all)")
	return cmd
}

func printTaskTable(cmd *cobra.Command, tasks []*task.Task, now time.Time) {
	out := cmd.OutOrStdout()
	term := detectTerminal(out)

	// The title column takes whatever the fixed columns leave over.
	titleWidth := term.width - 70
	if titleWidth < 20 {
		titleWidth = 20
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tREPO\tTITLE\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			term.status(t.Status),
			t.Type,
			truncate(t.Repo, 30),
			truncate(describe(t), titleWidth),
			since(t.CreatedAt, now),
		)
	}
	_ = w.Flush()
}

func statusList() string {
	names := make([]string, 0, 4)
	for _, s := range task.ValidStatuses() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
