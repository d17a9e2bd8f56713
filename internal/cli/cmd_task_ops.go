package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orch/internal/config"
	"github.com/randalmurphal/orch/internal/storage"
)

// newRetryCmd creates the retry command
func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Queue a new attempt of a failed task",
		Long: `Queue a new attempt of a failed task. The new task carries the original
context, the previous error and an incremented retry count. The failed task
is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withBackend(func(ctx context.Context, _ *config.Config, b storage.Backend) error {
				t, err := b.RetryTask(ctx, id)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), t)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created task %d as retry %d of task %d\n",
					t.ID, t.Context.RetryCount, id)
				return nil
			})
		},
	}
}

// newDeleteCmd creates the delete command
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <task-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task that is not running",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withBackend(func(ctx context.Context, _ *config.Config, b storage.Backend) error {
				if err := b.DeleteTask(ctx, id); err != nil {
					return err
				}
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %d\n", id)
				}
				return nil
			})
		},
	}
}

// newCompleteCmd creates the complete command
func newCompleteCmd() *cobra.Command {
	var result string

	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a running task as completed",
		Long: `Mark a running task as completed. Terminal-mode tasks only finish this way,
once the work in the terminal window is done.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withBackend(func(ctx context.Context, _ *config.Config, b storage.Backend) error {
				if err := b.CompleteTask(ctx, id, result); err != nil {
					return err
				}
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "Completed task %d\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&result, "result", "Completed manually", "result text recorded on the task")
	return cmd
}
