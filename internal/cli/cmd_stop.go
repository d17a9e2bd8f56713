package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// newStopCmd creates the stop command
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Kill a running task's assistant and fail the task",
		Long: `Kill a running task's assistant process and mark the task failed.
The server that runs the task must be reachable (see --server).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := newAPIClient(cfg, nil).stop(cmd.Context(), id); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped task %d\n", id)
			}
			return nil
		},
	}
}

// newSteerCmd creates the steer command
func newSteerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steer <task-id> <input...>",
		Short: "Send a line of input to a running assistant",
		Long: `Send a line of input to a running task's assistant. The assistant only
reads it when assistant.steerable is enabled on the server.`,
		Example: `  orch steer 12 "focus on the failing test first"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			input := strings.TrimSpace(strings.Join(args[1:], " "))
			if input == "" {
				return orcherrors.ErrInvalidRequest("input is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := newAPIClient(cfg, nil).steer(cmd.Context(), id, input); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Sent input to task %d\n", id)
			}
			return nil
		},
	}
}
