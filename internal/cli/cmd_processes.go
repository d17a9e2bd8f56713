package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orch/internal/api"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// newProcessesCmd creates the processes command
func newProcessesCmd() *cobra.Command {
	var (
		killOld bool
		killAll bool
		maxAge  time.Duration
	)

	cmd := &cobra.Command{
		Use:     "processes",
		Aliases: []string{"ps"},
		Short:   "List or kill the assistant processes the server started",
		Example: `  orch processes
  orch processes --kill-old --max-age 30m
  orch processes --kill-all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if killOld && killAll {
				return orcherrors.ErrInvalidRequest("--kill-old and --kill-all are mutually exclusive")
			}
			if killOld && maxAge <= 0 {
				return orcherrors.ErrInvalidRequest("--max-age must be positive")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newAPIClient(cfg, nil)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if killOld || killAll {
				var (
					msg api.Message
					err error
				)
				if killOld {
					msg, err = client.killOld(ctx, maxAge)
				} else {
					msg, err = client.killAll(ctx)
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(out, msg)
				}
				fmt.Fprintln(out, msg.Message)
				return nil
			}

			procs, err := client.processes(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(out, procs)
			}
			if len(procs) == 0 {
				fmt.Fprintln(out, "No assistant processes running.")
				return nil
			}
			now := time.Now()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PID\tTASK\tTYPE\tREPO\tAGE")
			for _, p := range procs {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
					p.PID, p.TaskID, p.TaskType, p.Repo, now.Sub(p.StartTime).Round(time.Second))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&killOld, "kill-old", false, "kill processes older than --max-age")
	cmd.Flags().BoolVar(&killAll, "kill-all", false, "kill every process")
	cmd.Flags().DurationVar(&maxAge, "max-age", 2*time.Hour, "age cutoff for --kill-old")
	return cmd
}
