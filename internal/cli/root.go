// Package cli implements the orch command-line interface.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orch/internal/config"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	jsonOut   bool
	serverURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orch",
		Short: "Turn repository events into coding-assistant tasks",
		Long: `orch turns pull requests, issues, work items and failed pipelines from
GitHub, GitLab and Azure DevOps into coding-assistant tasks, runs them under
a concurrency limit, and writes the results back as comments, branches and
pull requests.

Quick start:
  orch config init            Write .orch/config.yaml with defaults
  orch repos                  Show which repositories are mapped
  orch serve                  Run the API, webhooks, dispatcher and poller
  orch create pr-review acme/widgets --pr 42
  orch list                   Show recent tasks`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .orch/config.yaml, then ~/.orch/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "orch server URL (default is http://localhost:<server.port>)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newCompleteCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newSteerCmd())
	cmd.AddCommand(newProcessesCmd())
	cmd.AddCommand(newReposCmd())
	cmd.AddCommand(newTerminalsCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

// Execute runs the root command and prints any error.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		PrintError(err)
		return err
	}
	return nil
}

// setupLogging installs the default slog logger. --verbose enables debug
// output and --quiet limits it to warnings.
func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOut {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadValid(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose && cfg.File() != "" {
		slog.Debug("using config file", "path", cfg.File())
	}
	return cfg, nil
}
