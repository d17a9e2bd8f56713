package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orch/internal/config"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"
)

type createOptions struct {
	path     string
	source   string
	title    string
	body     string
	url      string
	pr       int
	issue    int
	workItem int
	branch   string
	base     string
	terminal bool
}

// newCreateCmd creates the create command
func newCreateCmd() *cobra.Command {
	var opts createOptions

	cmd := &cobra.Command{
		Use:   "create <type> <repo>",
		Short: "Queue a task by hand",
		Long: fmt.Sprintf(`Queue a task by hand. A running server picks it up on its next poll.

Types: %s

The repository's working tree comes from --path, or from the repository
mapping when --path is not given.`, typeList()),
		Example: `  orch create pr-review acme/widgets --pr 42
  orch create issue-fix acme/widgets --issue 7 --title "Crash on empty input"
  orch create docs acme/widgets --path ~/src/widgets --title "Document the CLI"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := task.ParseType(args[0])
			if err != nil {
				return err
			}
			repo := strings.TrimSpace(args[1])
			if repo == "" {
				return orcherrors.ErrInvalidRequest("repo is required")
			}
			var source task.Source
			if opts.source != "" {
				source, err = parseSource(opts.source)
				if err != nil {
					return err
				}
			}

			return withBackend(func(ctx context.Context, cfg *config.Config, b storage.Backend) error {
				repoPath := opts.path
				if repoPath == "" {
					reg := newRegistry(cfg, slog.Default())
					if err := reg.Refresh(ctx); err != nil {
						slog.Warn("repository scan failed", "base_dir", cfg.Repos.BaseDir, "error", err)
					}
					repoPath = reg.Resolve(repo)
				} else if abs, err := filepath.Abs(repoPath); err == nil {
					repoPath = abs
				}

				t, err := b.CreateTask(ctx, typ, repo, repoPath, opts.context(source))
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), t)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created task %d (%s on %s)\n", t.ID, t.Type, t.Repo)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.path, "path", "", "working tree of the repository")
	f.StringVar(&opts.source, "source", "", "provider the task reports to (github, gitlab, ado, manual)")
	f.StringVar(&opts.title, "title", "", "task title")
	f.StringVar(&opts.body, "body", "", "task description")
	f.StringVar(&opts.url, "url", "", "link to the PR, issue or work item")
	f.IntVar(&opts.pr, "pr", 0, "pull request number")
	f.IntVar(&opts.issue, "issue", 0, "issue number")
	f.IntVar(&opts.workItem, "work-item", 0, "Azure DevOps work item ID")
	f.StringVar(&opts.branch, "branch", "", "branch to work on")
	f.StringVar(&opts.base, "base", "", "base branch")
	f.BoolVar(&opts.terminal, "terminal", false, "run the task in a visible terminal window")
	return cmd
}

func (o createOptions) context(source task.Source) task.Context {
	if source == "" {
		source = task.SourceManual
	}
	return task.Context{
		Source:       source,
		Event:        "manual.create",
		PRNumber:     o.pr,
		IssueNumber:  o.issue,
		WorkItemID:   o.workItem,
		Branch:       o.branch,
		BaseBranch:   o.base,
		Title:        o.title,
		Body:         o.body,
		URL:          o.url,
		TerminalMode: o.terminal,
	}
}

func parseSource(s string) (task.Source, error) {
	switch src := task.Source(strings.ToLower(s)); src {
	case task.SourceGitHub, task.SourceGitLab, task.SourceADO, task.SourceManual:
		return src, nil
	}
	return "", orcherrors.ErrInvalidRequest(fmt.Sprintf(
		"invalid source %q (want %s, %s, %s or %s)", s,
		hosting.ProviderGitHub, hosting.ProviderGitLab, hosting.ProviderADO, task.SourceManual))
}

func typeList() string {
	names := make([]string, 0, len(task.AllTypes()))
	for _, t := range task.AllTypes() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
