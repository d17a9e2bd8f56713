package cli

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/project"
)

// repoEntry is one row of the repos listing.
type repoEntry struct {
	FullName string `json:"fullName"`
	Path     string `json:"path"`
	Provider string `json:"provider"`
	Origin   string `json:"origin"`
}

// newReposCmd creates the repos command
func newReposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Show which repositories map to local checkouts",
		Long: `Show which repositories map to local checkouts. Entries come from
repos.mapping and, with repos.auto_scan, from the origin remotes of the git
checkouts directly under repos.base_dir. The mapping wins on conflicts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := newRegistry(cfg, nil)
			if err := reg.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("scan %s: %w", reg.BaseDir(), err)
			}

			entries := repoEntries(reg, cfg.Repos.Mapping)
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "No repositories mapped under %s.\n", reg.BaseDir())
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REPO\tPROVIDER\tORIGIN\tPATH")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.FullName, e.Provider, e.Origin, e.Path)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(newReposCloneCmd())
	return cmd
}

func repoEntries(reg *project.Registry, manual map[string]string) []repoEntry {
	mapping := reg.Mapping()
	entries := make([]repoEntry, 0, len(mapping))
	for _, name := range reg.Names() {
		origin := "scan"
		if _, ok := manual[name]; ok {
			origin = "config"
		}
		p, _ := reg.Lookup(name)
		entries = append(entries, repoEntry{
			FullName: name,
			Path:     p,
			Provider: string(reg.Provider(name)),
			Origin:   origin,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FullName < entries[j].FullName })
	return entries
}

func newReposCloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <url> [name]",
		Short: "Clone a repository into the base directory",
		Long: `Clone a repository into repos.base_dir. The folder name defaults to the
last segment of the URL without .git.`,
		Example: `  orch repos clone https://github.com/acme/widgets.git
  orch repos clone https://github.com/acme/widgets.git widgets-ci`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := cloneTarget(args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := newRegistry(cfg, nil)
			dir := filepath.Join(reg.BaseDir(), name)

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Cloning %s into %s\n", args[0], dir)
			}
			if err := git.Clone(cmd.Context(), args[0], dir); err != nil {
				return err
			}
			if err := reg.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("scan after clone: %w", err)
			}
			for _, r := range reg.Scanned() {
				if r.LocalName == name && r.Known() && !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "Mapped %s to %s\n", r.FullName, r.LocalPath)
				}
			}
			return nil
		},
	}
}

// cloneTarget validates the clone URL and picks the folder name.
func cloneTarget(args []string) (string, error) {
	u, err := url.Parse(args[0])
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "git" && u.Scheme != "ssh") {
		return "", orcherrors.ErrInvalidRequest(fmt.Sprintf("invalid clone URL %q", args[0]))
	}
	name := strings.TrimSuffix(path.Base(strings.TrimSuffix(u.Path, "/")), ".git")
	if len(args) > 1 {
		name = args[1]
	}
	if name == "" || name == "." || name == "/" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", orcherrors.ErrInvalidRequest(fmt.Sprintf("invalid target name %q", name))
	}
	return name, nil
}
