package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/orch/internal/config"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/project"
	"github.com/randalmurphal/orch/internal/util"
)

// newConfigCmd creates the config command
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials masked",
		Long: `Print the effective configuration: defaults, then the config file, then
legacy environment variables, then ORCH_ environment variables. Tokens,
secrets and database passwords are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			data, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			if jsonOut {
				// Round-trip through YAML so the keys match the file format.
				var doc map[string]any
				if err := yaml.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("render config: %w", err)
				}
				return printJSON(out, map[string]any{"file": cfg.File(), "config": doc})
			}

			source := cfg.File()
			if source == "" {
				source = "(none, defaults and environment only)"
			}
			fmt.Fprintf(out, "# config file: %s\n%s", source, data)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nConfiguration is not valid:\n%v\n", err)
			}
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := project.LocalDir
			if global {
				var err error
				if dir, err = project.GlobalPath(); err != nil {
					return err
				}
			}
			path := filepath.Join(dir, config.FileName)
			if cfgFile != "" {
				path = cfgFile
			}

			data, err := config.Default().YAML()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			if err := project.EnsureDataDir(path); err != nil {
				return err
			}
			if err := util.WriteFileNew(path, data, 0o600); err != nil {
				if errors.Is(err, util.ErrExists) {
					return &orcherrors.OrchError{
						Code: orcherrors.CodeConfigInvalid,
						What: fmt.Sprintf("%s already exists", path),
						Fix:  "Edit the existing file, or remove it and run orch config init again",
					}
				}
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write ~/.orch/config.yaml instead of .orch/config.yaml")
	return cmd
}
