package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orch/internal/assistant"
)

// newTerminalsCmd creates the terminals command
func newTerminalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "terminals",
		Short: "List the terminal emulators terminal-mode tasks can open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			terms := assistant.DetectTerminals()
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, terms)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tAVAILABLE")
			for _, t := range terms {
				avail := "no"
				if t.Available {
					avail = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, avail)
			}
			return w.Flush()
		},
	}
}
