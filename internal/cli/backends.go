package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecswitch"
)

func newBackendsCommand(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List backend names and the engine each resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			features := vecswitch.Detect()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENGINE\tFALLBACK")
			for _, name := range vecswitch.Aliases() {
				r := vecswitch.Lookup(name, features)
				fmt.Fprintf(w, "%s\t%s\t%t\n", name, r.Engine, r.Fallback)
			}
			return w.Flush()
		},
	}
}
