package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sofmeright/stowage/src/integration"
)

var integrationsPlatform string

var integrationsCmd = &cobra.Command{
	Use:   "integrations",
	Short: "List known integrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := integration.Load(cfg.IntegrationsFile)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tREQUIREMENTS\tAPT PACKAGES")
		for _, name := range catalog.Names() {
			in, _ := catalog.Get(name)
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name,
				strings.Join(in.RequirementsFor(integrationsPlatform), " "),
				strings.Join(in.AptPackages, " "))
		}
		return tw.Flush()
	},
}

func init() {
	integrationsCmd.Flags().StringVar(&integrationsPlatform, "platform", "linux", "platform requirements are selected for")
	rootCmd.AddCommand(integrationsCmd)
}
