package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var dockerfileCmd = &cobra.Command{
	Use:   "dockerfile",
	Short: "Print the generated Dockerfile",
	Long: `Print the Dockerfile the build command would generate.

Nothing is built, tagged or pushed. Prints nothing when the settings reuse
the parent image or the user Dockerfile as is.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sess, err := newSession(ctx, cfg)
		if err != nil {
			return err
		}
		sess.planner.DryRun = true

		req, err := sess.request(ctx, cfg.Docker)
		if err != nil {
			return err
		}
		res, err := sess.planner.Build(ctx, req)
		if err != nil {
			return err
		}
		if res.HasDockerfile() {
			fmt.Fprintln(cmd.OutOrStdout(), res.Dockerfile)
		}
		return nil
	},
}

func init() {
	addImageFlags(dockerfileCmd)
	rootCmd.AddCommand(dockerfileCmd)
}
