package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sofmeright/stowage/src/build"
	"github.com/sofmeright/stowage/src/output"
)

var requirementsRaw bool

var requirementsCmd = &cobra.Command{
	Use:   "requirements",
	Short: "Print the requirement manifests",
	Long:  "Gather the requirement manifests of the pipeline image in install order without building anything.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sess, err := newSession(ctx, cfg)
		if err != nil {
			return err
		}

		files, err := sess.resolver.GatherRequirementsFiles(ctx, cfg.Docker, sess.stack, sess.codeRepository())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if requirementsRaw {
			if joined := build.JoinRequirements(files); joined != "" {
				fmt.Fprintln(w, joined)
			}
			return nil
		}
		output.Manifests(w, files, output.UseColor())
		return nil
	},
}

func init() {
	requirementsCmd.Flags().BoolVar(&imgDownloadFiles, "download-files", false, "include the code repository requirements")
	requirementsCmd.Flags().BoolVar(&requirementsRaw, "raw", false, "print all manifests joined, without framing")

	rootCmd.AddCommand(requirementsCmd)
}
