package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/stowage/src/build"
	"github.com/sofmeright/stowage/src/output"
)

var buildDryRun bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the pipeline image",
	Long: `Build the pipeline image described by the docker settings.

Gathers requirements, generates the Dockerfile and builds it with the stack's
image builder. The image is pushed when the stack has a container registry.`,
	RunE: runBuild,
}

func init() {
	addImageFlags(buildCmd)
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "generate the Dockerfile and requirements without building")

	rootCmd.AddCommand(buildCmd)
}

// addImageFlags registers the flags describing the image contents.
func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&imgTag, "tag", "latest", "tag of the target image")
	cmd.Flags().BoolVar(&imgIncludeFiles, "include-files", false, "copy the source root into the image")
	cmd.Flags().BoolVar(&imgDownloadFiles, "download-files", false, "download code from the git repository at runtime")
	cmd.Flags().StringVar(&imgEntrypoint, "entrypoint", "", "ENTRYPOINT of the image, verbatim")
	cmd.Flags().StringArrayVar(&imgExtraFiles, "extra-file", nil, "extra build context file as <destination>=<content> or <destination>=@<path>")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w := cmd.OutOrStdout()
	color := output.UseColor()
	start := time.Now()

	sess, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}
	sess.planner.DryRun = buildDryRun

	req, err := sess.request(ctx, cfg.Docker)
	if err != nil {
		return err
	}

	info := output.BuildInfo{Stack: sess.stack.Name()}
	if b := sess.stack.ImageBuilder(); b != nil {
		info.Builder = b.Name()
	}
	if r := sess.stack.ContainerRegistry(); r != nil {
		info.Registry = r.URI()
	}
	if req.CodeRepository != nil {
		if commit, err := sess.code.Commit(); err == nil {
			info.Commit = shortSHA(commit)
		}
	}

	output.SectionStart(w, "stowage_build", "Build")
	res, err := sess.planner.Build(ctx, req)
	output.SectionEnd(w, "stowage_build")

	info.Result = res
	info.Err = err
	info.Elapsed = time.Since(start)
	output.BuildSummary(w, info, color)

	if err != nil {
		return fmt.Errorf("build failed (%s): %w", errorClass(err), err)
	}

	// CI logs keep the generated Dockerfile, folded away.
	if res.HasDockerfile() && (buildDryRun || output.IsCI()) {
		output.SectionStartCollapsed(w, "stowage_dockerfile", build.DockerfileName)
		sec := output.NewSection(w, build.DockerfileName, 0, color)
		sec.Block(res.Dockerfile)
		sec.Close()
		output.SectionEnd(w, "stowage_dockerfile")
	}
	return nil
}

// errorClass names the failure class for the final error line.
func errorClass(err error) string {
	switch {
	case errors.Is(err, build.ErrConfiguration):
		return "configuration"
	case errors.Is(err, build.ErrValidation):
		return "validation"
	case errors.Is(err, build.ErrResolution):
		return "resolution"
	case errors.Is(err, build.ErrInfrastructure):
		return "infrastructure"
	default:
		return "build"
	}
}
