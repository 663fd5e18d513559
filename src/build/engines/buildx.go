package engines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sofmeright/stowage/src/build"
	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/log"
	"github.com/sofmeright/stowage/src/registry"
)

func init() {
	build.Register("buildx", func(cfg config.BuilderConfig) build.ImageBuilder {
		return NewBuildx(cfg)
	})
}

// Buildx wraps docker buildx commands. The builder instance may run on a
// remote node, so images are pushed straight from the builder and never
// assumed to be in the local daemon.
type Buildx struct {
	builder  string
	platform string

	// Command is the docker binary.
	Command string
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewBuildx creates a Buildx runner with default output writers.
func NewBuildx(cfg config.BuilderConfig) *Buildx {
	return &Buildx{
		builder:  cfg.Builder,
		platform: cfg.Platform,
		Command:  "docker",
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

func (bx *Buildx) Name() string { return "buildx" }

func (bx *Buildx) IsBuildingLocally() bool { return false }

// Build materializes bc in a temporary directory and builds it with
// docker buildx. With a registry the image is pushed by the builder and its
// repo digest returned; without one it is loaded into the local daemon.
func (bx *Buildx) Build(ctx context.Context, imageName string, bc *build.BuildContext, opts map[string]any, reg build.ContainerRegistry) (string, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return "", fmt.Errorf("buildx: %w", err)
	}
	if o.Platform == "" {
		o.Platform = bx.platform
	}
	// BuildKit leaves no intermediate containers behind.
	o.Remove = nil

	dir, err := os.MkdirTemp("", "stowage-context-")
	if err != nil {
		return "", fmt.Errorf("buildx: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := bc.WriteDir(dir); err != nil {
		return "", fmt.Errorf("buildx: writing build context: %w", err)
	}

	if err := bx.EnsureBuilder(ctx); err != nil {
		return "", err
	}

	args := bx.buildArgs(imageName, o, reg != nil, dir)
	log.Entry(ctx).Debugf("exec: %s %s", bx.Command, strings.Join(args, " "))

	var progress bytes.Buffer
	cmd := exec.CommandContext(ctx, bx.Command, args...)
	cmd.Stdout = bx.Stdout
	cmd.Stderr = io.MultiWriter(bx.Stderr, &progress)

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("buildx: docker buildx build failed: %w", err)
	}
	build.LogLayers(ctx, build.ParseProgress(progress.String()))

	if reg == nil {
		return imageName, nil
	}
	return bx.digest(ctx, imageName, reg)
}

// digest resolves the pushed image. The registry's own credentials are used
// when it is a *registry.Registry.
func (bx *Buildx) digest(ctx context.Context, imageName string, reg build.ContainerRegistry) (string, error) {
	if r, ok := reg.(*registry.Registry); ok {
		return r.Digest(ctx, imageName)
	}
	return registry.DigestReference(ctx, imageName, nil, false)
}

// buildArgs constructs the docker buildx build argument list.
func (bx *Buildx) buildArgs(imageName string, o buildOptions, push bool, contextDir string) []string {
	args := []string{"buildx", "build", "--progress=plain"}

	if bx.builder != "" {
		args = append(args, "--builder", bx.builder)
	}

	args = append(args, "--tag", imageName)
	args = append(args, o.flags()...)

	// Output mode
	if push {
		args = append(args, "--push")
	} else {
		args = append(args, "--load")
	}

	return append(args, contextDir)
}

// EnsureBuilder checks that the configured buildx builder exists and
// creates it if needed. Without a configured builder the current one is used.
func (bx *Buildx) EnsureBuilder(ctx context.Context) error {
	if bx.builder == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, bx.Command, "buildx", "inspect", bx.builder)
	if err := cmd.Run(); err != nil {
		log.Entry(ctx).Infof("Creating buildx builder `%s`.", bx.builder)
		create := exec.CommandContext(ctx, bx.Command, "buildx", "create", "--name", bx.builder)
		create.Stdout = bx.Stderr
		create.Stderr = bx.Stderr
		if createErr := create.Run(); createErr != nil {
			return fmt.Errorf("buildx: creating builder %s: %w", bx.builder, createErr)
		}
	}
	return nil
}
