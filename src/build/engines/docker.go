package engines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sofmeright/stowage/src/build"
	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/log"
)

func init() {
	build.Register("docker", func(cfg config.BuilderConfig) build.ImageBuilder {
		return NewDocker(cfg)
	})
}

// Docker builds images with the local Docker daemon. The build context is
// streamed to `docker build -` as a tar archive.
type Docker struct {
	platform string

	// Command is the docker binary.
	Command string
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewDocker creates a local builder with default output writers.
func NewDocker(cfg config.BuilderConfig) *Docker {
	return &Docker{
		platform: cfg.Platform,
		Command:  "docker",
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

func (d *Docker) Name() string { return "docker" }

func (d *Docker) IsBuildingLocally() bool { return true }

// Build builds bc into imageName and pushes it to reg when set.
func (d *Docker) Build(ctx context.Context, imageName string, bc *build.BuildContext, opts map[string]any, reg build.ContainerRegistry) (string, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return "", fmt.Errorf("docker: %w", err)
	}
	if o.Platform == "" {
		o.Platform = d.platform
	}

	args := d.buildArgs(imageName, o)
	log.Entry(ctx).Debugf("exec: %s %s", d.Command, strings.Join(args, " "))

	pr, pw := io.Pipe()
	var progress bytes.Buffer

	g, gctx := errgroup.WithContext(ctx)
	cmd := exec.CommandContext(gctx, d.Command, args...)
	cmd.Stdin = pr
	cmd.Stdout = d.Stdout
	cmd.Stderr = io.MultiWriter(d.Stderr, &progress)

	g.Go(func() error {
		err := bc.WriteTar(pw)
		pw.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("writing build context: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := cmd.Run()
		// unblock the tar writer if docker exited before reading everything
		pr.Close()
		if err != nil {
			return fmt.Errorf("docker build failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("docker: %w", err)
	}

	build.LogLayers(ctx, build.ParseProgress(progress.String()))

	if reg == nil {
		return imageName, nil
	}
	return reg.Push(ctx, imageName)
}

// buildArgs constructs the docker build argument list. The context is read
// from stdin.
func (d *Docker) buildArgs(imageName string, o buildOptions) []string {
	args := []string{"build", "--progress=plain", "--tag", imageName}
	args = append(args, o.flags()...)
	return append(args, "-")
}
