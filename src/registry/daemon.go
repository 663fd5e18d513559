package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/sofmeright/stowage/src/log"
)

// docker runs docker CLI commands.
type docker interface {
	run(ctx context.Context, stdin io.Reader, args ...string) (string, error)
}

// cli is the docker binary on PATH.
type cli struct{}

func (cli) run(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	log.Entry(ctx).Debugf("exec: docker %s", redactArgs(args))

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// redactArgs hides the value following --username.
func redactArgs(args []string) string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--username" {
			out[i+1] = "***"
		}
	}
	return strings.Join(out, " ")
}

// Daemon is the local Docker daemon, driven through the docker CLI.
type Daemon struct {
	docker docker
}

// NewDaemon returns a daemon using the docker binary on PATH.
func NewDaemon() *Daemon {
	return &Daemon{docker: cli{}}
}

// Tag adds target as a tag of source.
func (d *Daemon) Tag(ctx context.Context, source, target string) error {
	if _, err := d.docker.run(ctx, nil, "tag", source, target); err != nil {
		return fmt.Errorf("local: tagging %s as %s: %w", source, target, err)
	}
	return nil
}

// ImageExists reports whether ref is present in the local image store.
// Errors count as absent.
func (d *Daemon) ImageExists(ctx context.Context, ref string) bool {
	_, err := d.docker.run(ctx, nil, "image", "inspect", "--format", "{{.Id}}", ref)
	return err == nil
}
