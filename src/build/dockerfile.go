package build

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var (
	// FROM [--platform=...] <image> [AS <name>]
	fromRe = regexp.MustCompile(`(?i)^FROM\s+(?:--platform=\S+\s+)?(\S+)(?:\s+AS\s+(\S+))?`)
	// USER <name>
	userRe = regexp.MustCompile(`(?i)^USER\s+(\S+)`)
	// ENTRYPOINT ...
	entrypointRe = regexp.MustCompile(`(?i)^ENTRYPOINT\s+(.+)`)
)

// DockerfileInfo summarizes a Dockerfile.
type DockerfileInfo struct {
	Stages     []Stage
	User       string // last USER instruction
	Entrypoint string // last ENTRYPOINT instruction
}

// Stage describes a single FROM stage in a Dockerfile.
type Stage struct {
	Name      string // alias from "AS name", empty if unnamed
	BaseImage string // the FROM image reference
	Line      int    // line number of the FROM instruction
}

// BaseImage returns the base image of the final stage.
func (d *DockerfileInfo) BaseImage() string {
	if len(d.Stages) == 0 {
		return ""
	}
	return d.Stages[len(d.Stages)-1].BaseImage
}

// ParseDockerfileFile parses the Dockerfile at path.
func ParseDockerfileFile(path string) (*DockerfileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseDockerfile(f)
}

// ParseDockerfile extracts stage, user and entrypoint info.
// This is a regex-based parser, not a full AST. Line continuations are not
// joined.
func ParseDockerfile(r io.Reader) (*DockerfileInfo, error) {
	info := &DockerfileInfo{}
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := fromRe.FindStringSubmatch(line); m != nil {
			info.Stages = append(info.Stages, Stage{BaseImage: m[1], Name: m[2], Line: lineNum})
			continue
		}
		if m := userRe.FindStringSubmatch(line); m != nil {
			info.User = m[1]
			continue
		}
		if m := entrypointRe.FindStringSubmatch(line); m != nil {
			info.Entrypoint = m[1]
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return info, nil
}

// LayeringWarnings lists problems with building generated layers on top of
// the image of a user Dockerfile. entrypoint is the generated ENTRYPOINT.
func (d *DockerfileInfo) LayeringWarnings(entrypoint string) []string {
	var warnings []string
	if d.User != "" && d.User != "root" && d.User != "0" && !strings.HasPrefix(d.User, "0:") && !strings.HasPrefix(d.User, "root:") {
		warnings = append(warnings, fmt.Sprintf("The Dockerfile switches to user `%s`. The generated layers install packages and change file permissions on top of it, which usually needs root.", d.User))
	}
	if d.Entrypoint != "" && entrypoint != "" {
		warnings = append(warnings, fmt.Sprintf("The Dockerfile ENTRYPOINT %s is replaced by the generated one.", d.Entrypoint))
	}
	return warnings
}
