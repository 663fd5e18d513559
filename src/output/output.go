// Package output renders command results for humans: framed sections, the
// build summary and requirement manifests.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sofmeright/stowage/src/build"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// UseColor returns true if colored output should be used.
// Respects NO_COLOR env, TERM=dumb, and terminal detection.
func UseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal() || IsCI()
}

// BuildInfo describes a finished build for the summary.
type BuildInfo struct {
	Stack    string
	Builder  string
	Registry string
	Commit   string
	Result   *build.Result
	Elapsed  time.Duration
	Err      error
}

// BuildSummary writes the build outcome as a framed section.
func BuildSummary(w io.Writer, info BuildInfo, color bool) {
	sec := NewSection(w, "Build", info.Elapsed, color)
	sec.KV("stack", info.Stack)
	sec.KV("builder", info.Builder)
	sec.KV("registry", info.Registry)
	sec.KV("commit", info.Commit)

	status := "success"
	switch {
	case info.Err != nil:
		status = "failed"
		sec.KV("error", info.Err.Error())
	case info.Result != nil:
		image := info.Result.Image
		if color {
			image = colorBold + image + colorReset
		}
		sec.KV("image", image)
		if info.Result.HasDockerfile() {
			sec.KV("dockerfile", fmt.Sprintf("%d instructions", countInstructions(info.Result.Dockerfile)))
		} else {
			sec.KV("dockerfile", Dimmed("none", color))
		}
		if info.Result.HasRequirements() {
			sec.KV("requirements", fmt.Sprintf("%d lines", countLines(info.Result.Requirements)))
		}
	}

	SummaryTotal(w, info.Elapsed, status, color)
	sec.Close()
}

// Manifests writes each requirement manifest as its own section.
func Manifests(w io.Writer, files []build.RequirementsFile, color bool) {
	if len(files) == 0 {
		fmt.Fprintln(w, Dimmed("no requirements", color))
		return
	}
	for _, f := range files {
		sec := NewSection(w, f.Name, 0, color)
		sec.Block(f.Content)
		sec.Close()
	}
}

func countInstructions(dockerfile string) int {
	n := 0
	for _, line := range strings.Split(dockerfile, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n
}

func countLines(text string) int {
	return len(strings.Split(strings.TrimRight(text, "\n"), "\n"))
}
