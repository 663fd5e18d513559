package build

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDockerfile(t *testing.T) {
	src := `# syntax=docker/dockerfile:1
ARG PYTHON=3.11
FROM --platform=$BUILDPLATFORM python:${PYTHON}-slim AS deps
RUN pip install numpy

from deps as final
USER app
ENTRYPOINT ["python", "main.py"]
`
	info, err := ParseDockerfile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseDockerfile: %v", err)
	}

	if len(info.Stages) != 2 {
		t.Fatalf("got %d stages, want 2", len(info.Stages))
	}
	if got := info.Stages[0]; got.BaseImage != "python:${PYTHON}-slim" || got.Name != "deps" || got.Line != 3 {
		t.Errorf("stage 0 = %+v", got)
	}
	if got := info.BaseImage(); got != "deps" {
		t.Errorf("BaseImage() = %q, want deps", got)
	}
	if info.User != "app" {
		t.Errorf("User = %q, want app", info.User)
	}
	if info.Entrypoint != `["python", "main.py"]` {
		t.Errorf("Entrypoint = %q", info.Entrypoint)
	}
}

func TestCheckDockerfile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "Dockerfile.good")
	if err := os.WriteFile(good, []byte("FROM alpine:3.20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "Dockerfile.empty")
	if err := os.WriteFile(empty, []byte("# nothing here\nRUN true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if info, err := checkDockerfile(good); err != nil {
		t.Errorf("checkDockerfile(good): %v", err)
	} else if got := info.BaseImage(); got != "alpine:3.20" {
		t.Errorf("BaseImage() = %q, want alpine:3.20", got)
	}
	for _, p := range []string{empty, filepath.Join(dir, "missing")} {
		if _, err := checkDockerfile(p); err == nil {
			t.Errorf("checkDockerfile(%s) succeeded, want error", filepath.Base(p))
		}
	}
}

func TestLayeringWarnings(t *testing.T) {
	tests := []struct {
		name       string
		info       DockerfileInfo
		entrypoint string
		want       []string
	}{
		{name: "root user", info: DockerfileInfo{User: "root"}},
		{name: "root uid with group", info: DockerfileInfo{User: "0:0"}},
		{name: "no user", info: DockerfileInfo{}},
		{name: "entrypoint kept", info: DockerfileInfo{Entrypoint: `["serve"]`}},
		{
			name: "non-root user",
			info: DockerfileInfo{User: "app"},
			want: []string{"switches to user `app`"},
		},
		{
			name:       "entrypoint replaced",
			info:       DockerfileInfo{User: "1000", Entrypoint: `["serve"]`},
			entrypoint: `["python", "run.py"]`,
			want:       []string{"switches to user `1000`", `ENTRYPOINT ["serve"] is replaced`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.LayeringWarnings(tt.entrypoint)
			if len(got) != len(tt.want) {
				t.Fatalf("LayeringWarnings() = %q, want %d warnings", got, len(tt.want))
			}
			for i, w := range tt.want {
				if !strings.Contains(got[i], w) {
					t.Errorf("warning %d = %q, want it to contain %q", i, got[i], w)
				}
			}
		})
	}
}
