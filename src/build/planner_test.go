package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/security"
)

const defaultParent = "zenmldocker/zenml:0.40.0-py3.9"

func newPlanner(d *fakeDaemon) *Planner {
	p := &Planner{
		Resolver:           &RequirementResolver{Quiet: true},
		DefaultParentImage: defaultParent,
	}
	if d != nil {
		p.Daemon = d
	}
	return p
}

func TestRequiresBuild(t *testing.T) {
	tests := []struct {
		name string
		req  func(*BuildRequest)
		want bool
	}{
		{name: "nothing", req: func(*BuildRequest) {}, want: false},
		{name: "requirements list", req: func(r *BuildRequest) { r.Settings.Requirements.List = []string{"numpy"} }, want: true},
		{name: "requirements file", req: func(r *BuildRequest) { r.Settings.Requirements.Path = "requirements.txt" }, want: true},
		{name: "integrations", req: func(r *BuildRequest) { r.Settings.RequiredIntegrations = []string{"sklearn"} }, want: true},
		{name: "hub plugins", req: func(r *BuildRequest) { r.Settings.RequiredHubPlugins = []string{"p"} }, want: true},
		{name: "local environment", req: func(r *BuildRequest) {
			r.Settings.ReplicateLocalPythonEnvironment.Method = config.ExportPipFreeze
		}, want: true},
		{name: "stack requirements", req: func(r *BuildRequest) { r.Settings.InstallStackRequirements = true }, want: true},
		{name: "apt packages", req: func(r *BuildRequest) { r.Settings.AptPackages = []string{"git"} }, want: true},
		{name: "environment", req: func(r *BuildRequest) { r.Settings.Environment = map[string]string{"A": "1"} }, want: true},
		{name: "include files", req: func(r *BuildRequest) { r.IncludeFiles = true }, want: true},
		{name: "download files", req: func(r *BuildRequest) { r.DownloadFiles = true }, want: true},
		{name: "entrypoint", req: func(r *BuildRequest) { r.Entrypoint = "python run.py" }, want: true},
		{name: "extra files", req: func(r *BuildRequest) { r.ExtraFiles = []ContextFile{{Destination: "x", Source: "y"}} }, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := BuildRequest{Settings: settings()}
			tt.req(&req)
			assert.Equal(t, tt.want, req.RequiresBuild())
		})
	}
}

func TestTargetImageName(t *testing.T) {
	s := settings()
	s.TargetRepository = "pipelines"

	assert.Equal(t, "pipelines:train", TargetImageName(s, "train", nil))
	assert.Equal(t, "reg.example:5000/pipelines:train", TargetImageName(s, "train", &fakeRegistry{uri: "reg.example:5000"}))
}

func TestPlannerSkipBuild(t *testing.T) {
	builder := &fakeBuilder{local: true}
	stack := &fakeStack{name: "default", builder: builder}

	s := settings()
	s.SkipBuild = true
	s.ParentImage = "my/image:1"

	res, err := newPlanner(&fakeDaemon{}).Build(context.Background(), BuildRequest{Settings: s, Tag: "t", Stack: stack})
	require.NoError(t, err)
	assert.Equal(t, &Result{Image: "my/image:1"}, res)
	assert.Empty(t, builder.calls)

	s.ParentImage = ""
	_, err = newPlanner(&fakeDaemon{}).Build(context.Background(), BuildRequest{Settings: s, Tag: "t", Stack: stack})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestPlannerStackErrors(t *testing.T) {
	_, err := newPlanner(nil).Build(context.Background(), BuildRequest{
		Settings: settings(),
		Tag:      "t",
		Stack:    &fakeStack{name: "broken", validateErr: errors.New("component missing")},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = newPlanner(nil).Build(context.Background(), BuildRequest{
		Settings: settings(),
		Tag:      "t",
		Stack:    &fakeStack{name: "nobuilder"},
	})
	require.ErrorIs(t, err, ErrInfrastructure)
	assert.Contains(t, err.Error(), "`nobuilder`")
}

func TestPlannerInvalidTarget(t *testing.T) {
	s := settings()
	s.TargetRepository = "Not A Repo"

	_, err := newPlanner(nil).Build(context.Background(), BuildRequest{
		Settings: s,
		Tag:      "t",
		Stack:    &fakeStack{builder: &fakeBuilder{local: true}},
	})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestPlannerNothingToBuild(t *testing.T) {
	builder := &fakeBuilder{local: true}
	daemon := &fakeDaemon{}

	_, err := newPlanner(daemon).Build(context.Background(), BuildRequest{
		Settings: settings(),
		Tag:      "t",
		Stack:    &fakeStack{builder: builder},
	})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, builder.calls)
	assert.Empty(t, daemon.tagged)
}

func TestPlannerReuseParentImage(t *testing.T) {
	s := settings()
	s.ParentImage = "custom/base:2"

	t.Run("with registry", func(t *testing.T) {
		builder := &fakeBuilder{local: true}
		daemon := &fakeDaemon{}
		registry := &fakeRegistry{uri: "reg.example"}

		res, err := newPlanner(daemon).Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: builder, registry: registry},
		})
		require.NoError(t, err)

		assert.Equal(t, [][2]string{{"custom/base:2", "reg.example/stowage:t"}}, daemon.tagged)
		assert.Equal(t, []string{"reg.example/stowage:t"}, registry.pushed)
		assert.Equal(t, "reg.example/stowage:t@sha256:pushed", res.Image)
		assert.False(t, res.HasDockerfile())
		assert.False(t, res.HasRequirements())
		assert.Empty(t, builder.calls)
	})

	t.Run("without registry", func(t *testing.T) {
		daemon := &fakeDaemon{}

		res, err := newPlanner(daemon).Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: &fakeBuilder{local: true}},
		})
		require.NoError(t, err)
		assert.Len(t, daemon.tagged, 1)
		assert.Equal(t, "stowage:t", res.Image)
	})
}

func TestPlannerSynthesizeNumpy(t *testing.T) {
	builder := &fakeBuilder{local: true}
	s := settings()
	s.TargetRepository = "pipelines"
	s.Requirements = config.Requirements{List: []string{"numpy==1.24.0"}}

	p := newPlanner(&fakeDaemon{})
	p.SourceRoot = writeTree(t, map[string]string{"run.py": "print()"})

	res, err := p.Build(context.Background(), BuildRequest{
		Settings:     s,
		Tag:          "train",
		Stack:        &fakeStack{builder: builder},
		IncludeFiles: true,
	})
	require.NoError(t, err)

	require.Len(t, builder.calls, 1)
	call := builder.calls[0]
	assert.Equal(t, "pipelines:train", call.image)
	assert.Equal(t, map[string]any{"pull": false, "rm": false}, call.opts)
	assert.Nil(t, call.registry)
	assert.Equal(t, p.SourceRoot, call.context.Root())

	assert.Equal(t, 1, strings.Count(res.Dockerfile, "COPY .zenml_user_requirements ."))
	assert.Equal(t, 1, strings.Count(res.Dockerfile, "-r .zenml_user_requirements"))
	assert.True(t, strings.HasPrefix(res.Dockerfile, "FROM "+defaultParent+"\n"))
	assert.Equal(t, "numpy==1.24.0", res.Requirements)
	assert.Equal(t, "pipelines:train", res.Image)

	manifest, ok := call.context.File(UserRequirementsFile)
	require.True(t, ok)
	assert.Equal(t, "numpy==1.24.0", manifest)

	dockerfile, ok := call.context.File(DockerfileName)
	require.True(t, ok)
	assert.Equal(t, res.Dockerfile, dockerfile)
}

func TestPlannerSynthesizeStackAndExtras(t *testing.T) {
	builder := &fakeBuilder{local: true}
	registry := &fakeRegistry{uri: "reg.example"}
	stack := &fakeStack{
		name:     "prod",
		reqs:     []string{"kubernetes"},
		apt:      []string{"libpq-dev"},
		builder:  builder,
		registry: registry,
	}

	s := settings()
	s.InstallStackRequirements = true
	s.ParentImage = "custom/base:2"
	s.AptPackages = []string{"git"}

	daemon := &fakeDaemon{local: map[string]bool{"custom/base:2": true}}
	res, err := newPlanner(daemon).Build(context.Background(), BuildRequest{
		Settings:       s,
		Tag:            "t",
		Stack:          stack,
		DownloadFiles:  false,
		CodeRepository: fakeCode{reqs: []string{"boto3"}},
		ExtraFiles:     []ContextFile{{Destination: ".zenconfig/config.yaml", Source: "active_stack: prod", Literal: true}},
	})
	require.NoError(t, err)

	call := builder.calls[0]
	assert.Equal(t, "reg.example/stowage:t", call.image)
	assert.Same(t, registry, call.registry)
	assert.Equal(t, false, call.opts["pull"], "parent image present locally")
	assert.Equal(t, "", call.context.Root())

	// code repository requirements only count when code is downloaded
	assert.Equal(t, "kubernetes", res.Requirements)
	assert.Contains(t, res.Dockerfile, "--no-install-recommends 'git' 'libpq-dev'")
	assert.NotContains(t, res.Dockerfile, EnvRequiresCodeDownload)

	extra, ok := call.context.File(".zenconfig/config.yaml")
	require.True(t, ok)
	assert.Equal(t, "active_stack: prod", extra)
	assert.Equal(t, "reg.example/stowage:t@sha256:built", res.Image)
}

func TestPlannerCustomDockerfile(t *testing.T) {
	dir := t.TempDir()
	dockerfile := filepath.Join(dir, "Dockerfile.custom")
	require.NoError(t, os.WriteFile(dockerfile, []byte("FROM alpine:3.20\n"), 0o644))

	t.Run("used directly", func(t *testing.T) {
		builder := &fakeBuilder{local: true}
		registry := &fakeRegistry{uri: "reg.example"}

		s := settings()
		s.Dockerfile = dockerfile
		s.BuildContextRoot = dir
		s.BuildOptions = map[string]any{"target": "final"}

		res, err := newPlanner(&fakeDaemon{}).Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: builder, registry: registry},
		})
		require.NoError(t, err)

		require.Len(t, builder.calls, 1)
		call := builder.calls[0]
		assert.Equal(t, "reg.example/stowage:t", call.image)
		assert.Same(t, registry, call.registry, "nothing else to build, so the image is pushed")
		assert.Equal(t, s.BuildOptions, call.opts)
		assert.Equal(t, dir, call.context.Root())
		assert.False(t, res.HasDockerfile())
	})

	t.Run("intermediate on local builder", func(t *testing.T) {
		builder := &fakeBuilder{local: true}
		registry := &fakeRegistry{uri: "reg.example"}

		s := settings()
		s.Dockerfile = dockerfile
		s.Requirements = config.Requirements{List: []string{"numpy"}}

		daemon := &fakeDaemon{local: map[string]bool{"stowage:t-intermediate-build": true}}
		res, err := newPlanner(daemon).Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: builder, registry: registry},
		})
		require.NoError(t, err)

		require.Len(t, builder.calls, 2)
		assert.Equal(t, "stowage:t-intermediate-build", builder.calls[0].image)
		assert.Nil(t, builder.calls[0].registry)

		final := builder.calls[1]
		assert.Equal(t, "reg.example/stowage:t", final.image)
		assert.Equal(t, false, final.opts["pull"], "intermediate image is in the local daemon")
		assert.True(t, strings.HasPrefix(res.Dockerfile, "FROM stowage:t-intermediate-build\n"))
	})

	t.Run("intermediate on remote builder", func(t *testing.T) {
		builder := &fakeBuilder{local: false}
		registry := &fakeRegistry{uri: "reg.example"}

		s := settings()
		s.Dockerfile = dockerfile
		s.Environment = map[string]string{"mode": "prod"}

		res, err := newPlanner(nil).Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: builder, registry: registry},
		})
		require.NoError(t, err)

		require.Len(t, builder.calls, 2)
		assert.Equal(t, "reg.example/stowage:t-intermediate-build", builder.calls[0].image)
		assert.Same(t, registry, builder.calls[0].registry)
		assert.True(t, strings.HasPrefix(res.Dockerfile, "FROM reg.example/stowage:t-intermediate-build\n"))
		assert.Equal(t, true, builder.calls[1].opts["pull"])
	})

	t.Run("intermediate without registry", func(t *testing.T) {
		builder := &fakeBuilder{local: true}

		s := settings()
		s.Dockerfile = dockerfile
		s.AptPackages = []string{"git"}

		_, err := newPlanner(&fakeDaemon{}).Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: builder},
		})
		require.NoError(t, err)
		assert.Equal(t, false, builder.calls[1].opts["pull"])
	})

	t.Run("no FROM", func(t *testing.T) {
		bad := filepath.Join(dir, "Dockerfile.bad")
		require.NoError(t, os.WriteFile(bad, []byte("RUN true\n"), 0o644))

		builder := &fakeBuilder{local: true}
		s := settings()
		s.Dockerfile = bad

		_, err := newPlanner(nil).Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: builder},
		})
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Empty(t, builder.calls)
	})
}

func TestPlannerBackendError(t *testing.T) {
	builder := &fakeBuilder{local: true, err: errors.New("daemon unreachable")}
	s := settings()
	s.AptPackages = []string{"git"}

	_, err := newPlanner(nil).Build(context.Background(), BuildRequest{
		Settings: s,
		Tag:      "t",
		Stack:    &fakeStack{builder: builder},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unreachable")
}

type recordingScanner struct{ scanned []string }

func (s *recordingScanner) Scan(name, _ string) ([]security.Finding, error) {
	s.scanned = append(s.scanned, name)
	return []security.Finding{{File: name, Line: 1, RuleID: "test", Message: "found"}}, nil
}

func TestPlannerScansContext(t *testing.T) {
	scanner := &recordingScanner{}
	s := settings()
	s.Environment = map[string]string{"token": "x"}

	p := newPlanner(nil)
	p.Secrets = scanner

	_, err := p.Build(context.Background(), BuildRequest{
		Settings: s,
		Tag:      "t",
		Stack:    &fakeStack{builder: &fakeBuilder{local: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{DockerfileName}, scanner.scanned)
}

type failingScanner struct {
	fail    string
	scanned []string
}

func (s *failingScanner) Scan(name, _ string) ([]security.Finding, error) {
	s.scanned = append(s.scanned, name)
	if name == s.fail {
		return nil, errors.New("unreadable")
	}
	return nil, nil
}

func TestScanSecretsContinuesAfterError(t *testing.T) {
	bc := NewBuildContext("", "")
	bc.AddContent("FROM scratch", DockerfileName)
	bc.AddContent("numpy", "requirements.txt")
	bc.AddContent("token", ".env")

	scanner := &failingScanner{fail: DockerfileName}
	p := newPlanner(nil)
	p.Secrets = scanner
	p.scanSecrets(context.Background(), bc)

	assert.Equal(t, []string{DockerfileName, "requirements.txt", ".env"}, scanner.scanned)
}

func TestPlannerDryRun(t *testing.T) {
	t.Run("generated image", func(t *testing.T) {
		builder := &fakeBuilder{local: true}
		s := settings()
		s.Requirements = config.Requirements{List: []string{"numpy"}}

		p := newPlanner(&fakeDaemon{})
		p.DryRun = true

		res, err := p.Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: builder, registry: &fakeRegistry{uri: "reg.example"}},
		})
		require.NoError(t, err)
		assert.Empty(t, builder.calls)
		assert.Equal(t, "reg.example/stowage:t", res.Image)
		assert.True(t, res.HasDockerfile())
		assert.Equal(t, "numpy", res.Requirements)
	})

	t.Run("reused parent", func(t *testing.T) {
		daemon := &fakeDaemon{}
		registry := &fakeRegistry{uri: "reg.example"}
		s := settings()
		s.ParentImage = "custom/base:2"

		p := newPlanner(daemon)
		p.DryRun = true

		res, err := p.Build(context.Background(), BuildRequest{
			Settings: s,
			Tag:      "t",
			Stack:    &fakeStack{builder: &fakeBuilder{local: true}, registry: registry},
		})
		require.NoError(t, err)
		assert.Empty(t, daemon.tagged)
		assert.Empty(t, registry.pushed)
		assert.Equal(t, "reg.example/stowage:t", res.Image)
	})
}
