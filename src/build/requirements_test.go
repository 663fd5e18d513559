package build

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/stowage/src/config"
)

func settings() config.DockerSettings {
	s := config.DefaultDockerSettings()
	s.InstallStackRequirements = false
	return s
}

func TestGatherRequirementsFilesOrder(t *testing.T) {
	s := settings()
	s.ReplicateLocalPythonEnvironment = config.EnvironmentExport{Method: config.ExportPipFreeze}
	s.Requirements = config.Requirements{List: []string{"numpy==1.24.0", "pandas"}}
	s.RequiredIntegrations = []string{"sklearn"}
	s.RequiredHubPlugins = []string{"alice/loader==0.1.0"}

	var ran string
	r := &RequirementResolver{
		Integrations: fakeIntegrations{"sklearn": {"scikit-learn>1.0"}},
		Plugins: fakePlugins{"alice/loader==0.1.0": {
			IndexURL:     "https://index.example/simple",
			PackageName:  "loader-pkg",
			Requirements: []string{"requests"},
		}},
		Export: func(_ context.Context, command string) (string, error) {
			ran = command
			return "click==8.1.3\n", nil
		},
		Quiet: true,
	}

	files, err := r.GatherRequirementsFiles(context.Background(), s, nil, nil)
	require.NoError(t, err)

	want := []RequirementsFile{
		{Name: LocalRequirementsFile, Content: "click==8.1.3\n"},
		{Name: UserRequirementsFile, Content: "numpy==1.24.0\npandas"},
		{Name: IntegrationRequirementsFile, Content: "scikit-learn>1.0"},
		{Name: HubInternalRequirementsFile + "_0", Content: "-i https://index.example/simple\nloader-pkg", Options: []string{"--no-deps"}},
		{Name: HubPyPIRequirementsFile, Content: "requests"},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("manifests mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "pip freeze --exclude-editable", ran)
}

func TestGatherRequirementsFilesDeterministic(t *testing.T) {
	s := settings()
	s.InstallStackRequirements = true
	s.RequiredIntegrations = []string{"b", "a"}

	r := &RequirementResolver{
		Integrations: fakeIntegrations{"a": {"zeta", "alpha"}, "b": {"alpha", "mid"}},
		Quiet:        true,
	}
	stack := &fakeStack{reqs: []string{"kubernetes", "alpha"}}
	code := fakeCode{reqs: []string{"boto3"}}

	first, err := r.GatherRequirementsFiles(context.Background(), s, stack, code)
	require.NoError(t, err)

	s.RequiredIntegrations = []string{"a", "b"}
	second, err := r.GatherRequirementsFiles(context.Background(), s, stack, code)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, "alpha\nboto3\nkubernetes\nmid\nzeta", first[0].Content)
	assert.Equal(t, first, second)
}

func TestGatherRequirementsFilesStackRequirementsNeedInstallFlag(t *testing.T) {
	r := &RequirementResolver{Quiet: true}
	stack := &fakeStack{reqs: []string{"kubernetes"}}

	files, err := r.GatherRequirementsFiles(context.Background(), settings(), stack, fakeCode{reqs: []string{"boto3"}})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestGatherRequirementsFilesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte("torch\n"), 0o644))

	s := settings()
	s.Requirements = config.Requirements{Path: path}

	files, err := (&RequirementResolver{Quiet: true}).GatherRequirementsFiles(context.Background(), s, nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, UserRequirementsFile, files[0].Name)
	assert.Equal(t, "torch\n", files[0].Content)
}

func TestGatherRequirementsFilesErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings func(*config.DockerSettings)
		resolver *RequirementResolver
		target   error
	}{
		{
			name: "missing requirements file",
			settings: func(s *config.DockerSettings) {
				s.Requirements = config.Requirements{Path: filepath.Join(t.TempDir(), "nope.txt")}
			},
			resolver: &RequirementResolver{},
			target:   fs.ErrNotExist,
		},
		{
			name: "export failure",
			settings: func(s *config.DockerSettings) {
				s.ReplicateLocalPythonEnvironment = config.EnvironmentExport{Method: config.ExportPoetryExport}
			},
			resolver: &RequirementResolver{Export: func(context.Context, string) (string, error) {
				return "", errors.New("exit status 1")
			}},
			target: ErrResolution,
		},
		{
			name: "unknown integration",
			settings: func(s *config.DockerSettings) {
				s.RequiredIntegrations = []string{"nope"}
			},
			resolver: &RequirementResolver{Integrations: fakeIntegrations{}},
			target:   ErrResolution,
		},
		{
			name: "no integration registry",
			settings: func(s *config.DockerSettings) {
				s.RequiredIntegrations = []string{"sklearn"}
			},
			resolver: &RequirementResolver{},
			target:   ErrResolution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings()
			tt.settings(&s)
			tt.resolver.Quiet = true

			_, err := tt.resolver.GatherRequirementsFiles(context.Background(), s, nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrResolution)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestHubRequirementsGroupByIndex(t *testing.T) {
	s := settings()
	s.RequiredHubPlugins = []string{"first", "second==1.2.0", "other"}

	r := &RequirementResolver{
		Plugins: fakePlugins{
			"first":         {IndexURL: "https://a.example/simple", PackageName: "first-pkg", Requirements: []string{"requests", "numpy"}},
			"second==1.2.0": {IndexURL: "https://a.example/simple", PackageName: "second-pkg", Requirements: []string{"numpy"}},
			"other":         {IndexURL: "https://b.example/simple", PackageName: "other-pkg"},
		},
		Quiet: true,
	}

	files, err := r.GatherRequirementsFiles(context.Background(), s, nil, nil)
	require.NoError(t, err)

	want := []RequirementsFile{
		{Name: HubInternalRequirementsFile + "_0", Content: "-i https://a.example/simple\nfirst-pkg\nsecond-pkg", Options: []string{"--no-deps"}},
		{Name: HubInternalRequirementsFile + "_1", Content: "-i https://b.example/simple\nother-pkg", Options: []string{"--no-deps"}},
		{Name: HubPyPIRequirementsFile, Content: "numpy\nrequests"},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("manifests mismatch (-want +got):\n%s", diff)
	}
}

func TestHubRequirementsSkipUnresolvable(t *testing.T) {
	s := settings()
	s.RequiredHubPlugins = []string{"broken", "missing", "bad==not-a-version", "ok"}

	r := &RequirementResolver{
		Plugins: fakePlugins{"ok": {IndexURL: "https://a.example/simple", PackageName: "ok-pkg"}},
		Quiet:   true,
	}

	files, err := r.GatherRequirementsFiles(context.Background(), s, nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "-i https://a.example/simple\nok-pkg", files[0].Content)
}

func TestJoinRequirements(t *testing.T) {
	assert.Equal(t, "", JoinRequirements(nil))
	assert.Equal(t, "a\nb\nc", JoinRequirements([]RequirementsFile{{Content: "a"}, {Content: "b\nc"}}))
}
