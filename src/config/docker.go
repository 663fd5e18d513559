package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DockerSettings describes the contents of a pipeline image.
type DockerSettings struct {
	// SkipBuild reuses ParentImage verbatim. Requires ParentImage.
	SkipBuild bool `yaml:"skip_build"`

	// ParentImage is the base image. Empty = the default framework image.
	ParentImage string `yaml:"parent_image"`

	// Dockerfile is a user Dockerfile built before (or instead of) the
	// generated one.
	Dockerfile string `yaml:"dockerfile"`

	// TargetRepository is the repository name of the produced image.
	TargetRepository string `yaml:"target_repository"`

	// Requirements is either a requirements file path or an inline list.
	//
	//   requirements: requirements.txt
	//
	//   requirements:
	//     - numpy==1.24.0
	//     - pandas
	Requirements Requirements `yaml:"requirements,omitempty"`

	RequiredIntegrations []string `yaml:"required_integrations"`

	// RequiredHubPlugins use the format (<author>/)<name>(==<version>).
	RequiredHubPlugins []string `yaml:"required_hub_plugins"`

	// ReplicateLocalPythonEnvironment accepts a bool, a named export method
	// (pip_freeze, poetry_export) or a command given as a list of words.
	ReplicateLocalPythonEnvironment EnvironmentExport `yaml:"replicate_local_python_environment,omitempty"`

	InstallStackRequirements bool `yaml:"install_stack_requirements"`

	AptPackages []string          `yaml:"apt_packages"`
	Environment map[string]string `yaml:"environment"`

	// BuildOptions are passed unchanged to the backend when building a
	// user Dockerfile.
	BuildOptions map[string]any `yaml:"build_options"`

	// User owns /app and runs the image when set.
	User string `yaml:"user"`

	BuildContextRoot string `yaml:"build_context_root"`
	Dockerignore     string `yaml:"dockerignore"`
}

// Validate checks invariants that do not depend on the stack.
func (d DockerSettings) Validate() error {
	if d.SkipBuild && strings.TrimSpace(d.ParentImage) == "" {
		return fmt.Errorf("docker: skip_build requires parent_image to be set")
	}
	if strings.TrimSpace(d.TargetRepository) == "" {
		return fmt.Errorf("docker: target_repository must not be empty")
	}
	return nil
}

// SortedEnvironment returns the environment keys in lexical order.
func (d DockerSettings) SortedEnvironment() []string {
	keys := make([]string, 0, len(d.Environment))
	for k := range d.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Requirements holds either a file path or an inline requirement list.
type Requirements struct {
	Path string
	List []string
}

// IsFile reports whether the requirements come from a file.
func (r Requirements) IsFile() bool { return r.Path != "" }

// Set reports whether any requirements were configured.
func (r Requirements) Set() bool { return r.Path != "" || len(r.List) > 0 }

// UnmarshalYAML accepts both a scalar path and a sequence of requirements.
func (r *Requirements) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var path string
		if err := value.Decode(&path); err != nil {
			return fmt.Errorf("requirements: %w", err)
		}
		*r = Requirements{Path: path}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return fmt.Errorf("requirements: %w", err)
		}
		*r = Requirements{List: list}
		return nil
	}
	return fmt.Errorf("requirements: expected file path or list, got YAML kind %d", value.Kind)
}

// MarshalYAML mirrors UnmarshalYAML.
func (r Requirements) MarshalYAML() (any, error) {
	if r.IsFile() {
		return r.Path, nil
	}
	return r.List, nil
}

// ExportMethod names a built-in local environment export command.
type ExportMethod string

const (
	ExportPipFreeze    ExportMethod = "pip_freeze"
	ExportPoetryExport ExportMethod = "poetry_export"
)

// Command returns the shell command for the export method.
func (m ExportMethod) Command() (string, error) {
	switch m {
	case ExportPipFreeze:
		return "pip freeze --exclude-editable", nil
	case ExportPoetryExport:
		return "poetry export --format=requirements.txt", nil
	}
	return "", fmt.Errorf("unknown environment export method %q (valid: %s, %s)", m, ExportPipFreeze, ExportPoetryExport)
}

// EnvironmentExport configures local environment replication.
// The zero value disables it.
type EnvironmentExport struct {
	Method  ExportMethod
	Command []string
}

// Enabled reports whether local environment replication was requested.
func (e EnvironmentExport) Enabled() bool {
	return e.Method != "" || len(e.Command) > 0
}

// ShellCommand resolves the command line to execute.
func (e EnvironmentExport) ShellCommand() (string, error) {
	if len(e.Command) > 0 {
		return strings.Join(e.Command, " "), nil
	}
	return e.Method.Command()
}

// UnmarshalYAML accepts:
//
//	replicate_local_python_environment: true           → pip_freeze
//	replicate_local_python_environment: poetry_export
//	replicate_local_python_environment: [pip, list, --format=freeze]
func (e *EnvironmentExport) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.ShortTag() == "!!bool" {
			var enabled bool
			if err := value.Decode(&enabled); err != nil {
				return fmt.Errorf("replicate_local_python_environment: %w", err)
			}
			*e = EnvironmentExport{}
			if enabled {
				e.Method = ExportPipFreeze
			}
			return nil
		}
		method := ExportMethod(value.Value)
		if _, err := method.Command(); err != nil {
			return fmt.Errorf("replicate_local_python_environment: %w", err)
		}
		*e = EnvironmentExport{Method: method}
		return nil
	case yaml.SequenceNode:
		var words []string
		if err := value.Decode(&words); err != nil {
			return fmt.Errorf("replicate_local_python_environment: %w", err)
		}
		*e = EnvironmentExport{Command: words}
		return nil
	}
	return fmt.Errorf("replicate_local_python_environment: expected bool, method or command list, got YAML kind %d", value.Kind)
}

// DefaultDockerSettings returns the defaults applied before user config.
func DefaultDockerSettings() DockerSettings {
	return DockerSettings{
		TargetRepository:         "stowage",
		InstallStackRequirements: true,
		Environment:              map[string]string{},
		BuildOptions:             map[string]any{},
	}
}
