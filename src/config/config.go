package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = ".stowage.yml"

// Config is the top-level stowage configuration.
type Config struct {
	Docker DockerSettings `yaml:"docker"`
	Stack  StackConfig    `yaml:"stack"`
	Hub    HubConfig      `yaml:"hub"`

	// IntegrationsFile is an optional TOML catalog merged over the built-in one.
	IntegrationsFile string `yaml:"integrations_file"`

	// SourceRoot is copied into the image when files are included.
	// Default: the enclosing git worktree, else the working directory.
	SourceRoot string `yaml:"source_root"`

	// CodeRequirementsFile is read from the code repository's HEAD commit.
	CodeRequirementsFile string `yaml:"code_requirements_file"`

	// FrameworkVersion and PythonVersion select the default parent image.
	FrameworkVersion string `yaml:"framework_version"`
	PythonVersion    string `yaml:"python_version"`
}

// Load reads configuration from a YAML file.
// If path is empty, it tries the default file.
// Returns sensible defaults if the file doesn't exist.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultParentImage is the framework image used when no parent image is set.
func (c *Config) DefaultParentImage() string {
	return fmt.Sprintf("zenmldocker/zenml:%s-py%s", c.FrameworkVersion, c.PythonVersion)
}

func defaults() *Config {
	return &Config{
		Docker:               DefaultDockerSettings(),
		Stack:                DefaultStackConfig(),
		Hub:                  DefaultHubConfig(),
		CodeRequirementsFile: "requirements.txt",
		FrameworkVersion:     "0.40.0",
		PythonVersion:        "3.9",
	}
}
