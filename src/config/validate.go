package config

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var knownBuilders = []string{"docker", "buildx"}

var knownProviders = []string{"docker", "dockerhub", "github", "ghcr", "gitlab", "quay", "jfrog", "harbor", "gitea", "generic", ""}

// Validate checks structural invariants of a loaded Config.
// Returns warnings (soft issues) and a hard error if the config is invalid.
func Validate(cfg *Config) (warnings []string, err error) {
	var errs []string

	// ── Docker ────────────────────────────────────────────────────────────

	if err := cfg.Docker.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	d := cfg.Docker
	if d.SkipBuild && (d.Requirements.Set() || len(d.RequiredIntegrations) > 0 || len(d.AptPackages) > 0 || d.Dockerfile != "") {
		warnings = append(warnings, "docker: skip_build is set, all other image contents are ignored")
	}
	if d.Dockerfile != "" && d.ParentImage != "" {
		warnings = append(warnings, "docker: both dockerfile and parent_image are set, parent_image is ignored")
	}
	for i, p := range d.AptPackages {
		if strings.TrimSpace(p) == "" || strings.ContainsAny(p, "'\n") {
			errs = append(errs, fmt.Sprintf("docker.apt_packages[%d]: invalid package name %q", i, p))
		}
	}
	for key := range d.Environment {
		if key == "" || strings.ContainsAny(key, " =\n") {
			errs = append(errs, fmt.Sprintf("docker.environment: invalid variable name %q", key))
		}
	}

	// ── Versions ──────────────────────────────────────────────────────────

	if _, err := semver.NewVersion(cfg.FrameworkVersion); err != nil {
		errs = append(errs, fmt.Sprintf("framework_version: %q is not a valid version: %v", cfg.FrameworkVersion, err))
	}
	if strings.TrimSpace(cfg.PythonVersion) == "" {
		errs = append(errs, "python_version: must not be empty")
	}

	// ── Stack ─────────────────────────────────────────────────────────────

	errs = append(errs, validateStack(cfg.Stack)...)

	if len(errs) > 0 {
		return warnings, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return warnings, nil
}

// validateStack checks builder kind, registry and component names.
func validateStack(s StackConfig) []string {
	var errs []string

	if !contains(knownBuilders, s.Builder.Kind) {
		errs = append(errs, fmt.Sprintf("stack.image_builder.kind: unknown builder %q (supported: %s)", s.Builder.Kind, strings.Join(knownBuilders, ", ")))
	}
	if s.Builder.Builder != "" && s.Builder.Kind != "buildx" {
		errs = append(errs, "stack.image_builder.builder: only valid for kind buildx")
	}

	if s.Registry != nil {
		if strings.TrimSpace(s.Registry.URI) == "" {
			errs = append(errs, "stack.container_registry.uri: must not be empty")
		}
		if strings.Contains(s.Registry.URI, "://") {
			errs = append(errs, fmt.Sprintf("stack.container_registry.uri: %q must not contain a scheme", s.Registry.URI))
		}
		if !contains(knownProviders, strings.ToLower(s.Registry.Provider)) {
			errs = append(errs, fmt.Sprintf("stack.container_registry.provider: unknown provider %q", s.Registry.Provider))
		}
	}

	names := make(map[string]bool)
	for i, c := range s.Components {
		cpath := fmt.Sprintf("stack.components[%d]", i)
		if c.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: name is required", cpath))
		} else if names[c.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate component name %q", cpath, c.Name))
		} else {
			names[c.Name] = true
		}
	}

	return errs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
