package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/log"
)

// Requirement manifest names inside the build context.
const (
	LocalRequirementsFile       = ".zenml_local_requirements"
	UserRequirementsFile        = ".zenml_user_requirements"
	IntegrationRequirementsFile = ".zenml_integration_requirements"
	HubInternalRequirementsFile = ".zenml_hub_internal_requirements"
	HubPyPIRequirementsFile     = ".zenml_hub_pypi_requirements"
)

// targetPlatform is the OS integration requirements are selected for.
const targetPlatform = "linux"

// RequirementsFile is a named pip requirements manifest.
type RequirementsFile struct {
	Name    string
	Content string
	Options []string // extra pip install flags, e.g. --no-deps
}

// Exporter runs a shell command and returns its stdout.
type Exporter func(ctx context.Context, command string) (string, error)

// ShellExporter runs command through sh -c.
func ShellExporter(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// RequirementResolver gathers requirement manifests from every source.
type RequirementResolver struct {
	Integrations IntegrationRegistry
	Plugins      PluginClient
	Export       Exporter

	// Quiet suppresses the per-source info log lines.
	Quiet bool
}

// GatherRequirementsFiles returns the requirement manifests for settings in
// install order:
//
//  1. packages of the local Python environment
//  2. user-defined requirements
//  3. integration, stack and code repository requirements (sorted)
//  4. hub plugin packages, one manifest per index, then their PyPI deps
//
// stack and code may be nil.
func (r *RequirementResolver) GatherRequirementsFiles(ctx context.Context, settings config.DockerSettings, stack StackContext, code CodeRepository) ([]RequirementsFile, error) {
	var files []RequirementsFile

	local, err := r.localEnvironment(ctx, settings.ReplicateLocalPythonEnvironment)
	if err != nil {
		return nil, err
	}
	if local != nil {
		files = append(files, *local)
	}

	user, err := r.userRequirements(ctx, settings.Requirements)
	if err != nil {
		return nil, err
	}
	if user != nil {
		files = append(files, *user)
	}

	integrations, err := r.integrationRequirements(ctx, settings, stack, code)
	if err != nil {
		return nil, err
	}
	if integrations != nil {
		files = append(files, *integrations)
	}

	if len(settings.RequiredHubPlugins) > 0 {
		files = append(files, r.hubRequirements(ctx, settings.RequiredHubPlugins)...)
	}

	return files, nil
}

// JoinRequirements concatenates manifest contents, one per line.
func JoinRequirements(files []RequirementsFile) string {
	contents := make([]string, 0, len(files))
	for _, f := range files {
		contents = append(contents, f.Content)
	}
	return strings.Join(contents, "\n")
}

func (r *RequirementResolver) localEnvironment(ctx context.Context, export config.EnvironmentExport) (*RequirementsFile, error) {
	if !export.Enabled() {
		return nil, nil
	}

	command, err := export.ShellCommand()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	run := r.Export
	if run == nil {
		run = ShellExporter
	}

	out, err := run(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to export local python packages: %w", ErrResolution, err)
	}

	r.info(ctx, "- Including python packages from local environment")
	return &RequirementsFile{Name: LocalRequirementsFile, Content: out}, nil
}

func (r *RequirementResolver) userRequirements(ctx context.Context, reqs config.Requirements) (*RequirementsFile, error) {
	var content string

	switch {
	case reqs.IsFile():
		path, err := filepath.Abs(reqs.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolution, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: requirements file %s does not exist: %w", ErrResolution, path, err)
			}
			return nil, fmt.Errorf("%w: reading requirements file %s: %w", ErrResolution, path, err)
		}
		content = string(data)
		r.info(ctx, "- Including user-defined requirements from file `%s`", path)
	case len(reqs.List) > 0:
		content = strings.Join(reqs.List, "\n")
		r.info(ctx, "- Including user-defined requirements: %s", quoteList(reqs.List))
	}

	if content == "" {
		return nil, nil
	}
	return &RequirementsFile{Name: UserRequirementsFile, Content: content}, nil
}

func (r *RequirementResolver) integrationRequirements(ctx context.Context, settings config.DockerSettings, stack StackContext, code CodeRepository) (*RequirementsFile, error) {
	set := make(map[string]struct{})

	if len(settings.RequiredIntegrations) > 0 && r.Integrations == nil {
		return nil, fmt.Errorf("%w: integrations %v requested but no integration registry is configured", ErrResolution, settings.RequiredIntegrations)
	}
	for _, name := range settings.RequiredIntegrations {
		reqs, err := r.Integrations.SelectRequirements(name, targetPlatform)
		if err != nil {
			return nil, fmt.Errorf("%w: integration %q: %w", ErrResolution, name, err)
		}
		addAll(set, reqs)
	}

	if settings.InstallStackRequirements {
		if stack != nil {
			addAll(set, stack.Requirements())
		}
		if code != nil {
			addAll(set, code.Requirements())
		}
	}

	if len(set) == 0 {
		return nil, nil
	}

	reqs := sortedKeys(set)
	r.info(ctx, "- Including integration requirements: %s", quoteList(reqs))
	return &RequirementsFile{Name: IntegrationRequirementsFile, Content: strings.Join(reqs, "\n")}, nil
}

// hubRequirements resolves plugins one at a time. A plugin that cannot be
// resolved is skipped with a warning.
func (r *RequirementResolver) hubRequirements(ctx context.Context, plugins []string) []RequirementsFile {
	var indexes []string
	internal := make(map[string][]string)
	pypi := make(map[string]struct{})

	for _, spec := range plugins {
		author, name, version, err := ParsePluginName(spec)
		if err != nil {
			log.Entry(ctx).Warnf("Hub plugin `%s` is not a valid plugin name, skipping installation of this plugin: %v", spec, err)
			continue
		}

		var plugin *Plugin
		if r.Plugins != nil {
			plugin, err = r.Plugins.GetPlugin(ctx, name, version, author)
		}
		if err != nil || plugin == nil || plugin.IndexURL == "" || plugin.PackageName == "" {
			entry := log.Entry(ctx)
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Warnf("Hub plugin `%s` does not exist or cannot be installed. Skipping installation of this plugin.", PluginDisplayName(name, version, author))
			continue
		}

		if _, seen := internal[plugin.IndexURL]; !seen {
			indexes = append(indexes, plugin.IndexURL)
		}
		internal[plugin.IndexURL] = append(internal[plugin.IndexURL], plugin.PackageName)
		addAll(pypi, plugin.Requirements)
	}

	var files []RequirementsFile
	for i, index := range indexes {
		packages := internal[index]
		lines := append([]string{"-i " + index}, packages...)
		files = append(files, RequirementsFile{
			Name:    fmt.Sprintf("%s_%d", HubInternalRequirementsFile, i),
			Content: strings.Join(lines, "\n"),
			Options: []string{"--no-deps"},
		})
		r.info(ctx, "- Including internal hub packages from index `%s`: %s", index, quoteList(packages))
	}

	if len(pypi) > 0 {
		reqs := sortedKeys(pypi)
		files = append(files, RequirementsFile{
			Name:    HubPyPIRequirementsFile,
			Content: strings.Join(reqs, "\n"),
		})
		r.info(ctx, "- Including hub requirements from PyPI: %s", quoteList(reqs))
	}

	return files
}

func (r *RequirementResolver) info(ctx context.Context, format string, args ...any) {
	if r.Quiet {
		return
	}
	log.Entry(ctx).Infof(format, args...)
}

func addAll(set map[string]struct{}, items []string) {
	for _, item := range items {
		set[item] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quoteList renders items as `a`, `b`.
func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "`" + item + "`"
	}
	return strings.Join(quoted, ", ")
}
