// Package stack assembles the components a pipeline image is built for:
// the image builder, the optional container registry and the components
// contributing requirements and OS packages.
package stack

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sofmeright/stowage/src/build"
	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/registry"
)

// Integrations resolves component integrations.
type Integrations interface {
	SelectRequirements(name, platform string) ([]string, error)
	AptPackages(name string) ([]string, error)
}

// Component is a stack component contributing image contents.
type Component struct {
	Name         string
	Flavor       string
	Integration  string
	Requirements []string
	AptPackages  []string
}

// Stack implements build.StackContext.
type Stack struct {
	name       string
	components []Component
	builder    build.ImageBuilder
	registry   *registry.Registry

	integrations Integrations
}

// New creates a stack. builder, reg and integrations may be nil.
func New(name string, components []Component, builder build.ImageBuilder, reg *registry.Registry, integrations Integrations) *Stack {
	return &Stack{
		name:         name,
		components:   components,
		builder:      builder,
		registry:     reg,
		integrations: integrations,
	}
}

// FromConfig builds the stack described by cfg.
func FromConfig(cfg config.StackConfig, integrations Integrations) (*Stack, error) {
	var builder build.ImageBuilder
	if cfg.Builder.Kind != "" {
		b, err := build.Get(cfg.Builder)
		if err != nil {
			return nil, err
		}
		builder = b
	}

	var reg *registry.Registry
	if cfg.Registry != nil {
		r, err := registry.New(*cfg.Registry)
		if err != nil {
			return nil, fmt.Errorf("%w: stack %q: container registry: %w", build.ErrValidation, cfg.Name, err)
		}
		reg = r
	}

	components := make([]Component, 0, len(cfg.Components))
	for _, c := range cfg.Components {
		components = append(components, Component{
			Name:         c.Name,
			Flavor:       c.Flavor,
			Integration:  c.Integration,
			Requirements: c.Requirements,
			AptPackages:  c.AptPackages,
		})
	}

	return New(cfg.Name, components, builder, reg, integrations), nil
}

func (s *Stack) Name() string { return s.name }

// Components returns the stack components in configuration order.
func (s *Stack) Components() []Component { return s.components }

// ImageBuilder returns the builder, nil when the stack has none.
func (s *Stack) ImageBuilder() build.ImageBuilder { return s.builder }

// ContainerRegistry returns the registry, nil when the stack has none.
func (s *Stack) ContainerRegistry() build.ContainerRegistry {
	if s.registry == nil {
		return nil
	}
	return s.registry
}

// Requirements returns the sorted union of component requirements and the
// linux requirements of every component integration.
func (s *Stack) Requirements() []string {
	set := make(map[string]struct{})
	for _, c := range s.components {
		for _, r := range c.Requirements {
			set[r] = struct{}{}
		}
		if c.Integration == "" || s.integrations == nil {
			continue
		}
		reqs, err := s.integrations.SelectRequirements(c.Integration, "linux")
		if err != nil {
			// Validate reports unknown integrations.
			continue
		}
		for _, r := range reqs {
			set[r] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// AptPackages returns the OS packages of all components and their
// integrations, de-duplicated in component order.
func (s *Stack) AptPackages() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(pkgs []string) {
		for _, p := range pkgs {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}

	for _, c := range s.components {
		if c.Integration != "" && s.integrations != nil {
			if pkgs, err := s.integrations.AptPackages(c.Integration); err == nil {
				add(pkgs)
			}
		}
		add(c.AptPackages)
	}
	return out
}

// Validate checks the stack is usable for a build.
func (s *Stack) Validate() error {
	var errs []error

	if s.name == "" {
		errs = append(errs, errors.New("stack name is empty"))
	}

	names := make(map[string]bool)
	for i, c := range s.components {
		switch {
		case c.Name == "":
			errs = append(errs, fmt.Errorf("component %d has no name", i))
		case names[c.Name]:
			errs = append(errs, fmt.Errorf("duplicate component %q", c.Name))
		default:
			names[c.Name] = true
		}

		if c.Integration != "" {
			if s.integrations == nil {
				errs = append(errs, fmt.Errorf("component %q: integration %q cannot be resolved without a catalog", c.Name, c.Integration))
			} else if _, err := s.integrations.SelectRequirements(c.Integration, "linux"); err != nil {
				errs = append(errs, fmt.Errorf("component %q: %w", c.Name, err))
			}
		}
	}

	if s.registry != nil {
		if err := registry.ValidateURI(s.registry.URI()); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: stack %q: %w", build.ErrValidation, s.name, errors.Join(errs...))
	}
	return nil
}
