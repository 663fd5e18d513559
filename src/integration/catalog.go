// Package integration resolves named integrations to the Python
// requirements and OS packages they need inside a pipeline image.
package integration

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

//go:embed integrations.toml
var builtin []byte

// ErrUnknown is returned for integration names missing from the catalog.
var ErrUnknown = errors.New("unknown integration")

// Integration is one catalog entry.
type Integration struct {
	Name         string              `toml:"-"`
	Requirements []string            `toml:"requirements"`
	AptPackages  []string            `toml:"apt_packages"`
	IgnoredOn    map[string][]string `toml:"ignored_on"` // platform → requirements to drop
}

// Catalog maps integration names to their requirements.
type Catalog struct {
	integrations map[string]Integration
}

type catalogFile struct {
	Integrations map[string]Integration `toml:"integrations"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	entries, err := Parse(builtin)
	if err != nil {
		return nil, fmt.Errorf("integration: built-in catalog: %w", err)
	}
	return &Catalog{integrations: entries}, nil
}

// Load returns the built-in catalog with the entries of the TOML file at
// path layered on top. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("integration: reading catalog: %w", err)
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("integration: %s: %w", path, err)
	}
	for name, in := range entries {
		c.integrations[name] = in
	}
	return c, nil
}

// Parse decodes a TOML catalog.
func Parse(data []byte) (map[string]Integration, error) {
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	entries := make(map[string]Integration, len(f.Integrations))
	for name, in := range f.Integrations {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("integration with empty name")
		}
		in.Name = name
		entries[strings.ToLower(name)] = in
	}
	return entries, nil
}

// Get returns the integration called name.
func (c *Catalog) Get(name string) (Integration, bool) {
	in, ok := c.integrations[strings.ToLower(name)]
	return in, ok
}

// Names returns the sorted integration names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.integrations))
	for name := range c.integrations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectRequirements returns the requirements of integration name that
// apply on platform (linux, windows, darwin).
func (c *Catalog) SelectRequirements(name, platform string) ([]string, error) {
	in, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknown, name, strings.Join(c.Names(), ", "))
	}
	return in.RequirementsFor(platform), nil
}

// AptPackages returns the OS packages of integration name.
func (c *Catalog) AptPackages(name string) ([]string, error) {
	in, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknown, name)
	}
	return append([]string(nil), in.AptPackages...), nil
}

// RequirementsFor drops the requirements ignored on platform.
func (in Integration) RequirementsFor(platform string) []string {
	ignored := make(map[string]bool)
	for _, r := range in.IgnoredOn[strings.ToLower(platform)] {
		ignored[r] = true
	}

	reqs := make([]string, 0, len(in.Requirements))
	for _, r := range in.Requirements {
		if !ignored[r] {
			reqs = append(reqs, r)
		}
	}
	return reqs
}
