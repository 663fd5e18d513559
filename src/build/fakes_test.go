package build

import (
	"context"
	"errors"
	"fmt"
)

type fakeBuilder struct {
	name  string
	local bool
	err   error

	calls []builderCall
}

type builderCall struct {
	image    string
	context  *BuildContext
	opts     map[string]any
	registry ContainerRegistry
}

func (b *fakeBuilder) Name() string {
	if b.name == "" {
		return "fake"
	}
	return b.name
}

func (b *fakeBuilder) IsBuildingLocally() bool { return b.local }

func (b *fakeBuilder) Build(_ context.Context, imageName string, bc *BuildContext, opts map[string]any, reg ContainerRegistry) (string, error) {
	b.calls = append(b.calls, builderCall{image: imageName, context: bc, opts: opts, registry: reg})
	if b.err != nil {
		return "", b.err
	}
	if reg != nil {
		return imageName + "@sha256:built", nil
	}
	return imageName, nil
}

type fakeRegistry struct {
	uri    string
	pushed []string
}

func (r *fakeRegistry) URI() string { return r.uri }

func (r *fakeRegistry) Push(_ context.Context, image string) (string, error) {
	r.pushed = append(r.pushed, image)
	return image + "@sha256:pushed", nil
}

type fakeDaemon struct {
	local  map[string]bool
	tagged [][2]string
}

func (d *fakeDaemon) Tag(_ context.Context, source, target string) error {
	d.tagged = append(d.tagged, [2]string{source, target})
	return nil
}

func (d *fakeDaemon) ImageExists(_ context.Context, ref string) bool { return d.local[ref] }

type fakeStack struct {
	name        string
	reqs        []string
	apt         []string
	validateErr error
	builder     ImageBuilder
	registry    ContainerRegistry
}

func (s *fakeStack) Name() string                         { return s.name }
func (s *fakeStack) Requirements() []string               { return s.reqs }
func (s *fakeStack) AptPackages() []string                { return s.apt }
func (s *fakeStack) Validate() error                      { return s.validateErr }
func (s *fakeStack) ImageBuilder() ImageBuilder           { return s.builder }
func (s *fakeStack) ContainerRegistry() ContainerRegistry { return s.registry }

type fakeCode struct{ reqs []string }

func (c fakeCode) Requirements() []string { return c.reqs }

type fakeIntegrations map[string][]string

func (f fakeIntegrations) SelectRequirements(name, _ string) ([]string, error) {
	reqs, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("unknown integration %q", name)
	}
	return reqs, nil
}

type fakePlugins map[string]*Plugin

func (f fakePlugins) GetPlugin(_ context.Context, name, version, author string) (*Plugin, error) {
	if name == "broken" {
		return nil, errors.New("hub unavailable")
	}
	return f[PluginDisplayName(name, version, author)], nil
}
