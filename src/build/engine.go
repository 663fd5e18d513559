package build

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sofmeright/stowage/src/config"
)

// ImageBuilder is the interface every builder backend implements.
type ImageBuilder interface {
	Name() string

	// IsBuildingLocally reports whether images end up in the local daemon.
	IsBuildingLocally() bool

	// Build builds bc into imageName. When reg is non-nil the image is
	// pushed and the repo digest is returned, otherwise the image name.
	Build(ctx context.Context, imageName string, bc *BuildContext, opts map[string]any, reg ContainerRegistry) (string, error)
}

// ContainerRegistry is where built images are pushed.
type ContainerRegistry interface {
	URI() string
	Push(ctx context.Context, image string) (string, error)
}

// Daemon exposes the local image store.
type Daemon interface {
	Tag(ctx context.Context, source, target string) error
	ImageExists(ctx context.Context, ref string) bool
}

// StackContext is the stack a pipeline image is built for.
type StackContext interface {
	Name() string
	Requirements() []string
	AptPackages() []string
	Validate() error
	ImageBuilder() ImageBuilder
	ContainerRegistry() ContainerRegistry
}

// CodeRepository is a repository pipeline code is downloaded from at runtime.
type CodeRepository interface {
	Requirements() []string
}

// IntegrationRegistry resolves integration names to requirements.
type IntegrationRegistry interface {
	SelectRequirements(name, platform string) ([]string, error)
}

// Plugin is a resolved hub plugin.
type Plugin struct {
	IndexURL     string
	PackageName  string
	Requirements []string
}

// PluginClient looks up hub plugins. A nil plugin with a nil error means the
// plugin does not exist.
type PluginClient interface {
	GetPlugin(ctx context.Context, name, version, author string) (*Plugin, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func(cfg config.BuilderConfig) ImageBuilder{}
)

// Register adds a backend constructor to the global registry.
// Called from init() in each engine package.
func Register(name string, constructor func(cfg config.BuilderConfig) ImageBuilder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("build: duplicate engine registration: %s", name))
	}
	registry[name] = constructor
}

// Get returns a new instance of the backend named by cfg.Kind.
func Get(cfg config.BuilderConfig) (ImageBuilder, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ctor, ok := registry[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown image builder %q", ErrInfrastructure, cfg.Kind)
	}
	return ctor(cfg), nil
}

// All returns sorted names of all registered backends.
func All() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
