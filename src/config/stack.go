package config

// StackConfig describes where pipeline images are built and stored.
type StackConfig struct {
	Name       string            `yaml:"name"`
	Builder    BuilderConfig     `yaml:"image_builder"`
	Registry   *RegistryConfig   `yaml:"container_registry"`
	Components []ComponentConfig `yaml:"components"`
}

// BuilderConfig selects an image builder backend.
type BuilderConfig struct {
	// Kind is the registered backend name: docker, buildx.
	Kind string `yaml:"kind"`

	// Builder is the buildx builder instance (buildx only).
	Builder string `yaml:"builder"`

	// Platform is passed as --platform when set.
	Platform string `yaml:"platform"`
}

// RegistryConfig defines the container registry images are pushed to.
type RegistryConfig struct {
	// URI is the registry host plus optional namespace, e.g. "ghcr.io/acme".
	URI string `yaml:"uri"`

	// Credentials is the env var prefix for auth
	// (e.g., "GHCR" → GHCR_USER/GHCR_PASS). Empty = rely on docker's config.
	Credentials string `yaml:"credentials"`

	// Provider is informational: docker, github, gitlab, quay, jfrog, harbor, gitea, generic.
	Provider string `yaml:"provider"`

	// Insecure allows plain HTTP when resolving pushed digests.
	Insecure bool `yaml:"insecure"`
}

// ComponentConfig is one stack component contributing image contents.
type ComponentConfig struct {
	Name         string   `yaml:"name"`
	Flavor       string   `yaml:"flavor"`
	Integration  string   `yaml:"integration"`
	Requirements []string `yaml:"requirements"`
	AptPackages  []string `yaml:"apt_packages"`
}

// HubConfig configures the plugin hub client.
type HubConfig struct {
	URL string `yaml:"url"`
}

// DefaultStackConfig returns a local stack with no registry.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		Name:    "default",
		Builder: BuilderConfig{Kind: "docker"},
	}
}

// DefaultHubConfig returns the public hub endpoint.
func DefaultHubConfig() HubConfig {
	return HubConfig{URL: "https://hub.zenml.io/api/v1"}
}
