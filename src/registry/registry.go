// Package registry pushes pipeline images to a container registry and talks
// to the local Docker daemon. Pushes go through the docker CLI so they use
// the same credentials as the builds; pushed digests are resolved from the
// registry itself.
package registry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sirupsen/logrus"

	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/log"
)

// Registry is a container registry images are pushed to.
type Registry struct {
	uri      string
	provider string
	insecure bool
	user     string
	pass     string

	docker docker

	loginOnce sync.Once
	loginErr  error
}

// NormalizeProvider maps provider aliases to their canonical platform names.
// Canonical names are the platform brand: docker, github, gitlab, quay, jfrog, harbor, gitea.
// Legacy aliases (dockerhub, ghcr) are accepted and mapped to canonical forms.
func NormalizeProvider(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "dockerhub":
		return "docker"
	case "ghcr":
		return "github"
	default:
		return p
	}
}

// New creates a registry from config. Credentials are resolved from
// environment variables using the configured prefix:
//
//	credentials: "DOCKER" → DOCKER_USER / DOCKER_PASS
//	credentials: "GHCR_ORG" → GHCR_ORG_USER / GHCR_ORG_PASS
//
// Without credentials the docker CLI config and credential helpers apply.
func New(cfg config.RegistryConfig) (*Registry, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	user, pass := resolveCredentials(cfg.Credentials)
	return &Registry{
		uri:      strings.TrimSuffix(strings.TrimSpace(cfg.URI), "/"),
		provider: NormalizeProvider(cfg.Provider),
		insecure: cfg.Insecure,
		user:     user,
		pass:     pass,
		docker:   cli{},
	}, nil
}

// URI returns the registry host plus optional namespace.
func (r *Registry) URI() string { return r.uri }

// Provider returns the canonical provider name, empty when unset.
func (r *Registry) Provider() string { return r.provider }

// Login authenticates the docker CLI against the registry host. It is a
// no-op without configured credentials and runs at most once.
func (r *Registry) Login(ctx context.Context) error {
	if r.user == "" || r.pass == "" {
		return nil
	}
	r.loginOnce.Do(func() {
		host := r.host()
		log.Entry(ctx).WithField("registry", host).Debug("logging in to container registry")
		_, err := r.docker.run(ctx, strings.NewReader(r.pass), "login", "--username", r.user, "--password-stdin", host)
		if err != nil {
			r.loginErr = fmt.Errorf("registry: login to %s: %w", host, err)
		}
	})
	return r.loginErr
}

// Push pushes image and returns its repo digest (<repository>@sha256:...).
func (r *Registry) Push(ctx context.Context, image string) (string, error) {
	if err := r.Login(ctx); err != nil {
		return "", err
	}

	log.Entry(ctx).WithFields(logrus.Fields{"registry": r.uri}).Infof("Pushing Docker image `%s`.", image)
	if _, err := r.docker.run(ctx, nil, "push", image); err != nil {
		return "", fmt.Errorf("registry: push %s: %w", image, err)
	}

	ref, err := r.Digest(ctx, image)
	if err != nil {
		return "", err
	}
	log.Entry(ctx).Infof("Finished pushing Docker image `%s`.", ref)
	return ref, nil
}

// Digest resolves image in the registry and returns <repository>@<digest>.
func (r *Registry) Digest(ctx context.Context, image string) (string, error) {
	return DigestReference(ctx, image, r.auth(), r.insecure)
}

// DigestReference resolves image with a HEAD request and returns
// <repository>@<digest>. A nil auth uses the default docker keychain.
func DigestReference(ctx context.Context, image string, auth authn.Authenticator, insecure bool) (string, error) {
	var opts []name.Option
	if insecure {
		opts = append(opts, name.Insecure)
	}
	ref, err := name.ParseReference(image, opts...)
	if err != nil {
		return "", fmt.Errorf("registry: parsing reference %q: %w", image, err)
	}

	remoteOpts := []remote.Option{remote.WithContext(ctx)}
	if auth != nil {
		remoteOpts = append(remoteOpts, remote.WithAuth(auth))
	} else {
		remoteOpts = append(remoteOpts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}

	desc, err := remote.Head(ref, remoteOpts...)
	if err != nil {
		return "", fmt.Errorf("registry: resolving digest of %s: %w", image, err)
	}
	return ref.Context().Name() + "@" + desc.Digest.String(), nil
}

func (r *Registry) auth() authn.Authenticator {
	if r.user == "" || r.pass == "" {
		return nil
	}
	return authn.FromConfig(authn.AuthConfig{Username: r.user, Password: r.pass})
}

// host is the registry host without namespace.
func (r *Registry) host() string {
	if i := strings.IndexByte(r.uri, '/'); i >= 0 {
		return r.uri[:i]
	}
	return r.uri
}

// resolveCredentials reads USERNAME and PASSWORD from env vars using the
// configured prefix. Returns empty strings if no prefix or vars are unset.
func resolveCredentials(prefix string) (user, pass string) {
	if prefix == "" {
		return "", ""
	}
	p := strings.ToUpper(prefix)
	return os.Getenv(p + "_USER"), os.Getenv(p + "_PASS")
}
