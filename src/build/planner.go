package build

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"

	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/log"
	"github.com/sofmeright/stowage/src/security"
)

const intermediateSuffix = "-intermediate-build"

// SecretScanner reports secrets in generated build context files.
type SecretScanner interface {
	Scan(name, content string) ([]security.Finding, error)
}

// BuildRequest is one pipeline image build.
type BuildRequest struct {
	Settings config.DockerSettings
	Tag      string
	Stack    StackContext

	// IncludeFiles copies the source root into the image.
	IncludeFiles bool

	// DownloadFiles marks the image as fetching code at runtime.
	DownloadFiles bool

	// Entrypoint is written verbatim after ENTRYPOINT when set.
	Entrypoint string

	// ExtraFiles are added to the build context after the Dockerfile.
	ExtraFiles []ContextFile

	// CodeRepository contributes requirements when DownloadFiles is set.
	CodeRepository CodeRepository
}

// RequiresBuild reports whether the request asks for anything on top of
// the parent image.
func (r BuildRequest) RequiresBuild() bool {
	s := r.Settings
	return s.Requirements.Set() ||
		len(s.RequiredIntegrations) > 0 ||
		len(s.RequiredHubPlugins) > 0 ||
		s.ReplicateLocalPythonEnvironment.Enabled() ||
		s.InstallStackRequirements ||
		len(s.AptPackages) > 0 ||
		len(s.Environment) > 0 ||
		r.IncludeFiles ||
		r.DownloadFiles ||
		r.Entrypoint != "" ||
		len(r.ExtraFiles) > 0
}

// Planner builds (and optionally pushes) images to run pipelines.
type Planner struct {
	Resolver *RequirementResolver
	Daemon   Daemon
	Secrets  SecretScanner

	// DefaultParentImage is used when the settings name no parent image.
	DefaultParentImage string

	// SourceRoot is the build context root when files are included.
	SourceRoot string

	// DryRun resolves requirements and generates the Dockerfile but never
	// calls the builder, the daemon or the registry.
	DryRun bool
}

// Build builds the image described by req.
//
// Use the returned image whenever the pushed image must be referenced to
// pull or run it: it is the repo digest when the image was pushed, the
// local image name otherwise.
func (p *Planner) Build(ctx context.Context, req BuildRequest) (*Result, error) {
	s := req.Settings

	if s.SkipBuild {
		if strings.TrimSpace(s.ParentImage) == "" {
			return nil, fmt.Errorf("%w: skip_build requires a parent image", ErrConfiguration)
		}
		return &Result{Image: s.ParentImage}, nil
	}

	if req.Stack == nil {
		return nil, fmt.Errorf("%w: no stack to build for", ErrInfrastructure)
	}
	if err := req.Stack.Validate(); err != nil {
		if !errors.Is(err, ErrValidation) {
			err = fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, err
	}

	builder := req.Stack.ImageBuilder()
	if builder == nil {
		return nil, fmt.Errorf("%w: unable to build Docker images without an image builder in the stack `%s`", ErrInfrastructure, req.Stack.Name())
	}
	registry := req.Stack.ContainerRegistry()

	target := TargetImageName(s, req.Tag, registry)
	if _, err := name.ParseReference(target); err != nil {
		return nil, fmt.Errorf("%w: invalid target image %q: %w", ErrConfiguration, target, err)
	}
	ctx = log.WithFields(ctx, logrus.Fields{"image": target})

	requiresBuild := req.RequiresBuild()
	defaultParent := p.DefaultParentImage
	parent := s.ParentImage
	if parent == "" {
		parent = defaultParent
	}

	var image string

	switch {
	case s.Dockerfile != "":
		if parent != defaultParent {
			log.Entry(ctx).Warn("You've specified both a Dockerfile and a custom parent image, ignoring the parent image.")
		}

		push := !builder.IsBuildingLocally() || !requiresBuild

		userImage := target
		if requiresBuild {
			// The image built from the user Dockerfile becomes the parent
			// of the generated one.
			userImage = s.TargetRepository + ":" + req.Tag + intermediateSuffix
			if push && registry != nil {
				userImage = registry.URI() + "/" + userImage
			}
			parent = userImage
		}

		info, err := checkDockerfile(s.Dockerfile)
		if err != nil {
			return nil, err
		}
		if requiresBuild {
			for _, w := range info.LayeringWarnings(req.Entrypoint) {
				log.Entry(ctx).Warn(w)
			}
		}

		bc := NewBuildContext(s.BuildContextRoot, "")
		bc.AddFile(s.Dockerfile, DockerfileName)

		var pushTo ContainerRegistry
		if push {
			pushTo = registry
		}

		log.Entry(ctx).Infof("Building Docker image `%s`.", userImage)
		if p.DryRun {
			image = userImage
			break
		}
		built, err := builder.Build(ctx, userImage, bc, s.BuildOptions, pushTo)
		if err != nil {
			return nil, fmt.Errorf("building %s with %s: %w", userImage, builder.Name(), err)
		}
		image = built

	case !requiresBuild:
		if parent == defaultParent {
			return nil, fmt.Errorf("%w: unable to run a pipeline with the given Docker settings: no Dockerfile or custom parent image specified and no files will be copied or requirements installed", ErrConfiguration)
		}

		if p.DryRun {
			return &Result{Image: target}, nil
		}
		if p.Daemon == nil {
			return nil, fmt.Errorf("%w: no Docker daemon to tag %s", ErrInfrastructure, parent)
		}
		if err := p.Daemon.Tag(ctx, parent, target); err != nil {
			return nil, fmt.Errorf("tagging %s as %s: %w", parent, target, err)
		}
		image = target
		if registry != nil {
			pushed, err := registry.Push(ctx, target)
			if err != nil {
				return nil, fmt.Errorf("pushing %s: %w", target, err)
			}
			image = pushed
		}
	}

	if !requiresBuild {
		return &Result{Image: image}, nil
	}

	return p.synthesize(ctx, req, builder, registry, target, parent)
}

// synthesize generates the pipeline Dockerfile on top of parent and builds it.
func (p *Planner) synthesize(ctx context.Context, req BuildRequest, builder ImageBuilder, registry ContainerRegistry, target, parent string) (*Result, error) {
	s := req.Settings

	log.Entry(ctx).Infof("Building Docker image `%s`.", target)

	// Leave the build context empty if we don't want to include any files.
	root := ""
	if req.IncludeFiles {
		root = p.SourceRoot
	}
	bc := NewBuildContext(root, s.Dockerignore)

	var code CodeRepository
	if req.DownloadFiles {
		code = req.CodeRepository
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = &RequirementResolver{}
	}
	files, err := resolver.GatherRequirementsFiles(ctx, s, req.Stack, code)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		bc.AddContent(f.Content, f.Name)
	}

	aptPackages := append([]string(nil), s.AptPackages...)
	if s.InstallStackRequirements {
		aptPackages = append(aptPackages, req.Stack.AptPackages()...)
	}
	if len(aptPackages) > 0 {
		log.Entry(ctx).Infof("Including apt packages: %s", quoteList(aptPackages))
	}

	pull := PullParentImage(ctx, PullDecision{
		ParentImage:        parent,
		DefaultParentImage: p.DefaultParentImage,
		CustomDockerfile:   s.Dockerfile != "",
		HasRegistry:        registry != nil,
		BuildingLocally:    builder.IsBuildingLocally(),
		Daemon:             p.Daemon,
	})
	opts := map[string]any{"pull": pull, "rm": false}

	dockerfile := GenerateDockerfile(parent, s, req.DownloadFiles, files, aptPackages, req.Entrypoint)
	bc.AddContent(dockerfile, DockerfileName)

	for _, f := range req.ExtraFiles {
		if f.Literal {
			bc.AddContent(f.Source, f.Destination)
		} else {
			bc.AddFile(f.Source, f.Destination)
		}
	}

	p.scanSecrets(ctx, bc)

	result := &Result{
		Image:        target,
		Dockerfile:   dockerfile,
		Requirements: JoinRequirements(files),
	}
	if p.DryRun {
		return result, nil
	}

	image, err := builder.Build(ctx, target, bc, opts, registry)
	if err != nil {
		return nil, fmt.Errorf("building %s with %s: %w", target, builder.Name(), err)
	}

	result.Image = image
	return result, nil
}

// scanSecrets warns about secrets in files that become part of the image.
// Scanning never fails the build.
func (p *Planner) scanSecrets(ctx context.Context, bc *BuildContext) {
	if p.Secrets == nil {
		return
	}
	for _, f := range bc.Files() {
		content, ok := bc.File(f.Destination)
		if !ok {
			continue
		}
		findings, err := p.Secrets.Scan(f.Destination, content)
		if err != nil {
			log.Entry(ctx).WithError(err).Warnf("Unable to scan build context file `%s` for secrets.", f.Destination)
			continue
		}
		for _, finding := range findings {
			log.Entry(ctx).Warnf("Possible secret in build context file `%s` line %d: %s (%s). It will be stored in the image.",
				finding.File, finding.Line, finding.Message, finding.RuleID)
		}
	}
}

// TargetImageName returns <registry>/<repository>:<tag>, without the
// registry prefix when registry is nil.
func TargetImageName(s config.DockerSettings, tag string, registry ContainerRegistry) string {
	image := s.TargetRepository + ":" + tag
	if registry != nil {
		image = registry.URI() + "/" + image
	}
	return image
}

// checkDockerfile makes sure a user Dockerfile exists and has a FROM stage.
func checkDockerfile(path string) (*DockerfileInfo, error) {
	info, err := ParseDockerfileFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading Dockerfile %s: %w", ErrConfiguration, path, err)
	}
	if len(info.Stages) == 0 {
		return nil, fmt.Errorf("%w: Dockerfile %s has no FROM instruction", ErrConfiguration, path)
	}
	return info, nil
}
