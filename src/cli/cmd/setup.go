package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sofmeright/stowage/src/build"
	_ "github.com/sofmeright/stowage/src/build/engines"
	"github.com/sofmeright/stowage/src/coderepo"
	"github.com/sofmeright/stowage/src/config"
	"github.com/sofmeright/stowage/src/hub"
	"github.com/sofmeright/stowage/src/integration"
	"github.com/sofmeright/stowage/src/log"
	"github.com/sofmeright/stowage/src/registry"
	"github.com/sofmeright/stowage/src/security"
	"github.com/sofmeright/stowage/src/stack"
)

// Flags shared by commands that assemble an image.
var (
	imgTag           string
	imgIncludeFiles  bool
	imgDownloadFiles bool
	imgEntrypoint    string
	imgExtraFiles    []string
)

// session holds everything wired from the loaded config.
type session struct {
	stack    *stack.Stack
	resolver *build.RequirementResolver
	planner  *build.Planner
	code     *coderepo.Repository
}

func newSession(ctx context.Context, c *config.Config) (*session, error) {
	catalog, err := integration.Load(c.IntegrationsFile)
	if err != nil {
		return nil, err
	}

	st, err := stack.FromConfig(c.Stack, catalog)
	if err != nil {
		return nil, err
	}

	resolver := &build.RequirementResolver{
		Integrations: catalog,
		Plugins:      hub.NewClient(c.Hub.URL),
		Export:       build.ShellExporter,
	}

	// The code repository is optional: outside a git worktree the working
	// directory is the source root and no code requirements are added.
	code, err := coderepo.Open(".")
	if err != nil {
		log.Entry(ctx).WithError(err).Debug("no code repository")
		code = nil
	} else {
		code.RequirementsFile = c.CodeRequirementsFile
	}

	root := c.SourceRoot
	switch {
	case root != "":
	case code != nil:
		root = code.Root()
	default:
		if root, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}

	planner := &build.Planner{
		Resolver:           resolver,
		Daemon:             registry.NewDaemon(),
		Secrets:            security.NewScanner(),
		DefaultParentImage: c.DefaultParentImage(),
		SourceRoot:         root,
	}

	return &session{stack: st, resolver: resolver, planner: planner, code: code}, nil
}

// request assembles a build request from the image flags.
func (s *session) request(ctx context.Context, settings config.DockerSettings) (build.BuildRequest, error) {
	extras, err := parseExtraFiles(imgExtraFiles)
	if err != nil {
		return build.BuildRequest{}, err
	}

	req := build.BuildRequest{
		Settings:      settings,
		Tag:           imgTag,
		Stack:         s.stack,
		IncludeFiles:  imgIncludeFiles,
		DownloadFiles: imgDownloadFiles,
		Entrypoint:    imgEntrypoint,
		ExtraFiles:    extras,
	}

	if imgDownloadFiles {
		if s.code == nil {
			return req, fmt.Errorf("%w: --download-files requires a git repository", build.ErrConfiguration)
		}
		req.CodeRepository = s.code
		s.describeCode(ctx)
	}
	return req, nil
}

// codeRepository returns the code repository when code is downloaded at
// runtime, nil otherwise.
func (s *session) codeRepository() build.CodeRepository {
	if !imgDownloadFiles || s.code == nil {
		return nil
	}
	return s.code
}

func (s *session) describeCode(ctx context.Context) {
	commit, err := s.code.Commit()
	if err != nil {
		log.Entry(ctx).WithError(err).Warn("Unable to resolve the code repository commit.")
		return
	}
	if dirty, err := s.code.IsDirty(); err == nil && dirty {
		log.Entry(ctx).Warn("The code repository has uncommitted changes. Code is downloaded at the last commit, local changes will not be part of the pipeline run.")
	}

	remote := s.code.Remote()
	if remote == "" {
		log.Entry(ctx).Infof("Code will be downloaded at commit %s.", shortSHA(commit))
		return
	}
	log.Entry(ctx).Infof("Code will be downloaded from %s (%s) at commit %s.",
		coderepo.BaseURL(remote), coderepo.DetectProvider(remote), shortSHA(commit))
}

// parseExtraFiles parses dst=src pairs. A src starting with @ is read from
// disk, otherwise it is the literal content.
func parseExtraFiles(specs []string) ([]build.ContextFile, error) {
	var files []build.ContextFile
	for _, spec := range specs {
		dst, src, ok := strings.Cut(spec, "=")
		if !ok || dst == "" {
			return nil, fmt.Errorf("%w: --extra-file %q: expected <destination>=<source>", build.ErrConfiguration, spec)
		}
		if path, isFile := strings.CutPrefix(src, "@"); isFile {
			files = append(files, build.ContextFile{Destination: dst, Source: path})
			continue
		}
		files = append(files, build.ContextFile{Destination: dst, Source: src, Literal: true})
	}
	return files, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
