// Package coderepo exposes the git repository pipeline code is downloaded
// from at runtime. Images built for such a repository do not contain the
// source files, only the requirements the code needs.
package coderepo

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// DefaultRequirementsFile is read when no requirements file is configured.
const DefaultRequirementsFile = "requirements.txt"

// Repository is a git worktree opened with go-git.
type Repository struct {
	repo *git.Repository
	root string

	// RequirementsFile is relative to the worktree root.
	RequirementsFile string
}

// Open opens the repository containing path. Parent directories are
// searched for the .git directory.
func Open(path string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", path, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("git worktree: %w", err)
	}

	return &Repository{
		repo:             repo,
		root:             wt.Filesystem.Root(),
		RequirementsFile: DefaultRequirementsFile,
	}, nil
}

// FindRoot returns the worktree root enclosing dir.
func FindRoot(dir string) (string, error) {
	r, err := Open(dir)
	if err != nil {
		return "", err
	}
	return r.Root(), nil
}

// Root returns the absolute worktree root.
func (r *Repository) Root() string { return r.root }

// Commit returns the hash of HEAD.
func (r *Repository) Commit() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// IsDirty reports whether the worktree has staged or unstaged changes.
// Untracked files count as changes.
func (r *Repository) IsDirty() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("git worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	for _, s := range status {
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			return true, nil
		}
	}
	return false, nil
}

// Remote returns the URL of the origin remote, empty when there is none.
func (r *Repository) Remote() string {
	remote, err := r.repo.Remote(git.DefaultRemoteName)
	if err != nil {
		return ""
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}

// Requirements returns the requirement lines of the requirements file in
// the HEAD commit. Local edits are ignored since the code is downloaded at
// that commit. A missing file yields no requirements.
func (r *Repository) Requirements() []string {
	reqs, err := r.ReadRequirements()
	if err != nil {
		return nil
	}
	return reqs
}

// ReadRequirements is Requirements with the error surfaced.
func (r *Repository) ReadRequirements() ([]string, error) {
	file, err := r.headFile(r.requirementsPath())
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rd, err := file.Reader()
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	return ParseRequirements(string(data)), nil
}

func (r *Repository) requirementsPath() string {
	p := r.RequirementsFile
	if p == "" {
		p = DefaultRequirementsFile
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func (r *Repository) headFile(path string) (*object.File, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit: %w", err)
	}
	return commit.File(path)
}

// ParseRequirements keeps requirement specifiers. Comments, blank lines
// and pip options such as -r or --index-url are dropped.
func ParseRequirements(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		out = append(out, line)
	}
	return out
}
