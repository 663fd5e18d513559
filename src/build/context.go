package build

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

const dockerignoreName = ".dockerignore"

// epoch is the modification time of every archived entry, so identical
// inputs produce identical archives.
var epoch = time.Unix(0, 0).UTC()

// ContextFile is a file added to a build context. Source is either a path
// to an existing file or the literal file content. Literal sources are
// never looked up on disk.
type ContextFile struct {
	Destination string
	Source      string
	Literal     bool
}

// BuildContext is the set of files a backend builds an image from: an
// optional root directory filtered by a .dockerignore, overlaid with files
// added in order.
type BuildContext struct {
	root         string
	dockerignore string
	files        []ContextFile
}

// NewBuildContext creates a context rooted at root ("" = no root
// directory). dockerignore overrides <root>/.dockerignore when set.
func NewBuildContext(root, dockerignore string) *BuildContext {
	return &BuildContext{root: root, dockerignore: dockerignore}
}

// Root returns the root directory, empty when the context has none.
func (bc *BuildContext) Root() string { return bc.root }

// AddFile adds source under destination. source is read from disk when it
// names an existing regular file, otherwise used as the content. Later
// additions of the same destination win.
func (bc *BuildContext) AddFile(source, destination string) {
	bc.files = append(bc.files, ContextFile{Destination: destination, Source: source})
}

// AddContent adds literal content under destination.
func (bc *BuildContext) AddContent(content, destination string) {
	bc.files = append(bc.files, ContextFile{Destination: destination, Source: content, Literal: true})
}

// Files returns the added files in insertion order.
func (bc *BuildContext) Files() []ContextFile {
	out := make([]ContextFile, len(bc.files))
	copy(out, bc.files)
	return out
}

// File returns the content added last under destination.
func (bc *BuildContext) File(destination string) (string, bool) {
	for i := len(bc.files) - 1; i >= 0; i-- {
		if bc.files[i].Destination == destination {
			data, err := bc.files[i].read()
			if err != nil {
				return "", false
			}
			return string(data), true
		}
	}
	return "", false
}

// Excludes returns the ignore patterns that apply to the root directory.
func (bc *BuildContext) Excludes() ([]string, error) {
	p := bc.dockerignore
	if p == "" {
		if bc.root == "" {
			return nil, nil
		}
		p = filepath.Join(bc.root, dockerignoreName)
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("reading dockerignore: %w", err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("parsing dockerignore %s: %w", p, err)
	}
	return patterns, nil
}

// WriteTar writes the context as an uncompressed tar stream: the filtered
// root tree first, then every added file in insertion order.
func (bc *BuildContext) WriteTar(w io.Writer) error {
	tw := tar.NewWriter(w)

	err := bc.walk(func(e entry) error {
		hdr := &tar.Header{
			Name:    e.name,
			Mode:    int64(e.mode.Perm()),
			ModTime: epoch,
			Format:  tar.FormatPAX,
		}
		switch {
		case e.mode.IsDir():
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		case e.mode&fs.ModeSymlink != 0:
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
			return tw.WriteHeader(hdr)
		}

		data, err := e.read()
		if err != nil {
			return err
		}
		hdr.Typeflag = tar.TypeReg
		hdr.Size = int64(len(data))
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

// WriteDir materializes the context into dir. Entries are resolved inside
// dir: symlinks copied from the root never redirect a later write outside
// of it, and a later entry replaces whatever an earlier one left at its path.
func (bc *BuildContext) WriteDir(dir string) error {
	return bc.walk(func(e entry) error {
		target, err := dirTarget(dir, e.name)
		if err != nil {
			return err
		}
		if err := clearTarget(target, e.mode.IsDir()); err != nil {
			return err
		}

		switch {
		case e.mode.IsDir():
			return os.MkdirAll(target, e.mode.Perm()|0o700)
		case e.mode&fs.ModeSymlink != 0:
			return os.Symlink(e.link, target)
		}

		data, err := e.read()
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, e.mode.Perm())
	})
}

// dirTarget returns the path of name below dir. Parent directories are
// resolved with symlinks scoped to dir and created; the last element is
// left unresolved.
func dirTarget(dir, name string) (string, error) {
	parent, err := securejoin.SecureJoin(dir, filepath.FromSlash(path.Dir(name)))
	if err != nil {
		return "", fmt.Errorf("build context: resolving %s: %w", name, err)
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(parent, path.Base(name)), nil
}

// clearTarget removes what is at target unless it is a directory that will
// be kept as one.
func clearTarget(target string, keepDir bool) error {
	info, err := os.Lstat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case info.IsDir() && keepDir:
		return nil
	case info.IsDir():
		return os.RemoveAll(target)
	}
	return os.Remove(target)
}

// entry is one archive member.
type entry struct {
	name string
	mode fs.FileMode
	link string
	read func() ([]byte, error)
}

// walk visits the filtered root tree in lexical order, then the added files.
func (bc *BuildContext) walk(fn func(entry) error) error {
	if bc.root != "" {
		if err := bc.walkRoot(fn); err != nil {
			return err
		}
	}

	for _, f := range bc.files {
		name := path.Clean(filepath.ToSlash(f.Destination))
		if strings.HasPrefix(name, "../") || name == ".." || path.IsAbs(name) {
			return fmt.Errorf("build context: destination %q escapes the context", f.Destination)
		}
		err := fn(entry{
			name: name,
			mode: 0o644,
			read: f.read,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (bc *BuildContext) walkRoot(fn func(entry) error) error {
	excludes, err := bc.Excludes()
	if err != nil {
		return err
	}
	matcher, err := patternmatcher.New(excludes)
	if err != nil {
		return fmt.Errorf("invalid exclude patterns: %w", err)
	}

	return filepath.WalkDir(bc.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(bc.root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if rel != dockerignoreName && rel != DockerfileName {
			ignored, err := matcher.MatchesOrParentMatches(rel)
			if err != nil {
				return err
			}
			if ignored {
				if d.IsDir() && skipDir(rel, matcher) {
					return filepath.SkipDir
				}
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		e := entry{name: rel, mode: info.Mode()}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			if e.link, err = os.Readlink(p); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			e.read = func() ([]byte, error) { return os.ReadFile(p) }
		case !info.IsDir():
			// sockets, devices and pipes are not part of a build context
			return nil
		}
		return fn(e)
	})
}

// skipDir reports whether an ignored directory can be skipped entirely,
// which is only safe when no exclusion pattern could re-include a child.
func skipDir(relPath string, matcher *patternmatcher.PatternMatcher) bool {
	if !matcher.Exclusions() {
		return true
	}

	dirSlash := relPath + "/"
	for _, pat := range matcher.Patterns() {
		if !pat.Exclusion() {
			continue
		}
		if strings.HasPrefix(pat.String()+"/", dirSlash) {
			return false
		}
	}
	return true
}

// read returns the file content, reading Source from disk when it names an
// existing regular file and the file was not added as literal content.
func (f ContextFile) read() ([]byte, error) {
	if !f.Literal {
		if info, err := os.Stat(f.Source); err == nil && info.Mode().IsRegular() {
			return os.ReadFile(f.Source)
		}
	}
	return []byte(f.Source), nil
}
