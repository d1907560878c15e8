package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxLinkHops bounds how many dangling symlinks are chased while resolving.
const maxLinkHops = 40

var (
	// ErrOutsideRoot is matched by every *OutsideRootError.
	ErrOutsideRoot = errors.New("path is outside the sandbox root")
	// ErrEmptyPath is returned when the raw path is blank.
	ErrEmptyPath = errors.New("empty path")
)

// OutsideRootError reports a path whose resolved form is not a descendant of
// the sandbox root.
type OutsideRootError struct {
	Path     string
	Resolved string
	Root     string
}

func (e *OutsideRootError) Error() string {
	return fmt.Sprintf("path %s is outside the sandbox root %s", e.Path, e.Root)
}

func (e *OutsideRootError) Is(target error) bool {
	return target == ErrOutsideRoot
}

// Path is an absolute path that resolved inside the sandbox root.
type Path string

func (p Path) String() string { return string(p) }

// Sandbox resolves paths against a fixed root directory.
type Sandbox struct {
	root string
}

// New creates a Sandbox rooted at root. An empty root means the current
// working directory.
func New(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("sandbox: working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: root %s: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox: root %s: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("sandbox: root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox: root %s is not a directory", root)
	}
	return &Sandbox{root: resolved}, nil
}

// Root returns the resolved root directory.
func (s *Sandbox) Root() string { return s.root }

// Resolve expands raw into an absolute, symlink-free path and verifies that
// it lies within the root. Relative paths are taken relative to the root.
// Paths that do not exist yet resolve through their longest existing parent.
func (s *Sandbox) Resolve(raw string) (Path, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyPath
	}

	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		// Keep ".." segments intact so they are evaluated after symlinks.
		candidate = s.root + string(filepath.Separator) + candidate
	}

	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", raw, err)
	}
	if !within(s.root, resolved) {
		return "", &OutsideRootError{Path: raw, Resolved: resolved, Root: s.root}
	}
	return Path(resolved), nil
}

// Rel returns p relative to the root, or p itself if that is not possible.
func (s *Sandbox) Rel(p Path) string {
	rel, err := filepath.Rel(s.root, string(p))
	if err != nil {
		return string(p)
	}
	return rel
}

// IsExcluded reports whether p is denylisted, only considering ancestors
// below the root.
func (s *Sandbox) IsExcluded(p Path) bool {
	rel := s.Rel(p)
	if rel == "." {
		return false
	}
	return IsExcluded(rel)
}

// resolveExisting follows symlinks on the longest existing prefix of p and
// re-appends the missing tail.
func resolveExisting(p string) (string, error) {
	var tail []string
	cur := p
	hops := 0
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		// A dangling symlink exists but does not resolve; chase its target
		// so a later write cannot follow it out of the root.
		if info, lerr := os.Lstat(cur); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			hops++
			if hops > maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links")
			}
			target, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			cur = target
			continue
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return filepath.Clean(p), nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// within reports whether path equals root or is a descendant of it.
func within(root, path string) bool {
	if filepath.VolumeName(root) != filepath.VolumeName(path) {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
