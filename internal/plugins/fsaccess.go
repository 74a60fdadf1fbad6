package plugins

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FSAccess is the filesystem helper granted through the filesystem
// capability. All paths are relative to a per-plugin root; escaping the root
// (directly or via "..") fails, and an optional glob rule set narrows what
// is reachable inside it.
type FSAccess struct {
	root     string
	patterns []string // doublestar globs; empty means everything under root
}

// NewFSAccess creates a helper rooted at root. Patterns use doublestar
// syntax (e.g. "content/**/*.md").
func NewFSAccess(root string, patterns []string) *FSAccess {
	return &FSAccess{root: filepath.Clean(root), patterns: patterns}
}

// Root returns the jail root.
func (f *FSAccess) Root() string {
	return f.root
}

// resolve turns a plugin-supplied relative path into an absolute one inside
// the root, rejecting absolute paths and traversal escapes.
func (f *FSAccess) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("fs: path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("fs: absolute path %q is not allowed", rel)
	}
	cleaned := path.Clean(filepath.ToSlash(rel))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("fs: path %q escapes the plugin root", rel)
	}
	if !f.allowed(cleaned) {
		return "", fmt.Errorf("fs: path %q does not match any allowed pattern", rel)
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}

func (f *FSAccess) allowed(slashPath string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, pattern := range f.patterns {
		if ok, err := doublestar.Match(pattern, slashPath); err == nil && ok {
			return true
		}
	}
	return false
}

// Read returns the contents of a file under the root.
func (f *FSAccess) Read(rel string) ([]byte, error) {
	abs, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("fs read %s: %w", rel, err)
	}
	return data, nil
}

// Write writes a file under the root, creating parent directories.
func (f *FSAccess) Write(rel string, data []byte) error {
	abs, err := f.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("fs mkdir for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("fs write %s: %w", rel, err)
	}
	return nil
}

// Glob returns the relative paths under the root matching pattern.
// Uses doublestar for recursive ** support (e.g. "**/*.md").
func (f *FSAccess) Glob(pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(f.root), pattern)
	if err != nil {
		return nil, fmt.Errorf("fs glob %s: %w", pattern, err)
	}
	var out []string
	for _, m := range matches {
		if f.allowed(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

var _ fs.FS = (*fsAdapter)(nil)

// fsAdapter exposes FSAccess as an fs.FS for read-only consumers.
type fsAdapter struct{ access *FSAccess }

// FS returns a read-only fs.FS view of the jail.
func (f *FSAccess) FS() fs.FS {
	return &fsAdapter{access: f}
}

func (a *fsAdapter) Open(name string) (fs.File, error) {
	abs, err := a.access.resolve(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
	}
	return os.Open(abs)
}
