package plugins

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Uploads is the handle granted through the fileUpload capability. Files are
// stored under a per-plugin uploads directory with server-generated names so
// plugins cannot influence the final path.
type Uploads struct {
	dir string
}

// NewUploads returns an upload store rooted at dir.
func NewUploads(dir string) *Uploads {
	return &Uploads{dir: filepath.Clean(dir)}
}

// Save writes r to a new file and returns its server-assigned name. The
// original filename only contributes its extension, after sanitization.
func (u *Uploads) Save(filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", fmt.Errorf("uploads: create dir: %w", err)
	}
	name := uuid.NewString() + safeExt(filename)
	f, err := os.Create(filepath.Join(u.dir, name))
	if err != nil {
		return "", fmt.Errorf("uploads: create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("uploads: write: %w", err)
	}
	return name, nil
}

// Open returns a previously saved upload.
func (u *Uploads) Open(name string) (io.ReadCloser, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("uploads: invalid name %q", name)
	}
	f, err := os.Open(filepath.Join(u.dir, name))
	if err != nil {
		return nil, fmt.Errorf("uploads: open %s: %w", name, err)
	}
	return f, nil
}

// Remove deletes a previously saved upload.
func (u *Uploads) Remove(name string) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("uploads: invalid name %q", name)
	}
	if err := os.Remove(filepath.Join(u.dir, name)); err != nil {
		return fmt.Errorf("uploads: remove %s: %w", name, err)
	}
	return nil
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	for _, r := range ext {
		if r != '.' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
