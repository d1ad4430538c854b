package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Workspace is the scratch directory holding every transient file of a session.
type Workspace struct {
	dir string
}

// NewWorkspace creates a unique session directory below root.
// An empty root falls back to the system temp directory.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "media-compressor")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "session-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// NewFile reserves a fresh path inside the workspace. The file is created
// empty so concurrent callers can never collide on the same name.
func (w *Workspace) NewFile(prefix, ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	name := prefix + "-" + uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	path := filepath.Join(w.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("reserve workspace file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes the workspace and everything left in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.dir)
}
