// Package workspace provides scoped scratch directories for intermediate
// rasters. A Dir is passed explicitly to the stage that needs scratch space
// and cleaned up on every exit path, replacing ambient process-wide temp
// state.
package workspace

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Dir is a scratch directory rooted under a caller-chosen parent. It owns
// its path: Cleanup removes the directory and everything inside it.
type Dir struct {
	path string
}

// New creates a fresh scratch directory under root with the given label
// prefix. The root is created if it does not exist.
func New(root, label string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "workspace: create root %s", root)
	}
	path, err := os.MkdirTemp(root, label+"-*")
	if err != nil {
		return nil, eris.Wrapf(err, "workspace: create scratch dir under %s", root)
	}
	return &Dir{path: path}, nil
}

// Path returns the scratch directory path.
func (d *Dir) Path() string {
	return d.path
}

// File returns the path of a named file inside the scratch directory.
func (d *Dir) File(name string) string {
	return filepath.Join(d.path, name)
}

// Cleanup removes the scratch directory. Safe to call more than once and
// from a defer; removal failures are logged, not returned, since cleanup
// runs on error paths where the original error matters more.
func (d *Dir) Cleanup() {
	if d.path == "" {
		return
	}
	if err := os.RemoveAll(d.path); err != nil {
		zap.L().Warn("workspace: scratch cleanup failed",
			zap.String("path", d.path),
			zap.Error(err),
		)
	}
	d.path = ""
}
