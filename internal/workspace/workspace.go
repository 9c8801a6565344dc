// Package workspace resolves the on-disk workspace layout: the marker
// directory, its walk-up discovery, and the paths of the files it holds
// (database, writer lock, handoff file). Discovery is grounded on the
// teacher's internal/paths.FindThrumRoot, kept mechanically simple per the
// spec's explicit "out of scope, kept simple" note.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// MarkerDirName is the per-workspace marker subdirectory name.
const MarkerDirName = ".agentlip"

// Layout names the files inside the marker directory (spec §6 "Persisted
// layout").
const (
	DBFileName     = "db.sqlite3"
	HandoffName    = "server.json"
	LocksDirName   = "locks"
	WriterLockName = "writer.lock"
)

// Workspace is a resolved workspace root plus its marker directory.
type Workspace struct {
	Root      string
	MarkerDir string
}

// Find walks up from startPath looking for a directory containing the
// marker subdirectory, mirroring git's upward search for .git/. It stops
// at $HOME or a filesystem root.
func Find(startPath string) (Workspace, error) {
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolve absolute path: %w", err)
	}

	home, _ := os.UserHomeDir()

	dir := absPath
	for {
		marker := filepath.Join(dir, MarkerDirName)
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return Workspace{Root: dir, MarkerDir: marker}, nil
		}

		if home != "" && dir == home {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Workspace{}, fmt.Errorf("no %s directory found (searched from %s up to %s or filesystem root)", MarkerDirName, absPath, home)
}

// Init creates the marker directory (and its locks/ subdirectory) at root,
// mode 0700, if it doesn't already exist. It is idempotent.
func Init(root string) (Workspace, error) {
	marker := filepath.Join(root, MarkerDirName)
	if err := os.MkdirAll(marker, 0700); err != nil {
		return Workspace{}, fmt.Errorf("create marker dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(marker, LocksDirName), 0700); err != nil {
		return Workspace{}, fmt.Errorf("create locks dir: %w", err)
	}
	return Workspace{Root: root, MarkerDir: marker}, nil
}

// DBPath returns the path to db.sqlite3 inside the marker directory.
func (w Workspace) DBPath() string { return filepath.Join(w.MarkerDir, DBFileName) }

// HandoffPath returns the path to server.json inside the marker directory.
func (w Workspace) HandoffPath() string { return filepath.Join(w.MarkerDir, HandoffName) }

// WriterLockPath returns the path to the writer lock file.
func (w Workspace) WriterLockPath() string {
	return filepath.Join(w.MarkerDir, LocksDirName, WriterLockName)
}
