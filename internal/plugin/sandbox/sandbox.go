// Package sandbox provides the filesystem write-guard a plugin worker
// installs before loading the plugin module (spec §4.5 "Isolation
// (best-effort, not cryptographic)"). There is no corpus precedent for
// this: the teacher and the rest of the example pack never sandbox a
// subprocess's filesystem access, so this package is original engineering
// rather than grounded on an example.
//
// A real plugin worker (a separate binary, not part of this daemon
// process) would import this package, call Install with its workspace
// marker directory, and then load the plugin module. This daemon ships
// the guard for sample/worker authors; it is not invoked from the daemon
// process itself, which never touches the plugin's address space.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrGuardedPath is returned in place of the real filesystem error when a
// write targets a path under the guarded marker directory.
var ErrGuardedPath = fmt.Errorf("write blocked: path is under the workspace marker directory")

var (
	mu        sync.RWMutex
	markerAbs string
	installed bool
)

// Install records markerDir (resolved to an absolute path) as the
// directory component that Guard rejects writes under. Call once per
// worker process before loading the plugin module.
func Install(markerDir string) error {
	abs, err := filepath.Abs(markerDir)
	if err != nil {
		return fmt.Errorf("resolve marker dir: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	markerAbs = abs
	installed = true
	return nil
}

// Guard reports ErrGuardedPath if path resolves to somewhere under the
// installed marker directory, and nil otherwise (including when Install
// was never called, so a worker that forgets to install the guard fails
// open rather than panicking — callers that care should check Installed).
func Guard(path string) error {
	mu.RLock()
	marker, ok := markerAbs, installed
	mu.RUnlock()
	if !ok {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(marker, abs)
	if err != nil {
		return nil
	}
	if rel == "." || (!strings.HasPrefix(rel, "..") && rel != "") {
		return ErrGuardedPath
	}
	return nil
}

// Installed reports whether Install has been called in this process.
func Installed() bool {
	mu.RLock()
	defer mu.RUnlock()
	return installed
}

// GuardedCreate and GuardedOpenFile below are the write-path wrappers a
// plugin worker's standard-library calls should route through instead of
// os.Create/os.OpenFile directly; they are the enforcement points the
// isolation guard actually protects, since Go cannot intercept another
// package's direct os calls.

// GuardedCreate is a drop-in for os.Create that applies Guard first.
func GuardedCreate(path string) (*os.File, error) {
	if err := Guard(path); err != nil {
		return nil, err
	}
	return os.Create(path) //nolint:gosec // G304 - path is plugin-internal, guarded above
}

// GuardedOpenFile is a drop-in for os.OpenFile that applies Guard first
// whenever flag requests write access.
func GuardedOpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_APPEND|os.O_TRUNC) != 0 {
		if err := Guard(path); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, flag, perm) //nolint:gosec // G304 - path is plugin-internal, guarded above
}

// GuardedRemove is a drop-in for os.Remove that applies Guard first.
func GuardedRemove(path string) error {
	if err := Guard(path); err != nil {
		return err
	}
	return os.Remove(path)
}
