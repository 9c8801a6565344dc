package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGuardBlocksPathsUnderMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".agentlip")
	if err := os.MkdirAll(marker, 0700); err != nil {
		t.Fatalf("mkdir marker: %v", err)
	}
	if err := Install(marker); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := Guard(filepath.Join(marker, "db.sqlite3")); !errors.Is(err, ErrGuardedPath) {
		t.Fatalf("expected ErrGuardedPath, got %v", err)
	}
	if err := Guard(marker); !errors.Is(err, ErrGuardedPath) {
		t.Fatalf("expected ErrGuardedPath for marker dir itself, got %v", err)
	}
}

func TestGuardAllowsPathsOutsideMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".agentlip")
	if err := os.MkdirAll(marker, 0700); err != nil {
		t.Fatalf("mkdir marker: %v", err)
	}
	if err := Install(marker); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := Guard(filepath.Join(dir, "scratch.txt")); err != nil {
		t.Fatalf("expected no error outside marker, got %v", err)
	}
}

func TestGuardedCreateRespectsGuard(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".agentlip")
	if err := os.MkdirAll(marker, 0700); err != nil {
		t.Fatalf("mkdir marker: %v", err)
	}
	if err := Install(marker); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if _, err := GuardedCreate(filepath.Join(marker, "evil.sqlite3")); !errors.Is(err, ErrGuardedPath) {
		t.Fatalf("expected ErrGuardedPath, got %v", err)
	}
}
