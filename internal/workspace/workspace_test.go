package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitThenFind(t *testing.T) {
	root := t.TempDir()
	if _, err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	sub := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(sub, 0700); err != nil {
		t.Fatalf("mkdir sub: %v", err)
	}

	ws, err := Find(sub)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ws.Root != root {
		t.Fatalf("Root = %q, want %q", ws.Root, root)
	}
}

func TestFindFailsWithoutMarker(t *testing.T) {
	dir := t.TempDir()
	if _, err := Find(dir); err == nil {
		t.Fatal("expected error when no marker directory exists")
	}
}
