package daemon

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/leonletto/agentlip/internal/config"
	"github.com/leonletto/agentlip/internal/workspace"
)

func TestLifecycleRunServesHealthAndShutsDownCleanly(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	ws, err := workspace.Init(root)
	if err != nil {
		t.Fatalf("workspace.Init: %v", err)
	}

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	lc := NewLifecycle(cfg, ws)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- lc.Run(context.Background())
	}()

	var h Handoff
	deadline := time.Now().Add(3 * time.Second)
	for {
		h, err = ReadHandoff(ws.HandoffPath())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for handoff file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(h.Port) + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}

	lc.Shutdown()

	select {
	case err := <-runErrCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return after Shutdown")
	}

	if IsLocked(ws.WriterLockPath()) {
		t.Fatal("writer lock still held after shutdown")
	}
	if _, err := ReadHandoff(ws.HandoffPath()); err == nil {
		t.Fatal("handoff file still present after shutdown")
	}
}
