package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leonletto/agentlip/internal/daemon"
	"github.com/leonletto/agentlip/internal/store"
	"github.com/leonletto/agentlip/internal/workspace"
)

func TestRunStatusNotRunningWithoutWorkspace(t *testing.T) {
	code, out := runStatus(t.TempDir())
	if code != 3 {
		t.Fatalf("code = %d, want 3", code)
	}
	if out.Status != "not_running" {
		t.Fatalf("status = %q, want not_running", out.Status)
	}
}

func TestRunStatusRunningMatchesHealthAndOnDiskMeta(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.Init(root)
	if err != nil {
		t.Fatalf("workspace.Init: %v", err)
	}
	st, err := store.Open(ws.DBPath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	meta, err := st.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	st.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","instance_id":"inst1","db_id":"` + meta.DBID + `","schema_version":1,"protocol_version":"1","pid":123,"uptime_seconds":5}`))
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().(*net.TCPAddr)
	if err := daemon.WriteHandoff(ws.HandoffPath(), daemon.Handoff{
		InstanceID: "inst1", DBID: meta.DBID, Host: "127.0.0.1", Port: addr.Port, PID: 123,
	}); err != nil {
		t.Fatalf("WriteHandoff: %v", err)
	}

	code, out := runStatus(root)
	if code != 0 {
		t.Fatalf("code = %d, want 0 (%+v)", code, out)
	}
	if out.Status != "running" {
		t.Fatalf("status = %q, want running", out.Status)
	}
	if out.DBID != meta.DBID {
		t.Fatalf("db_id = %q, want %q", out.DBID, meta.DBID)
	}
}
