package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/leonletto/agentlip/internal/daemon"
	"github.com/leonletto/agentlip/internal/store"
	"github.com/leonletto/agentlip/internal/workspace"
)

// healthResponse mirrors the /health body (spec §6).
type healthResponse struct {
	Status          string `json:"status"`
	InstanceID      string `json:"instance_id"`
	DBID            string `json:"db_id"`
	SchemaVersion   int    `json:"schema_version"`
	ProtocolVersion string `json:"protocol_version"`
	PID             int    `json:"pid"`
	UptimeSeconds   int    `json:"uptime_seconds"`
}

// fetchHealth calls GET /health on the daemon described by h over plain
// HTTP, bounded by a short client-side timeout since this call never
// crosses a network we don't control.
func fetchHealth(h daemon.Handoff) (healthResponse, error) {
	url := fmt.Sprintf("http://%s:%d/health", h.Host, h.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return healthResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return healthResponse{}, fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return healthResponse{}, fmt.Errorf("decode health response: %w", err)
	}
	return out, nil
}

// readOnDiskDBID opens the workspace database directly (independent of any
// running daemon) and reads its db_id, so status can detect a daemon that
// reports a different database than the one on disk.
func readOnDiskDBID(ws workspace.Workspace) (string, error) {
	st, err := store.Open(ws.DBPath())
	if err != nil {
		return "", err
	}
	defer st.Close()
	meta, err := st.Meta()
	if err != nil {
		return "", err
	}
	return meta.DBID, nil
}
