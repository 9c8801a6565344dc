package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Handoff is the server.json record (spec §4.6, §6 "Persisted layout").
// Clients (the status/down CLI commands) read it to find the running
// daemon without needing a separate discovery protocol.
type Handoff struct {
	InstanceID      string `json:"instance_id"`
	DBID            string `json:"db_id"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	PID             int    `json:"pid"`
	AuthToken       string `json:"auth_token"`
	StartedAt       string `json:"started_at"`
	ProtocolVersion string `json:"protocol_version"`
	SchemaVersion   int    `json:"schema_version"`
}

// WriteHandoff atomically writes h to path (mode 0600), grounded on the
// teacher's portfile.go write-to-temp-then-rename pattern generalized from
// a bare port number to the full handoff object.
func WriteHandoff(path string, h Handoff) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create handoff dir: %w", err)
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".server-json-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp handoff file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp handoff file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp handoff file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("chmod temp handoff file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename handoff file: %w", err)
	}
	return nil
}

// ReadHandoff reads and parses server.json.
func ReadHandoff(path string) (Handoff, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path is the workspace marker directory
	if err != nil {
		return Handoff{}, fmt.Errorf("read handoff file: %w", err)
	}
	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return Handoff{}, fmt.Errorf("parse handoff file: %w", err)
	}
	return h, nil
}

// RemoveHandoff deletes server.json, ignoring a not-exist error so shutdown
// cleanup is idempotent.
func RemoveHandoff(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove handoff file: %w", err)
	}
	return nil
}
