package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WorkspaceConfig represents the optional <marker>/config.json file. It
// lets a workspace pin bind overrides (unsafe, host, port) and its plugin
// list without repeating flags on every `agentlip up`; size limits are not
// read from it. Adapted from the teacher's
// .thrum/config.json / ThrumConfig loader (internal/config/daemon.go).
type WorkspaceConfig struct {
	Unsafe  bool         `json:"unsafe"`
	Host    string       `json:"host,omitempty"`
	Port    int          `json:"port,omitempty"`
	Plugins []PluginSpec `json:"plugins,omitempty"`
}

// LoadWorkspaceConfig reads <markerDir>/config.json. A missing file returns
// a zero-value WorkspaceConfig (all defaults), matching the teacher's
// not-exist-is-fine behavior.
func LoadWorkspaceConfig(markerDir string) (*WorkspaceConfig, error) {
	path := filepath.Join(markerDir, "config.json")
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path is the workspace marker directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &WorkspaceConfig{}, nil
		}
		return nil, fmt.Errorf("read workspace config: %w", err)
	}
	var cfg WorkspaceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse workspace config: %w", err)
	}
	return &cfg, nil
}

// ApplyWorkspaceConfig overlays wc onto c; env/CLI layers (applied by the
// caller afterward) still take precedence over it.
func (c Config) ApplyWorkspaceConfig(wc *WorkspaceConfig) Config {
	if wc == nil {
		return c
	}
	if wc.Unsafe {
		c.Unsafe = true
	}
	if wc.Host != "" {
		c.Host = wc.Host
	}
	if wc.Port != 0 {
		c.Port = wc.Port
	}
	if len(wc.Plugins) > 0 {
		c.Plugins = wc.Plugins
	}
	return c
}
