package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateBindDefaultsToLoopback(t *testing.T) {
	c := Default()
	if err := c.ValidateBind(); err != nil {
		t.Fatalf("default host should validate: %v", err)
	}
}

func TestValidateBindRejectsWildcardWithoutUnsafe(t *testing.T) {
	c := Default()
	c.Host = "0.0.0.0"
	if err := c.ValidateBind(); err == nil {
		t.Fatal("expected bind rejection for 0.0.0.0 without --unsafe")
	}
}

func TestValidateBindAllowsWildcardWithUnsafe(t *testing.T) {
	c := Default()
	c.Host = "0.0.0.0"
	c.Unsafe = true
	if err := c.ValidateBind(); err != nil {
		t.Fatalf("unsafe wildcard bind should validate: %v", err)
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	t.Setenv("AGENTLIP_HOST", "localhost")
	t.Setenv("AGENTLIP_PORT", "9321")
	t.Setenv("AGENTLIP_UNSAFE", "true")

	c := Default().ApplyEnv()
	if c.Host != "localhost" {
		t.Fatalf("host = %q, want localhost", c.Host)
	}
	if c.Port != 9321 {
		t.Fatalf("port = %d, want 9321", c.Port)
	}
	if !c.Unsafe {
		t.Fatal("expected Unsafe = true")
	}
}

func TestLoadWorkspaceConfigMissingFileIsDefault(t *testing.T) {
	wc, err := LoadWorkspaceConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadWorkspaceConfig: %v", err)
	}
	if wc.Unsafe {
		t.Fatal("expected default WorkspaceConfig with Unsafe = false")
	}
}

func TestLoadWorkspaceConfigReadsPlugins(t *testing.T) {
	dir := t.TempDir()
	raw, err := json.Marshal(WorkspaceConfig{
		Plugins: []PluginSpec{
			{Name: "linkifier-urls", Kind: "linkifier", Command: "./plugins/linkifier", TimeoutSeconds: 3},
		},
	})
	if err != nil {
		t.Fatalf("marshal workspace config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), raw, 0o644); err != nil {
		t.Fatalf("write config.json: %v", err)
	}

	wc, err := LoadWorkspaceConfig(dir)
	if err != nil {
		t.Fatalf("LoadWorkspaceConfig: %v", err)
	}
	if len(wc.Plugins) != 1 || wc.Plugins[0].Name != "linkifier-urls" {
		t.Fatalf("plugins = %+v, want one linkifier-urls entry", wc.Plugins)
	}

	c := Default().ApplyWorkspaceConfig(wc)
	if len(c.Plugins) != 1 || c.Plugins[0].Command != "./plugins/linkifier" {
		t.Fatalf("Config.Plugins = %+v, want the loaded plugin spec", c.Plugins)
	}
}
