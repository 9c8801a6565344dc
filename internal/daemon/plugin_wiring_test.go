package daemon

import (
	"testing"
	"time"

	"github.com/leonletto/agentlip/internal/config"
	"github.com/leonletto/agentlip/internal/plugin"
)

func TestPluginConfigsConvertsWorkspacePlugins(t *testing.T) {
	cfg := config.Default()
	cfg.PluginTimeoutSeconds = 5
	cfg.Plugins = []config.PluginSpec{
		{Name: "linkifier-urls", Kind: "linkifier", Command: "./plugins/linkifier", TimeoutSeconds: 3},
		{Name: "extractor-todos", Kind: "extractor", Command: "./plugins/extractor"},
	}

	got := pluginConfigs(cfg)
	if len(got) != 2 {
		t.Fatalf("len(pluginConfigs) = %d, want 2", len(got))
	}
	if got[0].Name != "linkifier-urls" || got[0].Kind != plugin.KindLinkifier || got[0].Command != "./plugins/linkifier" {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if got[0].Timeout != 3*time.Second {
		t.Fatalf("got[0].Timeout = %v, want 3s", got[0].Timeout)
	}
	if got[1].Timeout != 5*time.Second {
		t.Fatalf("got[1].Timeout = %v, want the config default of 5s", got[1].Timeout)
	}
}

func TestPluginConfigsEmptyWhenUnconfigured(t *testing.T) {
	if got := pluginConfigs(config.Default()); got != nil {
		t.Fatalf("pluginConfigs(Default()) = %+v, want nil", got)
	}
}
