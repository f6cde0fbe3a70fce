package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"topoview/internal/layout"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topoview.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Dashboard.MaxAttempts != 3 || cfg.Dashboard.Timeout.Duration() != 30*time.Second {
		t.Fatalf("unexpected retrieval defaults: %+v", cfg.Dashboard)
	}
	if vp := cfg.Viewport(); vp.Width != 1200 || vp.Height != 800 {
		t.Fatalf("unexpected viewport %+v", vp)
	}
}

func TestLoadFromPath_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
dashboard:
  api_key: secret
  network_id: N_123
  timeout: 10s
refresh:
  interval: 90s
layout:
  policy: radial
enrichment:
  snmp:
    enabled: true
    allowlist: ["10.0.0.0/24", "192.168.1.10"]
inventory:
  supplement_file: fortinet.yaml
`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dashboard.NetworkID != "N_123" || cfg.Dashboard.Timeout.Duration() != 10*time.Second {
		t.Fatalf("unexpected dashboard config: %+v", cfg.Dashboard)
	}
	if cfg.Dashboard.PerPage != 1000 || cfg.Dashboard.MaxAttempts != 3 {
		t.Fatalf("unset keys must keep defaults: %+v", cfg.Dashboard)
	}
	if cfg.Refresh.Interval.Duration() != 90*time.Second || cfg.Layout.Policy != string(layout.PolicyRadial) {
		t.Fatalf("unexpected refresh/layout: %+v %+v", cfg.Refresh, cfg.Layout)
	}
	prefixes, err := cfg.SNMPAllowlist()
	if err != nil || len(prefixes) != 2 || prefixes[1].Bits() != 32 {
		t.Fatalf("unexpected allowlist %v err=%v", prefixes, err)
	}
	if cfg.Inventory.SupplementFile != "fortinet.yaml" {
		t.Fatalf("unexpected inventory config: %+v", cfg.Inventory)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadFromPath_Errors(t *testing.T) {
	if _, err := LoadFromPath(writeConfig(t, "dashbord:\n  api_key: x\n")); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if _, err := LoadFromPath(writeConfig(t, "refresh:\n  interval: soon\n")); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
	cfg, err := LoadFromPath(writeConfig(t, ""))
	if err != nil || cfg.HTTP.Addr != ":8081" {
		t.Fatalf("empty file must yield defaults, got %+v err=%v", cfg, err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"HTTP_ADDR":                   ":9000",
		"DASHBOARD_API_KEY":           "k",
		"DASHBOARD_NETWORK_ID":        "N_9",
		"REFRESH_INTERVAL":            "2m",
		"DASHBOARD_INSECURE_FALLBACK": "true",
		"LOG_LEVEL":                   "  ",
		"INVENTORY_SUPPLEMENT_FILE":   " /etc/topoview/fortinet.yaml ",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.Dashboard.NetworkID != "N_9" || !cfg.Dashboard.InsecureFallback {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Inventory.SupplementFile != "/etc/topoview/fortinet.yaml" {
		t.Fatalf("unexpected supplement file %q", cfg.Inventory.SupplementFile)
	}
	if cfg.Refresh.Interval.Duration() != 2*time.Minute || cfg.LogLevel != "info" {
		t.Fatalf("unexpected interval/log level: %v %q", cfg.Refresh.Interval.Duration(), cfg.LogLevel)
	}

	if err := DefaultConfig().ApplyEnv(envMap(map[string]string{"REFRESH_INTERVAL": "often"})); err == nil {
		t.Fatalf("expected interval parse error")
	}
	if err := DefaultConfig().ApplyEnv(envMap(map[string]string{"DASHBOARD_INSECURE_FALLBACK": "maybe"})); err == nil {
		t.Fatalf("expected bool parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"policy", func(c *Config) { c.Layout.Policy = "spiral" }, "unknown layout policy"},
		{"viewport", func(c *Config) { c.Layout.Width = 0 }, "viewport"},
		{"network", func(c *Config) { c.Dashboard.APIKey = "k" }, "network_id"},
		{"interval", func(c *Config) { c.Refresh.Interval = 0 }, "refresh.interval"},
		{"allowlist", func(c *Config) { c.Enrichment.SNMP.Allowlist = []string{"lan"} }, "allowlist"},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestLoad_UsesEnvPath(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: \":7000\"\n")
	t.Setenv(EnvConfigPath, path)
	t.Setenv("HTTP_ADDR", "")
	cfg, found, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found != path || cfg.HTTP.Addr != ":7000" {
		t.Fatalf("expected %s to be loaded, got %q addr=%q", path, found, cfg.HTTP.Addr)
	}
}
