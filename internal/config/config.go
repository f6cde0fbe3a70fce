// Package config loads topoview settings from a YAML file and the
// environment. Lookup order for the file:
//  1. $TOPOVIEW_CONFIG
//  2. ./topoview.yaml
//  3. /etc/topoview/config.yaml
//
// A missing file means defaults. Environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"topoview/internal/layout"
)

const (
	EnvConfigPath  = "TOPOVIEW_CONFIG"
	ConfigFileName = "topoview.yaml"
)

// Duration is a time.Duration written as "30s" or "5m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	LogLevel   string           `yaml:"log_level"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Layout     LayoutConfig     `yaml:"layout"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Inventory  InventoryConfig  `yaml:"inventory"`
	Database   DatabaseConfig   `yaml:"database"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type DashboardConfig struct {
	BaseURL          string   `yaml:"base_url"`
	APIKey           string   `yaml:"api_key"`
	NetworkID        string   `yaml:"network_id"`
	Timeout          Duration `yaml:"timeout"`
	MaxAttempts      int      `yaml:"max_attempts"`
	RetryBaseDelay   Duration `yaml:"retry_base_delay"`
	ClientLookback   Duration `yaml:"client_lookback"`
	PerPage          int      `yaml:"per_page"`
	InsecureFallback bool     `yaml:"insecure_fallback"`
}

type RefreshConfig struct {
	Interval   Duration `yaml:"interval"`
	MaxBackoff Duration `yaml:"max_backoff"`
	MaxRuntime Duration `yaml:"max_runtime"`
}

type LayoutConfig struct {
	Policy          string   `yaml:"policy"`
	Width           float64  `yaml:"width"`
	Height          float64  `yaml:"height"`
	MaxIterations   int      `yaml:"max_iterations"`
	EnergyThreshold float64  `yaml:"energy_threshold"`
	TickInterval    Duration `yaml:"tick_interval"`
}

type EnrichmentConfig struct {
	SNMP SNMPConfig `yaml:"snmp"`
	RDNS RDNSConfig `yaml:"rdns"`
}

type SNMPConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Community string   `yaml:"community"`
	Version   string   `yaml:"version"`
	Port      uint16   `yaml:"port"`
	Timeout   Duration `yaml:"timeout"`
	Retries   int      `yaml:"retries"`
	LLDP      bool     `yaml:"lldp"`
	CDP       bool     `yaml:"cdp"`
	Allowlist []string `yaml:"allowlist"`
}

type RDNSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Server  string   `yaml:"server"`
	Timeout Duration `yaml:"timeout"`
}

// InventoryConfig names a YAML file of records reported outside the
// dashboard, merged into every refresh.
type InventoryConfig struct {
	SupplementFile string `yaml:"supplement_file"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP:     HTTPConfig{Addr: ":8081"},
		LogLevel: "info",
		Dashboard: DashboardConfig{
			BaseURL:        "https://api.meraki.com/api/v1",
			Timeout:        Duration(30 * time.Second),
			MaxAttempts:    3,
			RetryBaseDelay: Duration(time.Second),
			ClientLookback: Duration(3 * time.Hour),
			PerPage:        1000,
		},
		Refresh: RefreshConfig{
			Interval:   Duration(5 * time.Minute),
			MaxBackoff: Duration(30 * time.Minute),
			MaxRuntime: Duration(2 * time.Minute),
		},
		Layout: LayoutConfig{
			Policy:          string(layout.PolicyForce),
			Width:           1200,
			Height:          800,
			MaxIterations:   300,
			EnergyThreshold: 0.05,
			TickInterval:    Duration(33 * time.Millisecond),
		},
		Enrichment: EnrichmentConfig{
			SNMP: SNMPConfig{Community: "public", Version: "2c", Port: 161, Timeout: Duration(900 * time.Millisecond)},
			RDNS: RDNSConfig{Timeout: Duration(2 * time.Second)},
		},
	}
}

// FindConfigPath returns the first existing config file, or "".
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" && fileExists(path) {
		return path
	}
	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}
	if system := filepath.Join("/etc", "topoview", "config.yaml"); fileExists(system) {
		return system
	}
	return ""
}

// Load reads the config file (if any), applies environment overrides and
// validates the result. The returned path is "" when no file was found.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromPath(path); err != nil {
			return nil, path, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath decodes path over the defaults. Unknown keys are rejected.
func LoadFromPath(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with environment variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.LogLevel)
	str("DATABASE_URL", &c.Database.URL)
	str("INVENTORY_SUPPLEMENT_FILE", &c.Inventory.SupplementFile)
	str("DASHBOARD_API_KEY", &c.Dashboard.APIKey)
	str("DASHBOARD_BASE_URL", &c.Dashboard.BaseURL)
	str("DASHBOARD_NETWORK_ID", &c.Dashboard.NetworkID)

	if v, ok := lookup("REFRESH_INTERVAL"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("REFRESH_INTERVAL: %w", err)
		}
		c.Refresh.Interval = Duration(d)
	}
	if v, ok := lookup("DASHBOARD_INSECURE_FALLBACK"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("DASHBOARD_INSECURE_FALLBACK: %w", err)
		}
		c.Dashboard.InsecureFallback = b
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var problems []string
	if _, err := layout.ParsePolicy(c.Layout.Policy); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Layout.Width <= 0 || c.Layout.Height <= 0 {
		problems = append(problems, "layout viewport must be positive")
	}
	if c.Layout.MaxIterations <= 0 {
		problems = append(problems, "layout.max_iterations must be positive")
	}
	if strings.TrimSpace(c.Dashboard.APIKey) != "" && strings.TrimSpace(c.Dashboard.NetworkID) == "" {
		problems = append(problems, "dashboard.network_id is required when an api key is set")
	}
	if c.Dashboard.MaxAttempts < 0 || c.Dashboard.PerPage < 0 {
		problems = append(problems, "dashboard.max_attempts and dashboard.per_page must not be negative")
	}
	if c.Refresh.Interval.Duration() <= 0 {
		problems = append(problems, "refresh.interval must be positive")
	}
	if _, err := c.SNMPAllowlist(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SNMPAllowlist parses enrichment.snmp.allowlist. Bare addresses become
// single-host prefixes.
func (c *Config) SNMPAllowlist() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Enrichment.SNMP.Allowlist))
	for _, raw := range c.Enrichment.SNMP.Allowlist {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("snmp allowlist entry %q is not an address or prefix", raw)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Viewport returns the configured layout viewport.
func (c *Config) Viewport() layout.Viewport {
	return layout.Viewport{Width: c.Layout.Width, Height: c.Layout.Height}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
