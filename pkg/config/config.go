// Package config loads the proxy's connection/target routing table from a
// JSON or YAML file, overlaid with environment variables, following the
// teacher's file-plus-env-overlay pattern, and saves a Config back to disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/botshepherd/wsproxy/pkg/fileutil"
)

// TargetConfig is one downstream socket a Proxy Connection dials. Disabled
// and SakoyaProtocol are opt-out/opt-in flags respectively, matching the
// reference config's "disabled"/"sakoya_protocol" endpoint fields: a target
// with neither set is enabled and speaks plain OneBot.
type TargetConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Disabled       bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	SakoyaProtocol bool              `json:"sakoya_protocol,omitempty" yaml:"sakoya_protocol,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Enabled reports whether this target should be dialed at all.
func (t TargetConfig) Enabled() bool { return !t.Disabled }

// ConnectionConfig is the target set and identity for one Proxy Connection,
// keyed by ConnectionID in Config.Connections.
type ConnectionConfig struct {
	Targets []TargetConfig `json:"targets" yaml:"targets"`
}

// RouteConfig binds one (port, path) to a connection ID. Host is carried in
// the config and shown in errors, but the router listens on all interfaces
// and does not use Host for binding or route lookup. Two routes sharing a
// (port, path) conflict; the router resolves that by first-registered-wins
// with a warning.
type RouteConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Path         string `json:"path" yaml:"path"`
	ConnectionID string `json:"connection_id" yaml:"connection_id"`
}

// SecurityConfig controls the in-band auth command set and unauthenticated
// upgrade rate limiting.
type SecurityConfig struct {
	AuthRequired     bool          `json:"auth_required" yaml:"auth_required" env:"WSPROXY_AUTH_REQUIRED"`
	AuthKeys         []string      `json:"auth_keys,omitempty" yaml:"auth_keys,omitempty" env:"WSPROXY_AUTH_KEYS"`
	BanThreshold     int           `json:"ban_threshold" yaml:"ban_threshold" env:"WSPROXY_BAN_THRESHOLD"`
	BanFor           time.Duration `json:"ban_for" yaml:"ban_for" env:"WSPROXY_BAN_FOR"`
	UpgradeRateLimit float64       `json:"upgrade_rate_limit" yaml:"upgrade_rate_limit" env:"WSPROXY_UPGRADE_RATE_LIMIT"`
	UpgradeBurst     int           `json:"upgrade_burst" yaml:"upgrade_burst" env:"WSPROXY_UPGRADE_BURST"`
}

// PersistenceConfig points at the SQLite database backing message logging
// and auth status.
type PersistenceConfig struct {
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path" env:"WSPROXY_SQLITE_PATH"`
}

// MaintenanceConfig controls the scheduled ban-expiry sweep.
type MaintenanceConfig struct {
	SweepCronExpr string `json:"sweep_cron_expr" yaml:"sweep_cron_expr" env:"WSPROXY_SWEEP_CRON_EXPR"`
}

// Config is the full routing table and ambient settings for one obshepherd
// process.
type Config struct {
	Routes      []RouteConfig               `json:"routes" yaml:"routes"`
	Connections map[string]ConnectionConfig `json:"connections" yaml:"connections"`
	Security    SecurityConfig              `json:"security" yaml:"security"`
	Persistence PersistenceConfig           `json:"persistence" yaml:"persistence"`
	Maintenance MaintenanceConfig           `json:"maintenance" yaml:"maintenance"`
}

// DefaultConfig returns a Config with no routes and sane ambient defaults.
func DefaultConfig() *Config {
	return &Config{
		Connections: make(map[string]ConnectionConfig),
		Security: SecurityConfig{
			AuthRequired:     false,
			BanThreshold:     5,
			BanFor:           15 * time.Minute,
			UpgradeRateLimit: 1,
			UpgradeBurst:     5,
		},
		Persistence: PersistenceConfig{SQLitePath: "wsproxy.db"},
		Maintenance: MaintenanceConfig{SweepCronExpr: "*/2 * * * *"},
	}
}

// LoadConfig reads path (JSON or YAML, chosen by extension; .yaml/.yml use
// YAML, anything else JSON), overlaying it onto DefaultConfig, then
// overlays environment variables via caarlos0/env. A missing file returns
// the defaults, matching the teacher's LoadConfig behavior.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, fmt.Errorf("config: applying env overrides: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing yaml %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing json %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: applying env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes cfg to path atomically, matching the file format the
// path extension implies.
func SaveConfig(path string, cfg *Config) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o600)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks that every route points at a declared connection. Two
// routes binding the same (port, path) is not a load-time error: the
// router resolves that at serve time by first-registered-wins with a
// warning, matching the reference implementation.
func (c *Config) Validate() error {
	for _, r := range c.Routes {
		if _, ok := c.Connections[r.ConnectionID]; !ok {
			return fmt.Errorf("config: route %s:%d%s references unknown connection %q", r.Host, r.Port, r.Path, r.ConnectionID)
		}
	}
	return nil
}
