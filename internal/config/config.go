package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SiteConfig is a site the client is logged in to.
type SiteConfig struct {
	ID               string   `json:"id,omitempty"`
	URL              string   `json:"url"`
	Username         string   `json:"username"`
	Version          string   `json:"version,omitempty"`
	DisabledFeatures []string `json:"disabled_features,omitempty"`
}

type CronConfig struct {
	Store             string  `json:"store"`
	MinIntervalMS     int64   `json:"min_interval_ms"`
	DefaultIntervalMS int64   `json:"default_interval_ms"`
	MaxTimeProcessMS  int64   `json:"max_time_process_ms"`
	RetryMultiplier   float64 `json:"retry_multiplier"`
	SyncOnlyOnWifi    bool    `json:"sync_only_on_wifi"`
}

func (c CronConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

func (c CronConfig) DefaultInterval() time.Duration {
	return time.Duration(c.DefaultIntervalMS) * time.Millisecond
}

func (c CronConfig) MaxTimeProcess() time.Duration {
	return time.Duration(c.MaxTimeProcessMS) * time.Millisecond
}

type LinksConfig struct {
	Manifest         string `json:"manifest"`
	ChoiceTTLSeconds int    `json:"choice_ttl_seconds"`
}

func (c LinksConfig) ChoiceTTL() time.Duration {
	return time.Duration(c.ChoiceTTLSeconds) * time.Second
}

type NetworkConfig struct {
	Online bool `json:"online"`
	Wifi   bool `json:"wifi"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Token   string `json:"token"`
}

type Config struct {
	DataDir     string        `json:"data_dir"`
	LogLevel    string        `json:"log_level"`
	CurrentSite string        `json:"current_site"`
	Sites       []SiteConfig  `json:"sites"`
	Cron        CronConfig    `json:"cron"`
	Links       LinksConfig   `json:"links"`
	Network     NetworkConfig `json:"network"`
	HTTP        HTTPConfig    `json:"http"`
}

// DefaultPath returns ~/.coredelegate/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".coredelegate", "config.json")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".coredelegate"),
		LogLevel: "info",
	}
	cfg.Cron.Store = "json"
	cfg.Cron.MinIntervalMS = (4 * time.Minute).Milliseconds()
	cfg.Cron.DefaultIntervalMS = time.Hour.Milliseconds()
	cfg.Cron.MaxTimeProcessMS = (2 * time.Minute).Milliseconds()
	cfg.Cron.RetryMultiplier = 1
	cfg.Links.ChoiceTTLSeconds = 300
	cfg.Network.Online = true
	cfg.Network.Wifi = true
	cfg.HTTP.Listen = "127.0.0.1:8787"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeAtomic(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dir := os.Getenv("COREDELEGATE_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if level := os.Getenv("COREDELEGATE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if token := os.Getenv("COREDELEGATE_HTTP_TOKEN"); token != "" {
		cfg.HTTP.Token = token
	}

	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	return writeAtomic(path, cfg)
}

func writeAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// LastRunPath is the JSON file holding cron last-run timestamps.
func (c *Config) LastRunPath() string {
	return filepath.Join(c.DataDir, "cron.json")
}

// DatabasePath is the SQLite database used when cron.store is "sqlite".
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "cron.db")
}

func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "delegatectl.pid")
}

// ManifestPath resolves links.manifest, the addon manifest declaring link
// and other handlers, relative to the data dir.
func (c *Config) ManifestPath() string {
	if c.Links.Manifest == "" || filepath.IsAbs(c.Links.Manifest) {
		return c.Links.Manifest
	}
	return filepath.Join(c.DataDir, c.Links.Manifest)
}

// ToMap converts cfg to a generic map through its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every config value keyed by its dotted path.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

// GetValue reads one dotted key from the config file, creating the file
// with defaults if needed.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := subtree(Flatten(m), key)
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets one dotted key in the config file. The value is parsed as
// JSON when possible and stored as a string otherwise.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	flat := Flatten(m)
	assign(flat, key, parsed)
	return writeAtomic(path, Unflatten(flat))
}
