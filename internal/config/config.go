package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the TOML-driven configuration for timebill. Secrets may also be
// supplied through the environment, which takes precedence over the file:
// RESCUETIME_API_KEY, ALP_API_KEY and TIMEBILL_MYSQL_DSN.
type Config struct {
	RescueTime RescueTimeConfig `toml:"rescuetime"`
	ALP        ALPConfig        `toml:"alp"`
	Database   DatabaseConfig   `toml:"database"`
	Server     ServerConfig     `toml:"server"`
	Sync       SyncConfig       `toml:"sync"`
}

// RescueTimeConfig configures the upstream telemetry API.
type RescueTimeConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// ALPConfig configures the downstream practice-management API and the
// defaults applied to submitted entries.
type ALPConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	UserID  int64  `toml:"user_id"`
	Rate    int64  `toml:"rate"`
}

// DatabaseConfig is a tagged union: Type selects the store and decides which
// other fields apply.
type DatabaseConfig struct {
	Type string `toml:"type"`           // "sqlite" (default), "memory" or "mysql"
	Path string `toml:"path,omitempty"` // only for type=sqlite
	DSN  string `toml:"dsn,omitempty"`  // only for type=mysql
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// SyncConfig configures the fetch scheduler.
type SyncConfig struct {
	Timezone             string `toml:"timezone"`
	MinFetchIntervalMins int    `toml:"min_fetch_interval_minutes"`
}

// Default returns the configuration written by `timebill config init`.
func Default() *Config {
	return &Config{
		RescueTime: RescueTimeConfig{BaseURL: "https://www.rescuetime.com"},
		ALP:        ALPConfig{BaseURL: "https://alp.example.com/api"},
		Database:   DatabaseConfig{Type: "sqlite", Path: "timebill.db"},
		Server:     ServerConfig{Addr: ":8000"},
		Sync:       SyncConfig{Timezone: "UTC", MinFetchIntervalMins: 15},
	}
}

// Read decodes a Config from the provided reader and applies defaults for
// omitted fields.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// ReadFromFile loads the config file and applies environment overrides.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Load returns the config at path, or the defaults (with env overrides) when
// no file exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return ReadFromFile(path)
}

// Init writes a fresh default config at path, refusing to clobber one that
// already exists.
func Init(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := Write(f, cfg); err != nil {
		return nil, fmt.Errorf("initializing config at %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RESCUETIME_API_KEY"); v != "" {
		c.RescueTime.APIKey = v
	}
	if v := os.Getenv("ALP_API_KEY"); v != "" {
		c.ALP.APIKey = v
	}
	if v := os.Getenv("TIMEBILL_MYSQL_DSN"); v != "" {
		c.Database.Type = "mysql"
		c.Database.DSN = v
	}
}
