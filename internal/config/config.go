package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultListenAddr is the loopback address the daemon API binds when the
// config file does not say otherwise.
const DefaultListenAddr = "127.0.0.1:7373"

// Config represents the global ~/.metromsg/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Daemon         Daemon `toml:"daemon"`
}

// Daemon holds daemon-level settings.
type Daemon struct {
	// Listen is the HTTP API listen address.
	Listen string `toml:"listen"`
	// DefaultHandler marks this instance as the platform's default
	// messaging handler. Only the default handler may suppress broadcasts.
	DefaultHandler bool `toml:"default_handler"`
	// OutboxIntervalMs is the outbox drain poll interval in milliseconds.
	OutboxIntervalMs int `toml:"outbox_interval_ms"`
}

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = DefaultListenAddr
	}
	if c.Daemon.OutboxIntervalMs <= 0 {
		c.Daemon.OutboxIntervalMs = 500
	}
}
