package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
)

// EnvPrefix prefixes every environment override, e.g. HUDDLE_LOG_LEVEL.
const EnvPrefix = "HUDDLE_"

// Config represents the global ~/.huddle/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance" env:"DEFAULT_INSTANCE"`
	LogLevel        string `toml:"log_level" env:"LOG_LEVEL"`
	// UniqueConversations rejects a second conversation between the same pair.
	UniqueConversations bool `toml:"unique_conversations" env:"UNIQUE_CONVERSATIONS"`
	// MetricsAddr is the listen address of the /metrics endpoint. Empty disables it.
	MetricsAddr  string `toml:"metrics_addr" env:"METRICS_ADDR"`
	BlobBaseURL  string `toml:"blob_base_url" env:"BLOB_BASE_URL"`
	BlobMaxBytes int64  `toml:"blob_max_bytes" env:"BLOB_MAX_BYTES"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultInstance: "main",
		LogLevel:        "info",
		BlobMaxBytes:    10 << 20,
	}
}

// Load reads config from the given path. Returns error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads path if it exists, falls back to Default otherwise, and
// applies environment overrides.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any HUDDLE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env config: %w", err)
	}
	return nil
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
