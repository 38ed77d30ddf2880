// Package config holds the tool's settings: a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the persisted configuration. Zero values fall back to
// defaults at load time.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// Addr is the listen address for the serve subcommand.
	Addr string `yaml:"addr"`

	// JWTSecret, when non-empty, makes the server require HS256
	// bearer tokens signed with it.
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the built-in configuration: database under
// ~/.opensearch-app, server on :8080.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DBPath: filepath.Join(home, ".opensearch-app", "todos.db"),
		Addr:   ":8080",
	}
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".opensearch-app", "config.yaml")
}

// Load reads the config file at path, fills unset fields with
// defaults, and applies env overrides. A missing file is not an
// error: defaults plus env are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
		defaults := Default()
		if cfg.DBPath == "" {
			cfg.DBPath = defaults.DBPath
		}
		if cfg.Addr == "" {
			cfg.Addr = defaults.Addr
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes the config as YAML, creating the parent directory if
// needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TODO_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("TODO_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("TODO_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
}
