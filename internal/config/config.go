package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the command line tools.
type Config struct {
	DataDir     string `yaml:"data_dir" env:"PM_DATA_DIR"`
	DBFile      string `yaml:"db_file" env:"PM_DB_FILE"`
	LogLevel    string `yaml:"log_level" env:"PM_LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"PM_LOG_FORMAT"`
	BreachCheck bool   `yaml:"breach_check" env:"PM_BREACH_CHECK"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:   defaultDataDir(),
		DBFile:    "vault.db",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the YAML file at path (if it exists) over the defaults and then applies
// PM_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if err := c.loadYaml(path); err != nil {
		return nil, err
	}
	if err := c.loadEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadYaml(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate rejects configurations the tools cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.DBFile == "" {
		return errors.New("config: db_file is required")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// DatabasePath is the vault database location. An absolute DBFile is used as is.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.DBFile) {
		return c.DBFile
	}
	return filepath.Join(c.DataDir, c.DBFile)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vaultcore")
	}
	return "./dev-vault"
}
