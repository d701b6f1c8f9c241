package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the modeldb server and tools.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Search  SearchConfig  `yaml:"search"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateRPS limits requests per second; 0 disables rate limiting.
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

// StorageConfig holds catalog storage configuration.
type StorageConfig struct {
	Path string `yaml:"path"` // catalog database file
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"` // used when a search omits limit
	MaxLimit     int `yaml:"max_limit"`     // hard cap per request
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8001",
			RateRPS:   0,
			RateBurst: 32,
		},
		Storage: StorageConfig{
			Path: "", // resolved against the data directory when empty
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for modeldb.yaml,
// then .modeldb/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "modeldb.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".modeldb", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overrides fields from a .env file and MODELDB_* variables.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("MODELDB_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MODELDB_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("MODELDB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MODELDB_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Server.RateRPS = f
		}
	}
}

// CatalogPath returns the path to the catalog database under dir.
func CatalogPath(dir string) string {
	return filepath.Join(dir, ".modeldb", "catalog.db")
}

// EnsureDataDir ensures the .modeldb directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".modeldb"), 0755)
}
