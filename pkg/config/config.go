// Package config holds the application configuration: a JSON file with
// environment-variable overrides for deployment-critical settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Catalog CatalogConfig `json:"catalog"`
	Session SessionConfig `json:"session"`
	Uploads UploadsConfig `json:"uploads"`
	Pool    PoolConfig    `json:"pool"`
	Merge   MergeConfig   `json:"merge"`
	MCP     MCPConfig     `json:"mcp"`
	Log     LogConfig     `json:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// StorageConfig configures the table log root.
type StorageConfig struct {
	// DataRoot is the base directory of every dataset. Overridden by the
	// DELTA_DATA_ROOT environment variable.
	DataRoot string `json:"data_root"`
}

// CatalogConfig configures the durable catalog.
type CatalogConfig struct {
	Dir      string `json:"dir"`
	InMemory bool   `json:"in_memory"`
}

// SessionConfig configures live-edit sessions.
type SessionConfig struct {
	TTL           time.Duration `json:"ttl"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// UploadsConfig configures the staging upload store.
type UploadsConfig struct {
	TTL           time.Duration `json:"ttl"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// PoolConfig sizes the blocking-write worker pool.
type PoolConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// MergeConfig configures the merge executor.
type MergeConfig struct {
	// ArchiveStaging moves merged staging tables aside instead of
	// deleting them.
	ArchiveStaging bool `json:"archive_staging"`
}

// MCPConfig configures the optional MCP tool surface.
type MCPConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// LogConfig configures process logging.
type LogConfig struct {
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Storage: StorageConfig{DataRoot: "/data/delta"},
		Catalog: CatalogConfig{Dir: "/data/delta/_catalog"},
		Session: SessionConfig{TTL: 24 * time.Hour, SweepInterval: 10 * time.Minute},
		Uploads: UploadsConfig{TTL: 24 * time.Hour, SweepInterval: time.Hour},
		Pool:    PoolConfig{Workers: 8, QueueSize: 128},
		MCP:     MCPConfig{Enabled: false, Host: "127.0.0.1", Port: 8001},
		Log:     LogConfig{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
	}
}

// Load reads a config file over the defaults, then applies environment
// overrides. An empty path keeps the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if root := os.Getenv("DELTA_DATA_ROOT"); root != "" {
		c.Storage.DataRoot = root
		if os.Getenv("DELTA_CATALOG_DIR") == "" {
			c.Catalog.Dir = root + "/_catalog"
		}
	}
	if dir := os.Getenv("DELTA_CATALOG_DIR"); dir != "" {
		c.Catalog.Dir = dir
	}
	if host := os.Getenv("DELTA_HTTP_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("DELTA_HTTP_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			c.Server.Port = p
		}
	}
}
