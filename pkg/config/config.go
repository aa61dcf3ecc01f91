// Package config loads and validates the YAML configuration file and
// provides hot reload through an fsnotify-based watcher.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"localdns/pkg/logging"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   logging.Config  `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	API       APIConfig       `yaml:"api"`
}

// ServerConfig holds DNS listener settings
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	UDPEnabled    bool   `yaml:"udp_enabled"`
	TCPEnabled    bool   `yaml:"tcp_enabled"`
}

// StorageConfig holds SQLite settings
type StorageConfig struct {
	DatabasePath     string        `yaml:"database_path"`
	BusyTimeout      int           `yaml:"busy_timeout"` // milliseconds
	WALMode          bool          `yaml:"wal_mode"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	ConnectRetries   int           `yaml:"connect_retries"`
	ConnectBackoff   time.Duration `yaml:"connect_backoff"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// APIConfig holds admin API settings
type APIConfig struct {
	ListenAddress string `yaml:"listen_address"`
	AuthEnabled   bool   `yaml:"auth_enabled"`
	AuthUser      string `yaml:"auth_user"`
	// Bcrypt hash of the admin password, as produced by
	// golang.org/x/crypto/bcrypt.GenerateFromPassword.
	AuthPasswordHash string `yaml:"auth_password_hash"`
}

// Load loads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":53"
		c.Server.UDPEnabled = true
		c.Server.TCPEnabled = true
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./localdns.db"
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = 5000
	}
	if c.Storage.CleanupInterval == 0 {
		c.Storage.CleanupInterval = time.Hour
	}
	if c.Storage.ConnectRetries == 0 {
		c.Storage.ConnectRetries = 3
	}
	if c.Storage.ConnectBackoff == 0 {
		c.Storage.ConnectBackoff = time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "localdns"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":3000"
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if !c.Server.UDPEnabled && !c.Server.TCPEnabled {
		return fmt.Errorf("at least one of udp_enabled or tcp_enabled must be set")
	}
	if c.Storage.ConnectRetries < 1 {
		return fmt.Errorf("connect_retries must be at least 1")
	}
	if c.API.AuthEnabled && c.API.AuthPasswordHash == "" {
		return fmt.Errorf("auth_enabled requires auth_password_hash")
	}
	return nil
}
