package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: ":5353"
  udp_enabled: true
logging:
  level: debug
  format: json
storage:
  database_path: /tmp/test.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Values from the file.
	if cfg.Server.ListenAddress != ":5353" {
		t.Errorf("Expected listen address :5353, got %s", cfg.Server.ListenAddress)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Storage.DatabasePath != "/tmp/test.db" {
		t.Errorf("Expected database path /tmp/test.db, got %s", cfg.Storage.DatabasePath)
	}

	// Defaults fill the gaps.
	if cfg.Storage.CleanupInterval != time.Hour {
		t.Errorf("Expected default cleanup interval 1h, got %s", cfg.Storage.CleanupInterval)
	}
	if cfg.Storage.ConnectRetries != 3 {
		t.Errorf("Expected default connect retries 3, got %d", cfg.Storage.ConnectRetries)
	}
	if cfg.API.ListenAddress != ":3000" {
		t.Errorf("Expected default API address :3000, got %s", cfg.API.ListenAddress)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg := LoadWithDefaults()
	if cfg == nil {
		t.Fatal("LoadWithDefaults() returned nil")
	}

	if cfg.Server.ListenAddress != ":53" {
		t.Errorf("Expected default listen address :53, got %s", cfg.Server.ListenAddress)
	}
	if !cfg.Server.UDPEnabled || !cfg.Server.TCPEnabled {
		t.Error("Expected UDP and TCP enabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Storage.DatabasePath != "./localdns.db" {
		t.Errorf("Expected default database path ./localdns.db, got %s", cfg.Storage.DatabasePath)
	}
	if cfg.Telemetry.ServiceName != "localdns" {
		t.Errorf("Expected default service name localdns, got %s", cfg.Telemetry.ServiceName)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "no listeners",
			mutate: func(c *Config) {
				c.Server.UDPEnabled = false
				c.Server.TCPEnabled = false
			},
			wantErr: true,
		},
		{
			name: "zero retries",
			mutate: func(c *Config) {
				c.Storage.ConnectRetries = 0
			},
			wantErr: true,
		},
		{
			name: "auth without hash",
			mutate: func(c *Config) {
				c.API.AuthEnabled = true
				c.API.AuthUser = "admin"
			},
			wantErr: true,
		},
		{
			name: "auth with hash",
			mutate: func(c *Config) {
				c.API.AuthEnabled = true
				c.API.AuthUser = "admin"
				c.API.AuthPasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadWithDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
