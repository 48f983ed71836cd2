package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.Discovery.Service != "_kef-info._tcp" {
		t.Errorf("default discovery service = %q, want _kef-info._tcp", cfg.Discovery.Service)
	}
	if cfg.Speaker.FailureThreshold != 3 {
		t.Errorf("default failure threshold = %d, want 3", cfg.Speaker.FailureThreshold)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  port: 9000
speaker:
  poll_timeout: 45
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.API.Port != 9000 {
		t.Errorf("api.port = %d, want 9000", cfg.API.Port)
	}
	if cfg.Speaker.PollTimeout != 45 {
		t.Errorf("speaker.poll_timeout = %d, want 45", cfg.Speaker.PollTimeout)
	}
	// Untouched sections keep defaults.
	if cfg.Discovery.BrowseInterval != 15 {
		t.Errorf("discovery.browse_interval = %d, want default 15", cfg.Discovery.BrowseInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEFD_API_PORT", "7777")
	t.Setenv("KEFD_MQTT_HOST", "broker.example")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("api:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.API.Port != 7777 {
		t.Errorf("env override lost: api.port = %d, want 7777", cfg.API.Port)
	}
	if cfg.MQTT.Broker.Host != "broker.example" {
		t.Errorf("mqtt host = %q, want broker.example", cfg.MQTT.Broker.Host)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "empty service",
			mutate:  func(c *Config) { c.Discovery.Service = "" },
			wantMsg: "discovery.service",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Speaker.FailureThreshold = 0 },
			wantMsg: "failure_threshold",
		},
		{
			name:    "backoff max below initial",
			mutate:  func(c *Config) { c.Speaker.BackoffInitial = 10; c.Speaker.BackoffMax = 5 },
			wantMsg: "backoff",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantMsg: "api.port",
		},
		{
			name:    "mqtt enabled without host",
			mutate:  func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker.Host = "" },
			wantMsg: "mqtt.broker.host",
		},
		{
			name:    "influxdb enabled without token",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "http://localhost:8086" },
			wantMsg: "influxdb.token",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantMsg: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if got := cfg.GracePeriod().Seconds(); got != 45 {
		t.Errorf("GracePeriod = %vs, want 45s", got)
	}
	if got := cfg.PollTimeout().Seconds(); got != 30 {
		t.Errorf("PollTimeout = %vs, want 30s", got)
	}
}
