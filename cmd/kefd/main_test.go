package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestConfig writes a config file and points KEFD_CONFIG at it.
func writeTestConfig(t *testing.T, content string) {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("KEFD_CONFIG", configPath)
}

func TestRun_InvalidConfigPath(t *testing.T) {
	t.Setenv("KEFD_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InvalidConfigContent(t *testing.T) {
	writeTestConfig(t, `
discovery:
  service: ""
  browse_interval: 0
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail validation with empty service")
	}
}

// TestRun_StartupAndShutdown runs the daemon with every optional
// integration disabled and verifies it starts and exits cleanly when
// the context is cancelled.
func TestRun_StartupAndShutdown(t *testing.T) {
	writeTestConfig(t, `
discovery:
  service: "_kef-info._tcp"
  domain: "local."
  browse_interval: 1
  grace_intervals: 3

api:
  host: "127.0.0.1"
  port: 18375

mqtt:
  enabled: false

history:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestRun_WithHistory verifies the daemon creates and migrates the
// history database on startup.
func TestRun_WithHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	writeTestConfig(t, `
discovery:
  service: "_kef-info._tcp"
  browse_interval: 1
  grace_intervals: 3

api:
  host: "127.0.0.1"
  port: 18376

mqtt:
  enabled: false

history:
  enabled: true
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
  retention_days: 7

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("history database was not created: %v", err)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("KEFD_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("KEFD_CONFIG", "/custom/path/config.yaml")

	if path := getConfigPath(); path != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want /custom/path/config.yaml", path)
	}
}
