package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for kefd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Discovery Discovery `yaml:"discovery"`
	Speaker   Speaker   `yaml:"speaker"`
	API       API       `yaml:"api"`
	WebSocket WebSocket `yaml:"websocket"`
	MQTT      MQTT      `yaml:"mqtt"`
	History   History   `yaml:"history"`
	InfluxDB  InfluxDB  `yaml:"influxdb"`
	Logging   Logging   `yaml:"logging"`
}

// Discovery contains mDNS browse settings.
type Discovery struct {
	// Service is the mDNS service type advertised by KEF speakers.
	Service string `yaml:"service"`

	// Domain is the mDNS domain, normally "local.".
	Domain string `yaml:"domain"`

	// BrowseInterval is the seconds between browse cycles.
	BrowseInterval int `yaml:"browse_interval"`

	// GraceIntervals is how many browse cycles a speaker may miss before
	// it is reported lost. mDNS announcements are lossy; a single missed
	// cycle is not evidence of removal.
	GraceIntervals int `yaml:"grace_intervals"`
}

// Speaker contains per-device session settings.
type Speaker struct {
	// CommandTimeout is the timeout in seconds for command and single-value
	// read exchanges.
	CommandTimeout int `yaml:"command_timeout"`

	// PollTimeout is the server-side wait in seconds for long-poll exchanges.
	PollTimeout int `yaml:"poll_timeout"`

	// FailureThreshold is the number of consecutive transport failures
	// before a speaker is marked unreachable.
	FailureThreshold int `yaml:"failure_threshold"`

	// BackoffInitial and BackoffMax bound the exponential retry backoff
	// (seconds) once a speaker is unreachable.
	BackoffInitial int `yaml:"backoff_initial"`
	BackoffMax     int `yaml:"backoff_max"`
}

// API contains HTTP API server settings.
type API struct {
	Host     string      `yaml:"host"`
	Port     int         `yaml:"port"`
	Timeouts APITimeouts `yaml:"timeouts"`
	CORS     CORS        `yaml:"cors"`
}

// APITimeouts contains HTTP timeout settings in seconds.
type APITimeouts struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORS contains Cross-Origin Resource Sharing settings.
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocket contains WebSocket server settings.
type WebSocket struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTT contains MQTT broker connection settings for the optional bridge.
type MQTT struct {
	Enabled   bool          `yaml:"enabled"`
	Broker    MQTTBroker    `yaml:"broker"`
	Auth      MQTTAuth      `yaml:"auth"`
	QoS       int           `yaml:"qos"`
	Reconnect MQTTReconnect `yaml:"reconnect"`
}

// MQTTBroker contains MQTT broker connection details.
type MQTTBroker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuth contains MQTT authentication credentials.
type MQTTAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnect contains MQTT reconnection settings in seconds.
type MQTTReconnect struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// History contains SQLite state-history settings.
type History struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long state transitions are kept before pruning.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDB contains InfluxDB export settings.
type InfluxDB struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Logging contains logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, parses, and validates a YAML configuration file.
//
// Defaults are applied first, then the file, then the environment
// variables listed on applyEnvOverrides (e.g. KEFD_API_PORT).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
// A default configuration is valid without any file present.
func Default() *Config {
	return &Config{
		Discovery: Discovery{
			Service:        "_kef-info._tcp",
			Domain:         "local.",
			BrowseInterval: 15,
			GraceIntervals: 3,
		},
		Speaker: Speaker{
			CommandTimeout:   5,
			PollTimeout:      30,
			FailureThreshold: 3,
			BackoffInitial:   1,
			BackoffMax:       30,
		},
		API: API{
			Host: "127.0.0.1",
			Port: 8375,
			Timeouts: APITimeouts{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocket{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTT{
			Broker: MQTTBroker{
				Host:     "localhost",
				Port:     1883,
				ClientID: "kefd",
			},
			QoS: 1,
			Reconnect: MQTTReconnect{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		History: History{
			Path:          "./data/kefd.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides for the
// deployment-sensitive settings: KEFD_DISCOVERY_SERVICE, KEFD_API_HOST,
// KEFD_API_PORT, KEFD_MQTT_HOST, KEFD_MQTT_USERNAME, KEFD_MQTT_PASSWORD,
// KEFD_HISTORY_PATH and KEFD_INFLUXDB_TOKEN. Everything else comes from
// the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KEFD_DISCOVERY_SERVICE"); v != "" {
		cfg.Discovery.Service = v
	}
	if v := os.Getenv("KEFD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("KEFD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("KEFD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KEFD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KEFD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("KEFD_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("KEFD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Discovery.Service == "" {
		errs = append(errs, "discovery.service is required")
	}
	if c.Discovery.BrowseInterval <= 0 {
		errs = append(errs, "discovery.browse_interval must be positive")
	}
	if c.Discovery.GraceIntervals <= 0 {
		errs = append(errs, "discovery.grace_intervals must be positive")
	}

	if c.Speaker.CommandTimeout <= 0 {
		errs = append(errs, "speaker.command_timeout must be positive")
	}
	if c.Speaker.PollTimeout <= 0 {
		errs = append(errs, "speaker.poll_timeout must be positive")
	}
	if c.Speaker.FailureThreshold <= 0 {
		errs = append(errs, "speaker.failure_threshold must be positive")
	}
	if c.Speaker.BackoffInitial <= 0 || c.Speaker.BackoffMax < c.Speaker.BackoffInitial {
		errs = append(errs, "speaker backoff bounds are invalid")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not recognised", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BrowseInterval returns the discovery browse interval as a Duration.
func (c *Config) BrowseInterval() time.Duration {
	return time.Duration(c.Discovery.BrowseInterval) * time.Second
}

// GracePeriod returns how long a speaker may go unseen before it is
// reported lost.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Discovery.BrowseInterval*c.Discovery.GraceIntervals) * time.Second
}

// CommandTimeout returns the command exchange timeout as a Duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Speaker.CommandTimeout) * time.Second
}

// PollTimeout returns the long-poll wait as a Duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Speaker.PollTimeout) * time.Second
}
