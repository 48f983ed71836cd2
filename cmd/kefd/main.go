// kefd - network control daemon for KEF wireless speakers.
//
// kefd discovers speakers on the local network over mDNS, maintains a
// control session per speaker, and exposes their state through a REST
// API, a WebSocket event stream, and optional MQTT, SQLite history, and
// InfluxDB integrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/kefd/migrations"

	"github.com/nerrad567/kefd/internal/api"
	"github.com/nerrad567/kefd/internal/bridges/influxexport"
	"github.com/nerrad567/kefd/internal/bridges/mqttbridge"
	"github.com/nerrad567/kefd/internal/discovery"
	"github.com/nerrad567/kefd/internal/history"
	"github.com/nerrad567/kefd/internal/infrastructure/config"
	"github.com/nerrad567/kefd/internal/infrastructure/database"
	"github.com/nerrad567/kefd/internal/infrastructure/influxdb"
	"github.com/nerrad567/kefd/internal/infrastructure/logging"
	"github.com/nerrad567/kefd/internal/infrastructure/mqtt"
	"github.com/nerrad567/kefd/internal/kef"
	"github.com/nerrad567/kefd/internal/speaker"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting kefd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open history database (optional)
	var db *database.DB
	if cfg.History.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()
		log.Info("history database connected", "path", cfg.History.Path)

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("history migrations complete")
	} else {
		log.Info("history disabled")
	}

	// Speaker registry with a session factory per discovered device
	registry := speaker.NewRegistry(speaker.RegistryConfig{
		Factory: sessionFactory(cfg, log),
		Logger:  log.With("component", "registry"),
	})
	registry.Start(ctx)
	defer func() {
		log.Info("stopping registry")
		registry.Stop()
	}()
	log.Info("speaker registry started")

	// History recorder (optional)
	if cfg.History.Enabled {
		recorder := history.NewRecorder(history.Config{
			Retention: time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
			Logger:    log.With("component", "history"),
		}, history.NewRepository(db.DB), registry)
		if startErr := recorder.Start(ctx); startErr != nil {
			return fmt.Errorf("starting history recorder: %w", startErr)
		}
		defer func() {
			log.Info("stopping history recorder")
			recorder.Stop()
		}()
		log.Info("history recorder started", "retention_days", cfg.History.RetentionDays)
	}

	// mDNS discovery feeding the registry
	watcher := discovery.NewWatcher(discovery.Config{
		Service:        cfg.Discovery.Service,
		Domain:         cfg.Discovery.Domain,
		BrowseInterval: cfg.BrowseInterval(),
		GracePeriod:    cfg.GracePeriod(),
		Events:         registry.DiscoverySink(),
		Logger:         log.With("component", "discovery"),
	})
	watcher.Start(ctx)
	defer func() {
		log.Info("stopping discovery")
		watcher.Stop()
	}()
	log.Info("discovery started",
		"service", cfg.Discovery.Service,
		"browse_interval", cfg.BrowseInterval().String(),
	)

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge := mqttbridge.New(mqttbridge.Config{
			QoS:    byte(cfg.MQTT.QoS),
			Logger: log.With("component", "mqtt_bridge"),
		}, mqttClient, registry)
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB export (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		exporter := influxexport.New(influxexport.Config{
			Logger: log.With("component", "influx_export"),
		}, influxClient, registry)
		exporter.Start(ctx)
		defer func() {
			log.Info("stopping InfluxDB exporter")
			exporter.Stop()
		}()
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API and WebSocket event stream
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.With("component", "api"),
		Control: registry,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API first so no new
	// commands arrive, then the bridges, then the registry (which stops
	// every session), then the infrastructure connections.

	log.Info("kefd stopped")
	return nil
}

// sessionFactory builds the per-speaker controller the registry starts
// for each discovered device. The registry sets the target address
// before Start.
func sessionFactory(cfg *config.Config, log *logging.Logger) speaker.ControllerFactory {
	return func(identity string, events chan<- kef.SessionEvent) speaker.Controller {
		transport := kef.NewTransport(kef.TransportConfig{
			CommandTimeout: cfg.CommandTimeout(),
			PollTimeout:    cfg.PollTimeout(),
		})
		return kef.NewSession(kef.SessionConfig{
			Identity:         identity,
			FailureThreshold: cfg.Speaker.FailureThreshold,
			BackoffInitial:   time.Duration(cfg.Speaker.BackoffInitial) * time.Second,
			BackoffMax:       time.Duration(cfg.Speaker.BackoffMax) * time.Second,
			Events:           events,
			Logger:           log.With("component", "session", "identity", identity),
		}, transport)
	}
}

// getConfigPath returns the configuration file path.
// Uses KEFD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("KEFD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
