// sensorgw - XBee sensor gateway
//
// This is the main entry point for the sensor gateway. It reads API frames
// from an XBee coordinator on a serial port, converts analog samples to
// temperature readings and publishes them to an MQTT broker:
//   - Serial frame assembly with checksum validation
//   - MQTT publishing with a single reconnect on transport failure
//   - Optional InfluxDB telemetry and a SQLite journal of dropped frames
//   - mDNS advertisement of the gateway on the local network
//
// Sending SIGUSR1 toggles the upstream broker link.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/sensorgw/internal/diagnostics"
	"github.com/nerrad567/sensorgw/internal/discovery"
	"github.com/nerrad567/sensorgw/internal/gateway"
	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
	"github.com/nerrad567/sensorgw/internal/infrastructure/database"
	"github.com/nerrad567/sensorgw/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensorgw/internal/infrastructure/logging"
	"github.com/nerrad567/sensorgw/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensorgw/internal/xbee"
	"github.com/nerrad567/sensorgw/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// toggleTimeout bounds an upstream toggle triggered by SIGUSR1.
const toggleTimeout = 30 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting sensorgw",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings. This logger never forwards
	// to the broker; the MQTT client logs through it.
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the dropped frame journal (optional)
	var (
		db      *database.DB
		journal *diagnostics.Journal
	)
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", db.Path())

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		journal = diagnostics.NewJournal(db.DB, cfg.Database.JournalLimit)
		if n, countErr := journal.Count(ctx); countErr == nil {
			log.Info("dropped frame journal ready", "entries", n, "limit", cfg.Database.JournalLimit)
		}
	} else {
		log.Info("dropped frame journal disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB,
			influxdb.WithDefaultTag("gateway", cfg.Gateway.Name),
		)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT client (connected by the gateway)
	clientID := cfg.MQTT.Broker.ClientID
	if clientID == "" {
		clientID = gateway.ClientID()
	}
	mqttClient := mqtt.New(cfg.MQTT,
		mqtt.WithLogger(log.With("component", "mqtt")),
		mqtt.WithClientID(clientID),
	)

	gw, err := newGateway(cfg, mqttClient, journal, influxClient, log)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	// From here on, application logs are also forwarded to the broker log topic.
	appLog := logging.New(cfg.Logging, version, gw.LogSink())
	gw.SetLogger(appLog)
	mqttClient.SetOnMessage(gw.HandleMessage)

	// Open the coordinator radio
	port, err := xbee.OpenPort(cfg.Serial.Device, cfg.Serial.Baud)
	if err != nil {
		gw.Stop()
		return fmt.Errorf("opening serial port: %w", err)
	}
	device := xbee.NewDevice(port, xbee.DeviceOptions{
		Logger:         appLog.With("component", "xbee"),
		ReadBufferSize: cfg.Serial.ReadBuffer,
		MaxBuffered:    cfg.Serial.MaxBuffered,
	})
	device.SetOnFrame(gw.HandleFrame)
	device.SetOnDropped(gw.HandleDropped)
	device.SetOnBytes(gw.HandleBytes)
	gw.SetSerial(device)

	if err := gw.Start(ctx); err != nil {
		gw.Stop()
		_ = device.Close()
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer func() {
		log.Info("stopping gateway")
		gw.Stop()
	}()

	device.Start()
	defer func() {
		log.Info("closing serial port")
		if closeErr := device.Close(); closeErr != nil {
			log.Error("error closing serial port", "error", closeErr)
		}
	}()
	log.Info("serial port open",
		"device", cfg.Serial.Device,
		"baud", cfg.Serial.Baud,
	)

	// Advertise on the local network (optional)
	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser = discovery.NewAdvertiser(cfg.DiscoveryName(), cfg.Discovery, appLog.With("component", "discovery"))
		if advErr := advertiser.Start(advertisedTXT(cfg, mqttClient)); advErr != nil {
			log.Warn("mdns advertisement failed to start", "error", advErr)
			advertiser = nil
		} else {
			defer advertiser.Stop()
		}
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, cfg, mqttClient, influxClient, db); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	toggle, stopToggle := notifyToggle()
	defer stopToggle()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")

			// Deferred calls run in reverse order:
			// 1. mDNS advertisement (if enabled)
			// 2. Serial port
			// 3. Gateway (unsubscribe, MQTT disconnect)
			// 4. InfluxDB (if enabled)
			// 5. Database (if enabled)
			return nil

		case <-toggle:
			toggleUpstream(ctx, cfg, gw, advertiser, mqttClient, appLog)
		}
	}
}

// newGateway assembles the gateway from the optional collaborators,
// leaving absent ones unset rather than typed nil.
func newGateway(cfg *config.Config, broker *mqtt.Client, journal *diagnostics.Journal, influxClient *influxdb.Client, log *logging.Logger) (*gateway.Gateway, error) {
	opts := gateway.Options{
		Config: cfg,
		Broker: broker,
		Logger: log,
	}
	if journal != nil {
		opts.Journal = journal
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	return gateway.New(opts)
}

// toggleUpstream flips the broker link and refreshes the advertisement.
func toggleUpstream(ctx context.Context, cfg *config.Config, gw *gateway.Gateway, advertiser *discovery.Advertiser, mqttClient *mqtt.Client, log *logging.Logger) {
	toggleCtx, cancel := context.WithTimeout(ctx, toggleTimeout)
	defer cancel()

	up, err := gw.ToggleUpstream(toggleCtx)
	if err != nil {
		log.Error("upstream toggle failed", "error", err)
	} else {
		log.Info("upstream toggled", "connected", up)
	}

	if advertiser != nil {
		advertiser.Update(advertisedTXT(cfg, mqttClient))
	}
}

// advertisedTXT returns the mDNS TXT attributes for the gateway.
func advertisedTXT(cfg *config.Config, mqttClient *mqtt.Client) map[string]string {
	return map[string]string{
		"version":    version,
		"client_id":  mqttClient.ClientID(),
		"upstream":   mqttClient.State().String(),
		"topic_root": mqtt.NewTopics(cfg.MQTT).Root(),
	}
}

// getConfigPath returns the configuration file path.
// Uses SENSORGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SENSORGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections are healthy.
//
// The broker is only checked when the gateway connects at startup.
// InfluxDB and the database are skipped when disabled (nil).
func healthCheck(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, influxClient *influxdb.Client, db *database.DB) error {
	if cfg.Gateway.AutoStart {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	return nil
}
