package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the sensor gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Serial    SerialConfig    `yaml:"serial"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// GatewayConfig contains gateway identity and pipeline settings.
type GatewayConfig struct {
	// Name identifies this gateway on the local network and in telemetry.
	Name string `yaml:"name"`

	// QueueSize bounds the readings waiting to be published.
	// Readings arriving while the queue is full are dropped.
	QueueSize int `yaml:"queue_size"`

	// AutoStart connects upstream at startup. When false the upstream
	// link is only brought up by the toggle signal.
	AutoStart bool `yaml:"auto_start"`

	// StatsInterval is how often pipeline counters are written to
	// InfluxDB, in seconds. Zero disables the report.
	StatsInterval int `yaml:"stats_interval"`
}

// SerialConfig contains coordinator radio serial link settings.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// ReadBuffer is the size of a single serial read in bytes.
	ReadBuffer int `yaml:"read_buffer"`

	// MaxBuffered caps a buffered partial frame in bytes. 0 means no cap;
	// otherwise it must be at least MinMaxBuffered.
	MaxBuffered int `yaml:"max_buffered"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker        MQTTBrokerConfig   `yaml:"broker"`
	Auth          MQTTAuthConfig     `yaml:"auth"`
	QoS           int                `yaml:"qos"`           // publish QoS, 0 or 1
	KeepAlive     int                `yaml:"keep_alive"`    // seconds
	PingInterval  int                `yaml:"ping_interval"` // seconds, must be < keep_alive
	Connect       MQTTConnectConfig  `yaml:"connect"`
	Topics        MQTTTopicsConfig   `yaml:"topics"`
	Subscriptions []MQTTSubscription `yaml:"subscriptions"`

	// LogToBroker publishes log lines to the log topic.
	LogToBroker bool `yaml:"log_to_broker"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ClientID is derived from the network hardware address when empty.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTConnectConfig bounds the transport dial.
// The dial is polled Attempts times, Interval milliseconds apart.
type MQTTConnectConfig struct {
	Attempts int `yaml:"attempts"`
	Interval int `yaml:"interval"` // milliseconds
}

// MQTTTopicsConfig overrides the topic layout.
// Empty values fall back to users/<username>, <root>/sensors and <root>/log.
type MQTTTopicsConfig struct {
	Root    string `yaml:"root"`
	Sensors string `yaml:"sensors"`
	Log     string `yaml:"log"`
}

// MQTTSubscription is one topic subscribed to after connecting.
type MQTTSubscription struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// DatabaseConfig contains SQLite database settings for the diagnostics journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// JournalLimit caps the number of dropped frames kept. Zero keeps all.
	JournalLimit int `yaml:"journal_limit"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// RemoteLevel is the minimum level forwarded to log sinks
	// (such as the broker log topic).
	RemoteLevel string `yaml:"remote_level"`
}

// DiscoveryConfig contains LAN discoverability settings.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"` // defaults to gateway.name
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
	Port    int    `yaml:"port"`

	// Interfaces limits advertisement to the named interfaces. Empty means all.
	Interfaces []string `yaml:"interfaces"`
}

// MinMaxBuffered is the smallest non-zero serial.max_buffered accepted.
// It equals xbee.MinMaxBuffered.
const MinMaxBuffered = 128

// validBaudRates lists the serial speeds the termios layer supports.
var validBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SENSORGW_SECTION_KEY
// For example: SENSORGW_MQTT_HOST, SENSORGW_SERIAL_DEVICE
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Name:          "sensorgw",
			QueueSize:     64,
			AutoStart:     true,
			StatsInterval: 60,
		},
		Serial: SerialConfig{
			Device:     "/dev/ttyUSB0",
			Baud:       9600,
			ReadBuffer: 256,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:          0,
			KeepAlive:    20,
			PingInterval: 10,
			Connect: MQTTConnectConfig{
				Attempts: 10,
				Interval: 100,
			},
		},
		Database: DatabaseConfig{
			Enabled:      true,
			Path:         "./data/sensorgw.db",
			WALMode:      true,
			BusyTimeout:  5,
			JournalLimit: 1000,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Output:      "stdout",
			RemoteLevel: "info",
		},
		Discovery: DiscoveryConfig{
			Service: "_sensorgw._tcp",
			Domain:  "local.",
			Port:    1883,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SENSORGW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("SENSORGW_GATEWAY_NAME"); v != "" {
		cfg.Gateway.Name = v
	}

	// Serial
	if v := os.Getenv("SENSORGW_SERIAL_DEVICE"); v != "" {
		cfg.Serial.Device = v
	}

	// MQTT
	if v := os.Getenv("SENSORGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SENSORGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SENSORGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("SENSORGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("SENSORGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.Name == "" {
		errs = append(errs, "gateway.name is required")
	}
	if c.Gateway.QueueSize < 1 {
		errs = append(errs, "gateway.queue_size must be at least 1")
	}
	if c.Gateway.StatsInterval < 0 {
		errs = append(errs, "gateway.stats_interval must not be negative")
	}

	// Serial validation
	if c.Serial.Device == "" {
		errs = append(errs, "serial.device is required")
	}
	if !slices.Contains(validBaudRates, c.Serial.Baud) {
		errs = append(errs, fmt.Sprintf("serial.baud %d is not a supported rate", c.Serial.Baud))
	}
	if c.Serial.MaxBuffered < 0 {
		errs = append(errs, "serial.max_buffered must not be negative")
	} else if c.Serial.MaxBuffered > 0 && c.Serial.MaxBuffered < MinMaxBuffered {
		errs = append(errs, fmt.Sprintf("serial.max_buffered must be 0 or at least %d", MinMaxBuffered))
	}

	// MQTT validation
	errs = append(errs, c.MQTT.validate()...)

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.JournalLimit < 0 {
		errs = append(errs, "database.journal_limit must not be negative")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Discovery validation
	if c.Discovery.Enabled {
		if c.Discovery.Service == "" {
			errs = append(errs, "discovery.service is required when discovery is enabled")
		}
		if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
			errs = append(errs, "discovery.port must be between 1 and 65535")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (m MQTTConfig) validate() []string {
	var errs []string

	if m.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if m.Broker.Port < 1 || m.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if m.QoS < 0 || m.QoS > 1 {
		errs = append(errs, "mqtt.qos must be 0 or 1")
	}
	if m.KeepAlive < 1 || m.KeepAlive > 65535 {
		errs = append(errs, "mqtt.keep_alive must be between 1 and 65535 seconds")
	}
	if m.PingInterval < 1 {
		errs = append(errs, "mqtt.ping_interval must be at least 1 second")
	} else if m.PingInterval >= m.KeepAlive {
		errs = append(errs, "mqtt.ping_interval must be less than mqtt.keep_alive")
	}
	if m.Connect.Attempts < 1 {
		errs = append(errs, "mqtt.connect.attempts must be at least 1")
	}
	if m.Connect.Interval < 1 {
		errs = append(errs, "mqtt.connect.interval must be at least 1 millisecond")
	}
	for i, sub := range m.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].topic is required", i))
		}
		if sub.QoS < 0 || sub.QoS > 2 {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	return errs
}

// GetKeepAlive returns the MQTT keep-alive as a Duration.
func (m MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(m.KeepAlive) * time.Second
}

// GetPingInterval returns the MQTT ping interval as a Duration.
func (m MQTTConfig) GetPingInterval() time.Duration {
	return time.Duration(m.PingInterval) * time.Second
}

// GetConnectInterval returns the pause between dial polls as a Duration.
func (m MQTTConfig) GetConnectInterval() time.Duration {
	return time.Duration(m.Connect.Interval) * time.Millisecond
}

// DiscoveryName returns the advertised instance name.
func (c *Config) DiscoveryName() string {
	if c.Discovery.Name != "" {
		return c.Discovery.Name
	}
	return c.Gateway.Name
}

// GetStatsInterval returns the counter report interval as a Duration.
func (g GatewayConfig) GetStatsInterval() time.Duration {
	return time.Duration(g.StatsInterval) * time.Second
}
