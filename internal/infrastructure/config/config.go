package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// maxFleetSize is the largest device number the telemetry feed can address.
const maxFleetSize = 15

// minEventLogSize is the smallest ring log the status surface accepts.
const minEventLogSize = 1000

// Config is the root configuration structure for the electrolyser core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Cache     CacheConfig     `yaml:"cache"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the plant this instance ingests for.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// StorageConfig selects the relational backend for readings.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains PostgreSQL pool settings.
type PostgresConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int    `yaml:"max_conns"`
	ConnectRetries int    `yaml:"connect_retries"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// Topic is the subscription filter covering all device telemetry.
	Topic string `yaml:"topic"`

	// KeepAlive is the keepalive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// ConnectTimeout bounds the initial connection attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`

	// RandomSuffix appends "_<8 hex>" to ClientID so two instances never
	// evict each other from the broker.
	RandomSuffix bool `yaml:"random_suffix"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// IngestConfig tunes the push-path pipeline.
type IngestConfig struct {
	QueueSize      int `yaml:"queue_size"`
	Workers        int `yaml:"workers"`
	IdleThreshold  int `yaml:"idle_threshold"` // seconds
	UTCOffsetHours int `yaml:"utc_offset_hours"`
	MaxDevices     int `yaml:"max_devices"`
	EventLogSize   int `yaml:"event_log_size"`
	WriteTimeout   int `yaml:"write_timeout"` // seconds, per stored row
}

// ReconcileConfig controls the poll-based reconciliation path.
type ReconcileConfig struct {
	Enabled    bool                  `yaml:"enabled"`
	Interval   int                   `yaml:"interval"` // seconds
	RunOnStart bool                  `yaml:"run_on_start"`
	Source     ReconcileSourceConfig `yaml:"source"`
	Breaker    BreakerConfig         `yaml:"breaker"`
}

// ReconcileSourceConfig describes the secondary HTTP snapshot source.
type ReconcileSourceConfig struct {
	URL                string `yaml:"url"`
	Token              string `yaml:"token"`
	PageSize           int    `yaml:"page_size"`
	Timeout            int    `yaml:"timeout"` // seconds
	MaxRetries         int    `yaml:"max_retries"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// BreakerConfig configures the circuit breaker guarding the source.
type BreakerConfig struct {
	MaxFailures int `yaml:"max_failures"`
	OpenTimeout int `yaml:"open_timeout"` // seconds
}

// CacheConfig contains Redis latest-record cache settings.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TTL       int    `yaml:"ttl"` // hours
	KeyPrefix string `yaml:"key_prefix"`
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

// APIConfig contains HTTP status server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ELECTROLYSER_SECTION_KEY
// For example: ELECTROLYSER_DATABASE_PATH, ELECTROLYSER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with the reference pipeline settings.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "plant-001",
			Name: "Electrolyser Fleet",
		},
		Database: DatabaseConfig{
			Path:        "./data/electrolyser.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Postgres: PostgresConfig{
				MaxConns:       4,
				ConnectRetries: 10,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:         "localhost",
				Port:         1883,
				ClientID:     "electrolyser_core",
				RandomSuffix: true,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Topic:          "WinCC/#",
			KeepAlive:      120,
			ConnectTimeout: 10,
		},
		Ingest: IngestConfig{
			QueueSize:      1000,
			Workers:        3,
			IdleThreshold:  20,
			UTCOffsetHours: 8,
			MaxDevices:     maxFleetSize,
			EventLogSize:   minEventLogSize,
			WriteTimeout:   5,
		},
		Reconcile: ReconcileConfig{
			Interval:   600,
			RunOnStart: true,
			Source: ReconcileSourceConfig{
				PageSize:   90,
				Timeout:    10,
				MaxRetries: 3,
			},
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 60,
			},
		},
		Cache: CacheConfig{
			Addr:      "localhost:6379",
			TTL:       24,
			KeyPrefix: "electrolyser",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ELECTROLYSER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Storage
	if v := os.Getenv("ELECTROLYSER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ELECTROLYSER_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("ELECTROLYSER_POSTGRES_URL"); v != "" {
		cfg.Storage.Postgres.URL = v
	}

	// MQTT
	if v := os.Getenv("ELECTROLYSER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ELECTROLYSER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("ELECTROLYSER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ELECTROLYSER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Reconciliation source
	if v := os.Getenv("ELECTROLYSER_RECONCILE_URL"); v != "" {
		cfg.Reconcile.Source.URL = v
	}
	if v := os.Getenv("ELECTROLYSER_RECONCILE_TOKEN"); v != "" {
		cfg.Reconcile.Source.Token = v
	}

	// Cache / InfluxDB secrets
	if v := os.Getenv("ELECTROLYSER_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("ELECTROLYSER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("ELECTROLYSER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// identifierPattern matches client ids and key prefixes we accept verbatim.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	switch c.Storage.Driver {
	case DriverSQLite, "":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.Postgres.URL == "" {
			errs = append(errs, "storage.postgres.url is required for the postgres driver (set ELECTROLYSER_POSTGRES_URL)")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q must be sqlite or postgres", c.Storage.Driver))
	}

	errs = append(errs, c.MQTT.validate()...)
	errs = append(errs, c.Ingest.validate()...)

	if c.Reconcile.Enabled {
		if c.Reconcile.Source.URL == "" {
			errs = append(errs, "reconcile.source.url is required when reconciliation is enabled")
		}
		if c.Reconcile.Interval <= 0 {
			errs = append(errs, "reconcile.interval must be positive")
		}
		if c.Reconcile.Source.PageSize <= 0 {
			errs = append(errs, "reconcile.source.page_size must be positive")
		}
	}

	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			errs = append(errs, "cache.addr is required when the cache is enabled")
		}
		if !identifierPattern.MatchString(c.Cache.KeyPrefix) {
			errs = append(errs, "cache.key_prefix must be a non-empty identifier")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (m MQTTConfig) validate() []string {
	var errs []string
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if m.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if !identifierPattern.MatchString(m.Broker.ClientID) {
		errs = append(errs, "mqtt.broker.client_id must be a non-empty identifier")
	}
	if m.Topic == "" {
		errs = append(errs, "mqtt.topic is required")
	}
	return errs
}

func (i IngestConfig) validate() []string {
	var errs []string
	if i.QueueSize <= 0 {
		errs = append(errs, "ingest.queue_size must be positive")
	}
	if i.Workers <= 0 {
		errs = append(errs, "ingest.workers must be positive")
	}
	if i.IdleThreshold <= 0 {
		errs = append(errs, "ingest.idle_threshold must be positive")
	}
	if i.MaxDevices < 1 || i.MaxDevices > maxFleetSize {
		errs = append(errs, fmt.Sprintf("ingest.max_devices must be between 1 and %d", maxFleetSize))
	}
	if i.UTCOffsetHours < -12 || i.UTCOffsetHours > 14 {
		errs = append(errs, "ingest.utc_offset_hours must be between -12 and 14")
	}
	if i.EventLogSize < minEventLogSize {
		errs = append(errs, fmt.Sprintf("ingest.event_log_size must be at least %d", minEventLogSize))
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// IdleDuration returns the quiet period after which assembled records are flushed.
func (i IngestConfig) IdleDuration() time.Duration {
	return time.Duration(i.IdleThreshold) * time.Second
}

// Offset returns the fixed storage offset from UTC.
func (i IngestConfig) Offset() time.Duration {
	return time.Duration(i.UTCOffsetHours) * time.Hour
}

// WriteTimeoutDuration returns the per-row storage write bound.
func (i IngestConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(i.WriteTimeout) * time.Second
}

// IntervalDuration returns the reconciliation cadence.
func (r ReconcileConfig) IntervalDuration() time.Duration {
	return time.Duration(r.Interval) * time.Second
}

// Address returns the broker address as host:port.
func (m MQTTConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Broker.Host, m.Broker.Port)
}
