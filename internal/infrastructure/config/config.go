package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. MACHINEALLOC_API_PORT.
const EnvPrefix = "MACHINEALLOC_"

// Store backends.
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendBadger = "badger"
)

// Cache backends.
const (
	CacheBackendMemory    = "memory"
	CacheBackendRistretto = "ristretto"
)

// Device client modes.
const (
	DeviceModeMQTT      = "mqtt"
	DeviceModeSimulated = "simulated"
)

// Config is the root configuration structure for the machine allocator.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Device    DeviceConfig    `yaml:"device"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	ID   string `yaml:"id" env:"SERVICE_ID, overwrite"`
	Name string `yaml:"name" env:"SERVICE_NAME, overwrite"`
}

// StoreConfig selects and configures the authoritative machine store.
type StoreConfig struct {
	Backend string       `yaml:"backend" env:"STORE_BACKEND, overwrite"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Badger  BadgerConfig `yaml:"badger"`
}

// SQLiteConfig contains SQLite database settings.
type SQLiteConfig struct {
	Path        string `yaml:"path" env:"STORE_SQLITE_PATH, overwrite"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BadgerConfig contains settings for the embedded badger key-value store.
type BadgerConfig struct {
	Dir string `yaml:"dir" env:"STORE_BADGER_DIR, overwrite"`
	// InMemory keeps all data in memory. Intended for tests and demos.
	InMemory bool `yaml:"in_memory"`
}

// CacheConfig contains read cache settings.
type CacheConfig struct {
	Backend     string `yaml:"backend" env:"CACHE_BACKEND, overwrite"`
	MaxEntries  int64  `yaml:"max_entries"`
	WarmOnStart bool   `yaml:"warm_on_start"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"MQTT_HOST, overwrite"`
	Port     int    `yaml:"port" env:"MQTT_PORT, overwrite"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id" env:"MQTT_CLIENT_ID, overwrite"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MQTT_USERNAME, overwrite"`
	Password string `yaml:"password" env:"MQTT_PASSWORD, overwrite"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DeviceConfig controls how start cycles reach the physical machines.
type DeviceConfig struct {
	// Mode is "mqtt" (command/ack over the broker) or "simulated".
	Mode string `yaml:"mode" env:"DEVICE_MODE, overwrite"`

	// AckTimeout is how long to wait for a device acknowledgement (seconds).
	// A missing ack is treated as a hardware fault.
	AckTimeout int `yaml:"ack_timeout" env:"DEVICE_ACK_TIMEOUT, overwrite"`

	// SimulatedFailures lists machine IDs whose start cycle always faults in simulated mode.
	SimulatedFailures []string `yaml:"simulated_failures"`

	// SimulatedDelayMS delays each simulated start cycle.
	SimulatedDelayMS int `yaml:"simulated_delay_ms"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host" env:"API_HOST, overwrite"`
	Port      int              `yaml:"port" env:"API_PORT, overwrite"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// RateLimitConfig contains per-client request rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// WebSocketConfig contains settings for the machine transition stream.
type WebSocketConfig struct {
	Enabled        bool   `yaml:"enabled" env:"WEBSOCKET_ENABLED, overwrite"`
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"INFLUXDB_ENABLED, overwrite"`
	URL           string `yaml:"url" env:"INFLUXDB_URL, overwrite"`
	Token         string `yaml:"token" env:"INFLUXDB_TOKEN, overwrite"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// EventsConfig contains NATS settings for machine transition events.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled" env:"EVENTS_ENABLED, overwrite"`
	URL           string `yaml:"url" env:"EVENTS_URL, overwrite"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL, overwrite"`
	Format string `yaml:"format" env:"LOG_FORMAT, overwrite"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret" env:"JWT_SECRET, overwrite"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern MACHINEALLOC_SECTION_KEY,
// for example MACHINEALLOC_STORE_SQLITE_PATH or MACHINEALLOC_API_PORT.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(ctx, cfg, envconfig.OsLookuper()); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "machinealloc-001",
			Name: "Machine Allocator",
		},
		Store: StoreConfig{
			Backend: StoreBackendSQLite,
			SQLite: SQLiteConfig{
				Path:        "./data/machinealloc.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
			Badger: BadgerConfig{
				Dir: "./data/badger",
			},
		},
		Cache: CacheConfig{
			Backend:    CacheBackendMemory,
			MaxEntries: 10000,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "machinealloc",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Device: DeviceConfig{
			Mode:       DeviceModeMQTT,
			AckTimeout: 30,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
			},
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "machinealloc.machines",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides overlays MACHINEALLOC_* variables onto the configuration.
// Only fields tagged with env are considered; unset variables leave the field alone.
func applyEnvOverrides(ctx context.Context, cfg *Config, lookuper envconfig.Lookuper) error {
	return envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	})
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	switch c.Store.Backend {
	case StoreBackendSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, "store.sqlite.path is required")
		}
	case StoreBackendBadger:
		if c.Store.Badger.Dir == "" && !c.Store.Badger.InMemory {
			errs = append(errs, "store.badger.dir is required unless in_memory is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be %q or %q", StoreBackendSQLite, StoreBackendBadger))
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRistretto:
		if c.Cache.MaxEntries <= 0 {
			errs = append(errs, "cache.max_entries must be positive for the ristretto backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.backend must be %q or %q", CacheBackendMemory, CacheBackendRistretto))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch c.Device.Mode {
	case DeviceModeMQTT, DeviceModeSimulated:
	default:
		errs = append(errs, fmt.Sprintf("device.mode must be %q or %q", DeviceModeMQTT, DeviceModeSimulated))
	}
	if c.Device.AckTimeout <= 0 {
		errs = append(errs, "device.ack_timeout must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "api.rate_limit.requests_per_minute must be positive when enabled")
	}

	if c.WebSocket.Enabled {
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			errs = append(errs, "websocket.path must start with /")
		}
		if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 || c.WebSocket.MaxMessageSize <= 0 {
			errs = append(errs, "websocket ping_interval, pong_timeout and max_message_size must be positive")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, "events.url is required when events are enabled")
	}

	// Forged tokens would let any caller claim and start machines.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set MACHINEALLOC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetAckTimeout returns the device acknowledgement timeout as a Duration.
func (c *Config) GetAckTimeout() time.Duration {
	return time.Duration(c.Device.AckTimeout) * time.Second
}
