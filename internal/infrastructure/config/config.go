package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Hearth Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Engine    EngineConfig    `yaml:"engine"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Protocols ProtocolsConfig `yaml:"protocols"`
}

// GatewayConfig contains gateway-instance identification.
type GatewayConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT transport settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig     `yaml:"broker"`
	Auth      MQTTAuthConfig       `yaml:"auth"`
	QoS       int                  `yaml:"qos"`
	Reconnect MQTTReconnectConfig  `yaml:"reconnect"`
	Embedded  EmbeddedBrokerConfig `yaml:"embedded"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// MaxAttempts of 0 means retry forever; a positive value bounds the retry
// budget, after which the transport reports a fatal error.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// EmbeddedBrokerConfig controls the optional in-process MQTT broker.
// When enabled, Hearth runs its own broker and connects the transport
// client to it, removing the external broker dependency for single-box
// installs.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// EngineConfig contains command execution engine settings.
type EngineConfig struct {
	// DispatchTickMs is the idle dispatcher wake interval in milliseconds.
	// The dispatcher also wakes immediately on enqueue; the tick bounds
	// latency for retries becoming due.
	DispatchTickMs int `yaml:"dispatch_tick_ms"`

	// CommandTimeout is the per-command driver call deadline in seconds.
	CommandTimeout int `yaml:"command_timeout"`

	// RetryBackoffBaseMs is the base retry delay in milliseconds.
	// The delay before retry k is base * 2^k.
	RetryBackoffBaseMs int `yaml:"retry_backoff_base_ms"`

	// DefaultMaxRetries applies when a submission does not specify its own.
	DefaultMaxRetries int `yaml:"default_max_retries"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains real-time fanout settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for state-change
// telemetry. Optional; disabled by default.
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
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT validation settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// ProtocolsConfig contains per-protocol driver settings.
type ProtocolsConfig struct {
	Zigbee ZigbeeConfig `yaml:"zigbee"`
	ZWave  ZWaveConfig  `yaml:"zwave"`
	HTTP   HTTPConfig   `yaml:"http"`
}

// ZigbeeConfig contains Zigbee driver settings.
type ZigbeeConfig struct {
	Enabled bool `yaml:"enabled"`

	// BridgeID identifies the radio bridge process on the transport.
	BridgeID string `yaml:"bridge_id"`

	// PermitJoinWindow is the discovery window in seconds.
	PermitJoinWindow int `yaml:"permit_join_window"`

	// ResponseTimeout is the per-request bridge response deadline in seconds.
	ResponseTimeout int `yaml:"response_timeout"`
}

// ZWaveConfig contains Z-Wave driver settings.
type ZWaveConfig struct {
	Enabled bool `yaml:"enabled"`

	// BridgeID identifies the controller bridge process on the transport.
	BridgeID string `yaml:"bridge_id"`

	// InclusionWindow is the discovery window in seconds.
	InclusionWindow int `yaml:"inclusion_window"`

	// ResponseTimeout is the per-request bridge response deadline in seconds.
	ResponseTimeout int `yaml:"response_timeout"`
}

// HTTPConfig contains generic HTTP driver settings.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`

	// RequestTimeout is the per-request deadline in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// DiscoveryURLs are candidate base URLs probed during discovery.
	DiscoveryURLs []string `yaml:"discovery_urls"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HEARTH_SECTION_KEY
// For example: HEARTH_DATABASE_PATH, HEARTH_MQTT_HOST
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:       "hearth-001",
			Name:     "Hearth",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/hearth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hearth-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			Embedded: EmbeddedBrokerConfig{
				Enabled: false,
				Listen:  ":1883",
			},
		},
		Engine: EngineConfig{
			DispatchTickMs:     50,
			CommandTimeout:     30,
			RetryBackoffBaseMs: 500,
			DefaultMaxRetries:  3,
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
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Protocols: ProtocolsConfig{
			Zigbee: ZigbeeConfig{
				BridgeID:         "zigbee-bridge",
				PermitJoinWindow: 60,
				ResponseTimeout:  10,
			},
			ZWave: ZWaveConfig{
				BridgeID:        "zwave-bridge",
				InclusionWindow: 60,
				ResponseTimeout: 10,
			},
			HTTP: HTTPConfig{
				RequestTimeout: 10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HEARTH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("HEARTH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HEARTH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HEARTH_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HEARTH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HEARTH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("HEARTH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("HEARTH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("HEARTH_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must be >= 0")
	}

	if c.MQTT.Broker.Host == "" && !c.MQTT.Embedded.Enabled {
		errs = append(errs, "mqtt.broker.host is required when embedded broker is disabled")
	}
	if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must be >= 0")
	}

	if c.Engine.DispatchTickMs <= 0 {
		errs = append(errs, "engine.dispatch_tick_ms must be > 0")
	}
	if c.Engine.CommandTimeout <= 0 {
		errs = append(errs, "engine.command_timeout must be > 0")
	}
	if c.Engine.RetryBackoffBaseMs <= 0 {
		errs = append(errs, "engine.retry_backoff_base_ms must be > 0")
	}
	if c.Engine.DefaultMaxRetries < 0 {
		errs = append(errs, "engine.default_max_retries must be >= 0")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
	}

	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set HEARTH_JWT_SECRET)")
	} else if len(c.Security.JWT.Secret) < 32 {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
