package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the matrix bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// MatrixConfig describes the HDMI matrix endpoint.
type MatrixConfig struct {
	// ID names the matrix in MQTT topics and the audit journal.
	// Defaults to Host when empty.
	ID string `yaml:"id"`

	Host       string `yaml:"host"`
	HTTPPort   int    `yaml:"http_port"`
	TelnetPort int    `yaml:"telnet_port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`

	// UseTelnet enables the secondary Telnet session.
	UseTelnet bool `yaml:"use_telnet"`

	// PreferTelnet sends CEC over Telnet when the session is up.
	PreferTelnet bool `yaml:"prefer_telnet"`

	// Timeouts in seconds.
	RequestTimeout int `yaml:"request_timeout"`
	CommandTimeout int `yaml:"command_timeout"`
	CECCacheTTL    int `yaml:"cec_cache_ttl"`

	Retry  MatrixRetryConfig  `yaml:"retry"`
	Telnet MatrixTelnetConfig `yaml:"telnet"`

	// HealthInterval is the health publish period in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// MatrixRetryConfig controls connect retries.
type MatrixRetryConfig struct {
	InitialDelay int     `yaml:"initial_delay"`
	MaxDelay     int     `yaml:"max_delay"`
	MaxRetries   int     `yaml:"max_retries"`
	Jitter       float64 `yaml:"jitter"`
}

// MatrixTelnetConfig controls the Telnet session's own reconnect loop.
type MatrixTelnetConfig struct {
	ReconnectDelay       int `yaml:"reconnect_delay"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AuditRetentionDays prunes older audit rows once a day. 0 keeps everything.
	AuditRetentionDays int `yaml:"audit_retention_days"`
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
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// APIConfig contains the local HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
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

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings. Tokens are issued by Gray
// Logic Core with the shared secret. An empty secret disables API
// authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
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
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_MATRIX_HOST, GRAYLOGIC_DATABASE_PATH
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
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Matrix: MatrixConfig{
			HTTPPort:       443,
			TelnetPort:     23,
			Username:       "admin",
			UseTelnet:      true,
			PreferTelnet:   true,
			RequestTimeout: 5,
			CommandTimeout: 5,
			CECCacheTTL:    300,
			Retry: MatrixRetryConfig{
				InitialDelay: 1,
				MaxDelay:     30,
				MaxRetries:   3,
				Jitter:       0.1,
			},
			Telnet: MatrixTelnetConfig{
				ReconnectDelay:       2,
				MaxReconnectAttempts: 5,
			},
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:               "./data/graylogic-matrix.db",
			WALMode:            true,
			BusyTimeout:        5,
			AuditRetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-matrix",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  120,
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
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Matrix
	if v := os.Getenv("GRAYLOGIC_MATRIX_HOST"); v != "" {
		cfg.Matrix.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MATRIX_USERNAME"); v != "" {
		cfg.Matrix.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MATRIX_PASSWORD"); v != "" {
		cfg.Matrix.Password = v
	}
	if v := os.Getenv("GRAYLOGIC_MATRIX_USE_TELNET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Matrix.UseTelnet = b
		}
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Matrix.Host == "" {
		errs = append(errs, "matrix.host is required (set GRAYLOGIC_MATRIX_HOST environment variable)")
	}
	if !validPort(c.Matrix.HTTPPort) {
		errs = append(errs, "matrix.http_port must be between 1 and 65535")
	}
	if c.Matrix.UseTelnet && !validPort(c.Matrix.TelnetPort) {
		errs = append(errs, "matrix.telnet_port must be between 1 and 65535")
	}
	if c.Matrix.Retry.MaxRetries < 0 {
		errs = append(errs, "matrix.retry.max_retries must not be negative")
	}
	if c.Matrix.Retry.Jitter < 0 || c.Matrix.Retry.Jitter > 1 {
		errs = append(errs, "matrix.retry.jitter must be between 0 and 1")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.AuditRetentionDays < 0 {
		errs = append(errs, "database.audit_retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if !validPort(c.API.Port) {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
			errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when TLS is enabled")
		}
		if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// minJWTSecretLength is the shortest accepted HS256 secret.
const minJWTSecretLength = 32

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RequestTimeoutDuration returns the HTTP request timeout as a Duration.
func (m MatrixConfig) RequestTimeoutDuration() time.Duration { return seconds(m.RequestTimeout) }

// CommandTimeoutDuration returns the Telnet command timeout as a Duration.
func (m MatrixConfig) CommandTimeoutDuration() time.Duration { return seconds(m.CommandTimeout) }

// CECCacheTTLDuration returns the CEC cache lifetime as a Duration.
func (m MatrixConfig) CECCacheTTLDuration() time.Duration { return seconds(m.CECCacheTTL) }

// HealthIntervalDuration returns the health publish period as a Duration.
func (m MatrixConfig) HealthIntervalDuration() time.Duration { return seconds(m.HealthInterval) }

// ReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) ReadTimeout() time.Duration { return seconds(a.Timeouts.Read) }

// WriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) WriteTimeout() time.Duration { return seconds(a.Timeouts.Write) }

// IdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) IdleTimeout() time.Duration { return seconds(a.Timeouts.Idle) }
