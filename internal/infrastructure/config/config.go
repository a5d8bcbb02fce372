package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names recognised by ServiceConfig.Environment.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is the root configuration structure for SiteWatch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Adapters  AdaptersConfig  `yaml:"adapters"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name string `yaml:"name"`

	// Environment is "production" or "development". Adapter capability
	// validation only runs outside production.
	Environment string `yaml:"environment"`
}

// IsProduction reports whether the service runs in the production environment.
func (s ServiceConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, EnvProduction)
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// APIConfig contains HTTP admin API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// RedisConfig contains settings for the optional Redis connection used
// to coordinate health-check cycles across replicas.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used when LoggingConfig.Output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SchedulerConfig controls the health-check reconciliation loop.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is the time between cycle starts.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// ProbeTimeout bounds a single CheckHealth call. A probe that exceeds
	// it is treated as unhealthy.
	// Default: 5s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// MaxConcurrency limits concurrent probes within a cycle. 0 means unlimited.
	// Default: 16
	MaxConcurrency int `yaml:"max_concurrency"`

	// DistributedLock enables a Redis lock so only one replica runs a cycle
	// at a time. Requires redis.enabled.
	DistributedLock bool `yaml:"distributed_lock"`
}

// AdaptersConfig contains per-protocol adapter settings.
type AdaptersConfig struct {
	PLS  PLSAdapterConfig  `yaml:"pls"`
	MQTT MQTTAdapterConfig `yaml:"mqtt"`
}

// PLSAdapterConfig contains settings for PLS lane controllers.
type PLSAdapterConfig struct {
	// DialTimeout bounds TCP connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// IOTimeout bounds a single request/response exchange.
	IOTimeout time.Duration `yaml:"io_timeout"`

	// DefaultPort is used when a controller has no port set.
	DefaultPort int `yaml:"default_port"`
}

// MQTTAdapterConfig contains settings for MQTT-attached devices.
type MQTTAdapterConfig struct {
	// HeartbeatStaleAfter is how old the last heartbeat may be before the
	// device is considered unhealthy.
	HeartbeatStaleAfter time.Duration `yaml:"heartbeat_stale_after"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SITEWATCH_SECTION_KEY
// For example: SITEWATCH_DATABASE_PATH, SITEWATCH_API_PORT
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
		Service: ServiceConfig{
			Name:        "sitewatch",
			Environment: EnvProduction,
		},
		Database: DatabaseConfig{
			Path:        "./data/sitewatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sitewatch-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
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
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/sitewatch.log",
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			Interval:       30 * time.Second,
			ProbeTimeout:   5 * time.Second,
			MaxConcurrency: 16,
		},
		Adapters: AdaptersConfig{
			PLS: PLSAdapterConfig{
				DialTimeout: 3 * time.Second,
				IOTimeout:   3 * time.Second,
				DefaultPort: 5000,
			},
			MQTT: MQTTAdapterConfig{
				HeartbeatStaleAfter: 90 * time.Second,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SITEWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SITEWATCH_ENVIRONMENT"); v != "" {
		cfg.Service.Environment = v
	}

	// Database
	if v := os.Getenv("SITEWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SITEWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SITEWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SITEWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SITEWATCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SITEWATCH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("SITEWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Redis
	if v := os.Getenv("SITEWATCH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SITEWATCH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Scheduler
	if v := os.Getenv("SITEWATCH_SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Service.Environment) {
	case EnvProduction, EnvDevelopment:
	default:
		errs = append(errs, "service.environment must be production or development")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			errs = append(errs, "scheduler.interval must be positive")
		}
		if c.Scheduler.ProbeTimeout <= 0 {
			errs = append(errs, "scheduler.probe_timeout must be positive")
		}
		if c.Scheduler.ProbeTimeout >= c.Scheduler.Interval && c.Scheduler.Interval > 0 {
			errs = append(errs, "scheduler.probe_timeout must be shorter than scheduler.interval")
		}
	}
	if c.Scheduler.MaxConcurrency < 0 {
		errs = append(errs, "scheduler.max_concurrency cannot be negative")
	}
	if c.Scheduler.DistributedLock && !c.Redis.Enabled {
		errs = append(errs, "scheduler.distributed_lock requires redis.enabled")
	}

	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
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
