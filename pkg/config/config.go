package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "GATEHOUSE"

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Cache backends
const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DATABASE"`
	Cache         CacheConfig         `envconfig:"CACHE"`
	Bootstrap     BootstrapConfig     `envconfig:"BOOTSTRAP"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// Health/metrics server (separate port for k8s probes)
	HealthAddr string `envconfig:"HEALTH_ADDR" default:":9090"`

	// UserHeader is set by the authenticating proxy in front of the service
	UserHeader      string `envconfig:"USER_HEADER" default:"X-User-ID"`
	ProtectAdminAPI bool   `envconfig:"PROTECT_ADMIN_API" default:"true"`
	MaxBodyBytes    int64  `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	// Per-user request budget for the admin API; 0 disables limiting
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"600"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitBurst    int           `envconfig:"RATE_LIMIT_BURST" default:"50"`
}

// DatabaseConfig holds SQL connection settings
type DatabaseConfig struct {
	Driver          string        `envconfig:"DRIVER" default:"sqlite3"`
	DSN             string        `envconfig:"DSN" default:"file:gatehouse.db?_busy_timeout=5000"`
	ReplicaDSNs     []string      `envconfig:"REPLICA_DSNS"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

// CacheConfig holds resolved-permission cache settings
type CacheConfig struct {
	Backend         string        `envconfig:"BACKEND" default:"none"`
	TTL             time.Duration `envconfig:"TTL" default:"5m"`
	Size            int           `envconfig:"SIZE" default:"10000"`
	RedisURL        string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	RedisPoolSize   int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	RedisMaxRetries int           `envconfig:"REDIS_MAX_RETRIES" default:"3"`
}

// BootstrapConfig controls the system role/catalog definition file
type BootstrapConfig struct {
	// File is a YAML definition; empty uses the built-in definition
	File string `envconfig:"FILE"`
	// Watch re-applies File whenever it changes
	Watch bool `envconfig:"WATCH" default:"false"`
	// Schedule is a cron spec for periodic reconciliation, e.g. "@every 1h"
	Schedule string `envconfig:"SCHEDULE"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Metrics
	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`

	// OpenTelemetry
	OTelEnabled        bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint       string `envconfig:"OTEL_ENDPOINT" default:"localhost:4317"`
	OTelServiceName    string `envconfig:"OTEL_SERVICE_NAME" default:"gatehouse"`
	OTelServiceVersion string `envconfig:"OTEL_SERVICE_VERSION" default:"dev"`
	OTelInsecure       bool   `envconfig:"OTEL_INSECURE" default:"true"` // Use insecure gRPC connection

	OTelSampleRatio    float64       `envconfig:"OTEL_SAMPLE_RATIO" default:"1"`
	OTelExportInterval time.Duration `envconfig:"OTEL_EXPORT_INTERVAL" default:"10s"`
}

// LoadConfig loads configuration from GATEHOUSE_* environment variables
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Server.HealthAddr == "" {
		return fmt.Errorf("health address is required")
	}
	if c.Server.Addr == c.Server.HealthAddr {
		return fmt.Errorf("server address and health address must be different")
	}
	if c.Server.RateLimitRequests < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit requests and burst must not be negative")
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	// Validate database config
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.Database.Driver == DriverSQLite && len(c.Database.ReplicaDSNs) > 0 {
		return fmt.Errorf("read replicas are only supported with postgres")
	}

	// Validate cache config
	switch c.Cache.Backend {
	case CacheNone:
	case CacheLRU:
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive for the lru backend")
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be none, lru, or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheNone && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	// Validate bootstrap config
	if c.Bootstrap.Watch && c.Bootstrap.File == "" {
		return fmt.Errorf("bootstrap file is required when watch is enabled")
	}
	if c.Bootstrap.Schedule != "" {
		if _, err := cron.ParseStandard(c.Bootstrap.Schedule); err != nil {
			return fmt.Errorf("invalid bootstrap schedule %q: %w", c.Bootstrap.Schedule, err)
		}
	}

	// Validate observability config
	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}
