package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth configuration
	Auth AuthConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Rate limiting (per caller)
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

// AuthConfig holds token authentication configuration
type AuthConfig struct {
	// Optional allows unauthenticated requests through the middleware;
	// the permission gate still denies anything that needs a caller
	Optional bool
}

// AuditConfig holds the audit trail configuration
type AuditConfig struct {
	Enabled bool
	// RetentionDays bounds how long audit events are kept
	RetentionDays int
	// RetentionSchedule is a cron expression for the cleanup job
	RetentionSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:             getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:             getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:      getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:     getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:      getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:  getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:       getEnv("WARDEN_HEALTH_PORT", "9090"),
		RateLimitEnabled: getEnvBool("WARDEN_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     getEnvFloat("WARDEN_RATE_LIMIT_RPS", 50),
		RateLimitBurst:   getEnvInt("WARDEN_RATE_LIMIT_BURST", 100),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if driver := getEnv("WARDEN_DB_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}
	if url := getEnv("WARDEN_DB_URL", ""); url != "" {
		cfg.URL = url
	}
	if maxConns := getEnvInt("WARDEN_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("WARDEN_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("WARDEN_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	if redisURL := getEnv("WARDEN_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("WARDEN_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("WARDEN_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("WARDEN_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("WARDEN_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	if cacheEnabled := getEnv("WARDEN_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if cacheTTL := getEnvDuration("WARDEN_CACHE_TTL", 0); cacheTTL > 0 {
		cfg.CacheTTL = cacheTTL
	}

	return cfg
}

// loadAuthConfig loads auth configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Optional: getEnvBool("WARDEN_AUTH_OPTIONAL", true),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:           getEnvBool("WARDEN_AUDIT_ENABLED", true),
		RetentionDays:     getEnvInt("WARDEN_AUDIT_RETENTION_DAYS", 90),
		RetentionSchedule: getEnv("WARDEN_AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("WARDEN_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RateLimitEnabled {
		if c.Server.RateLimitRPS <= 0 {
			return fmt.Errorf("rate limit rps must be positive")
		}
		if c.Server.RateLimitBurst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}

	switch c.Storage.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid db driver: %s (must be postgres or sqlite3)", c.Storage.Driver)
	}
	if c.Storage.URL == "" {
		return fmt.Errorf("db URL is required")
	}
	if c.Storage.CacheEnabled && c.Storage.RedisURL != "" && c.Storage.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	if c.Audit.Enabled {
		if c.Audit.RetentionDays <= 0 {
			return fmt.Errorf("audit retention days must be positive")
		}
		if c.Audit.RetentionSchedule == "" {
			return fmt.Errorf("audit retention schedule is required")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
