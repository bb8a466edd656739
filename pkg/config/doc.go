// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_WRITE_TIMEOUT="15s"
//	WARDEN_RATE_LIMIT_ENABLED="true"
//	WARDEN_RATE_LIMIT_RPS="50"
//
// Storage settings:
//
//	WARDEN_DB_DRIVER="postgres"  # postgres, sqlite3
//	WARDEN_DB_URL="postgres://localhost/warden"
//	WARDEN_DB_MAX_CONNS="20"
//
// Cache settings:
//
//	WARDEN_CACHE_ENABLED="true"
//	WARDEN_CACHE_TTL="5m"
//	WARDEN_REDIS_URL="redis://localhost:6379"
//	WARDEN_REDIS_POOL_SIZE="10"
//
// Audit settings:
//
//	WARDEN_AUDIT_ENABLED="true"
//	WARDEN_AUDIT_RETENTION_DAYS="90"
//	WARDEN_AUDIT_RETENTION_SCHEDULE="0 3 * * *"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("DB driver: %s\n", cfg.Storage.Driver)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
