// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Configuration is read with envconfig from GATEHOUSE_* variables. Every
// setting has a default; LoadConfig validates the result.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_SERVER_ADDR=":8080"
//	GATEHOUSE_SERVER_HEALTH_ADDR=":9090"
//	GATEHOUSE_SERVER_READ_TIMEOUT="15s"
//	GATEHOUSE_SERVER_USER_HEADER="X-User-ID"
//	GATEHOUSE_SERVER_PROTECT_ADMIN_API="true"
//	GATEHOUSE_SERVER_RATE_LIMIT_REQUESTS="600"
//
// Database settings:
//
//	GATEHOUSE_DATABASE_DRIVER="postgres"  # postgres, sqlite3
//	GATEHOUSE_DATABASE_DSN="postgres://localhost/gatehouse?sslmode=disable"
//	GATEHOUSE_DATABASE_REPLICA_DSNS="postgres://replica1/gatehouse,postgres://replica2/gatehouse"
//	GATEHOUSE_DATABASE_MAX_OPEN_CONNS="20"
//
// Cache settings:
//
//	GATEHOUSE_CACHE_BACKEND="redis"  # none, lru, redis
//	GATEHOUSE_CACHE_TTL="5m"
//	GATEHOUSE_CACHE_REDIS_URL="redis://localhost:6379/0"
//
// Bootstrap settings:
//
//	GATEHOUSE_BOOTSTRAP_FILE="/etc/gatehouse/bootstrap.yaml"
//	GATEHOUSE_BOOTSTRAP_WATCH="true"
//	GATEHOUSE_BOOTSTRAP_SCHEDULE="@every 1h"
//
// Observability settings:
//
//	GATEHOUSE_OBSERVABILITY_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_OBSERVABILITY_METRICS_ENABLED="true"
//	GATEHOUSE_OBSERVABILITY_OTEL_ENABLED="true"
//	GATEHOUSE_OBSERVABILITY_OTEL_ENDPOINT="otel-collector:4317"
//	GATEHOUSE_OBSERVABILITY_OTEL_SAMPLE_RATIO="0.25"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Listening on %s\n", cfg.Server.Addr)
//	fmt.Printf("Database: %s\n", cfg.Database.Driver)
package config
