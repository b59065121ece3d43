// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Every setting has a default; LoadConfig reads GATEHOUSE_* variables over
// those defaults and validates the result.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_SHUTDOWN_TIMEOUT="30s"
//
// Stores:
//
//	GATEHOUSE_REDIS_URL="redis://localhost:6379"
//	GATEHOUSE_KEYSTORE_BACKEND="redis"        # or postgres
//	GATEHOUSE_POSTGRES_URL="postgres://..."   # required for postgres
//	GATEHOUSE_STORE_TIMEOUT="2s"
//
// API key caches:
//
//	GATEHOUSE_APIKEY_VALID_TTL="900s"
//	GATEHOUSE_APIKEY_INVALID_TTL="60s"
//	GATEHOUSE_APIKEY_LOCAL_CACHE_SIZE="0"     # 0 disables the in-process tier
//
// Rate limiting:
//
//	GATEHOUSE_RATELIMIT_WINDOW="15m"
//	GATEHOUSE_RATELIMIT_APIKEY_LIMIT="100"
//	GATEHOUSE_RATELIMIT_IP_LIMIT="10"
//	GATEHOUSE_RATELIMIT_FAILURE_POLICY="closed" # open, local
//
// Policy:
//
//	GATEHOUSE_CATALOG_FILE="/etc/gatehouse/catalog.yaml"
//	GATEHOUSE_CATALOG_WATCH="true"
//	GATEHOUSE_ROUTES_FILE="/etc/gatehouse/routes.yaml"
//
// Observability:
//
//	GATEHOUSE_LOG_LEVEL="info"
//	GATEHOUSE_OTEL_ENABLED="false"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
