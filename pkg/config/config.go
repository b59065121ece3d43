package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/keystore"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Key store backends
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Redis         keystore.RedisConfig
	KeyStore      KeyStoreConfig
	RateLimit     middleware.RateLimitConfig
	Policy        PolicyConfig
	Audit         AuditConfig
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

	// TrustIdentityHeaders accepts X-Auth-Roles / X-Auth-Owner from callers
	TrustIdentityHeaders bool
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// KeyStoreConfig holds the permanent credential store and cache settings
type KeyStoreConfig struct {
	Backend        string
	Postgres       keystore.PostgresConfig
	StoreTimeout   time.Duration
	KeyPrefix      string
	ValidTTL       time.Duration
	InvalidTTL     time.Duration
	LocalCacheSize int
	LocalCacheTTL  time.Duration
}

// CacheTTLs returns the shared cache TTLs
func (k KeyStoreConfig) CacheTTLs() keystore.CacheTTLs {
	return keystore.CacheTTLs{Valid: k.ValidTTL, Invalid: k.InvalidTTL}
}

// PolicyConfig locates the role catalog and route table
type PolicyConfig struct {
	CatalogFile  string
	CatalogWatch bool
	RoutesFile   string
}

// AuditConfig holds audit sink settings. An empty Dir logs audit events
// through the application logger only.
type AuditConfig struct {
	Dir      string
	MaxSize  int64
	MaxFiles int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel returns the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Redis:         loadRedisConfig(),
		KeyStore:      loadKeyStoreConfig(),
		RateLimit:     loadRateLimitConfig(),
		Policy:        loadPolicyConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),

		TrustIdentityHeaders: getEnvBool("GATEHOUSE_TRUST_IDENTITY_HEADERS", false),
	}
}

func loadRedisConfig() keystore.RedisConfig {
	return keystore.RedisConfig{
		URL:        getEnv("GATEHOUSE_REDIS_URL", "redis://localhost:6379"),
		Password:   getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
		DB:         getEnvInt("GATEHOUSE_REDIS_DB", 0),
		PoolSize:   getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 0),
		MaxRetries: getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 0),
	}
}

func loadKeyStoreConfig() KeyStoreConfig {
	ttls := keystore.DefaultCacheTTLs()
	return KeyStoreConfig{
		Backend: strings.ToLower(getEnv("GATEHOUSE_KEYSTORE_BACKEND", BackendRedis)),
		Postgres: keystore.PostgresConfig{
			URL:      getEnv("GATEHOUSE_POSTGRES_URL", ""),
			MaxConns: getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 20),
			MinConns: getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 2),
			Timeout:  getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 5*time.Second),
		},
		StoreTimeout:   getEnvDuration("GATEHOUSE_STORE_TIMEOUT", 2*time.Second),
		KeyPrefix:      getEnv("GATEHOUSE_APIKEY_PREFIX", auth.DefaultKeyPrefix),
		ValidTTL:       getEnvDuration("GATEHOUSE_APIKEY_VALID_TTL", ttls.Valid),
		InvalidTTL:     getEnvDuration("GATEHOUSE_APIKEY_INVALID_TTL", ttls.Invalid),
		LocalCacheSize: getEnvInt("GATEHOUSE_APIKEY_LOCAL_CACHE_SIZE", 0),
		LocalCacheTTL:  getEnvDuration("GATEHOUSE_APIKEY_LOCAL_CACHE_TTL", 30*time.Second),
	}
}

func loadRateLimitConfig() middleware.RateLimitConfig {
	cfg := middleware.DefaultRateLimitConfig()
	cfg.Window = getEnvDuration("GATEHOUSE_RATELIMIT_WINDOW", cfg.Window)
	cfg.APIKeyLimit = getEnvInt("GATEHOUSE_RATELIMIT_APIKEY_LIMIT", cfg.APIKeyLimit)
	cfg.IPLimit = getEnvInt("GATEHOUSE_RATELIMIT_IP_LIMIT", cfg.IPLimit)
	cfg.Prefix = getEnv("GATEHOUSE_RATELIMIT_PREFIX", cfg.Prefix)
	cfg.FailurePolicy = middleware.FailurePolicy(strings.ToLower(getEnv("GATEHOUSE_RATELIMIT_FAILURE_POLICY", string(cfg.FailurePolicy))))
	cfg.TrustProxyHeaders = getEnvBool("GATEHOUSE_TRUST_PROXY_HEADERS", false)
	cfg.StoreTimeout = getEnvDuration("GATEHOUSE_STORE_TIMEOUT", cfg.StoreTimeout)
	return cfg
}

func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		CatalogFile:  getEnv("GATEHOUSE_CATALOG_FILE", ""),
		CatalogWatch: getEnvBool("GATEHOUSE_CATALOG_WATCH", false),
		RoutesFile:   getEnv("GATEHOUSE_ROUTES_FILE", ""),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Dir:      getEnv("GATEHOUSE_AUDIT_DIR", ""),
		MaxSize:  getEnvInt64("GATEHOUSE_AUDIT_MAX_SIZE", 100*1024*1024),
		MaxFiles: getEnvInt("GATEHOUSE_AUDIT_MAX_FILES", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.KeyStore.Backend {
	case BackendRedis:
	case BackendPostgres:
		if c.KeyStore.Postgres.URL == "" {
			return fmt.Errorf("postgres URL is required for the postgres key store backend")
		}
	default:
		return fmt.Errorf("invalid key store backend: %s (must be redis or postgres)", c.KeyStore.Backend)
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.KeyStore.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	if c.KeyStore.ValidTTL <= 0 || c.KeyStore.InvalidTTL <= 0 {
		return fmt.Errorf("API key cache TTLs must be positive")
	}
	if c.KeyStore.LocalCacheSize < 0 {
		return fmt.Errorf("API key local cache size must not be negative")
	}
	if c.KeyStore.LocalCacheSize > 0 {
		if c.KeyStore.LocalCacheTTL <= 0 {
			return fmt.Errorf("API key local cache TTL must be positive")
		}
		if c.KeyStore.LocalCacheTTL > c.KeyStore.ValidTTL {
			return fmt.Errorf("API key local cache TTL (%s) must not exceed the valid cache TTL (%s)", c.KeyStore.LocalCacheTTL, c.KeyStore.ValidTTL)
		}
	}
	if c.KeyStore.KeyPrefix == "" {
		return fmt.Errorf("API key prefix is required")
	}

	if err := c.RateLimit.Validate(); err != nil {
		return err
	}

	if c.Policy.CatalogWatch && c.Policy.CatalogFile == "" {
		return fmt.Errorf("catalog watch requires a catalog file")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
