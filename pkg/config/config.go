package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caseworks/authcore/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Postgres configuration
	Postgres PostgresConfig

	// Redis configuration
	Redis RedisConfig

	// Authorization configuration
	Authz AuthzConfig

	// API key configuration
	APIKeys APIKeyConfig

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
}

// PostgresConfig holds database connection configuration
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthzConfig holds authorization engine configuration
type AuthzConfig struct {
	// AdminEmails is the break-glass global admin allow-list. Injected here
	// rather than hard-coded so it is testable and environment-specific.
	AdminEmails []string

	// VocabularyFile is the optional YAML file declaring per-tenant role
	// vocabularies. Empty disables file-based vocabulary.
	VocabularyFile string

	// StoreRetries bounds retries of read queries on transient store errors.
	StoreRetries int

	// VerboseErrors gates human-readable grant detail in HTTP responses.
	// Diagnostics are always logged regardless.
	VerboseErrors bool

	// ImpersonationTTL bounds how long an impersonation session lasts
	// without an explicit stop.
	ImpersonationTTL time.Duration

	// AuditRetention is how long audit events are kept; AuditPurgeSchedule
	// is the cron spec for the purge job.
	AuditRetention     time.Duration
	AuditPurgeSchedule string
}

// APIKeyConfig holds API key issuance defaults
type APIKeyConfig struct {
	DefaultRateLimitPerMinute int
	MeteringTimeout           time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Postgres:      loadPostgresConfig(),
		Redis:         loadRedisConfig(),
		Authz:         loadAuthzConfig(),
		APIKeys:       loadAPIKeyConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("AUTHCORE_HOST", "0.0.0.0"),
		Port:            getEnv("AUTHCORE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("AUTHCORE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("AUTHCORE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("AUTHCORE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("AUTHCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("AUTHCORE_HEALTH_PORT", "9090"),
	}
}

func loadPostgresConfig() PostgresConfig {
	return PostgresConfig{
		URL:          getEnv("AUTHCORE_POSTGRES_URL", "postgres://localhost/authcore?sslmode=disable"),
		MaxOpenConns: getEnvInt("AUTHCORE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("AUTHCORE_POSTGRES_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("AUTHCORE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("AUTHCORE_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("AUTHCORE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("AUTHCORE_REDIS_DB", 0),
	}
}

func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		AdminEmails:    splitList(getEnv("AUTHCORE_ADMIN_EMAILS", "")),
		VocabularyFile: getEnv("AUTHCORE_ROLE_VOCABULARY_FILE", ""),
		StoreRetries:   getEnvInt("AUTHCORE_STORE_RETRIES", 2),
		VerboseErrors:  getEnvBool("AUTHCORE_VERBOSE_ERRORS", false),

		ImpersonationTTL:   getEnvDuration("AUTHCORE_IMPERSONATION_TTL", time.Hour),
		AuditRetention:     getEnvDuration("AUTHCORE_AUDIT_RETENTION", 90*24*time.Hour),
		AuditPurgeSchedule: getEnv("AUTHCORE_AUDIT_PURGE_SCHEDULE", "0 3 * * *"),
	}
}

func loadAPIKeyConfig() APIKeyConfig {
	return APIKeyConfig{
		DefaultRateLimitPerMinute: getEnvInt("AUTHCORE_APIKEY_DEFAULT_RATE_LIMIT", 100),
		MeteringTimeout:           getEnvDuration("AUTHCORE_APIKEY_METERING_TIMEOUT", 5*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("AUTHCORE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("AUTHCORE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("AUTHCORE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("AUTHCORE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("AUTHCORE_OTEL_SERVICE_NAME", "authcore"),
		OTelServiceVersion: getEnv("AUTHCORE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("AUTHCORE_OTEL_INSECURE", true),
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

	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.APIKeys.DefaultRateLimitPerMinute <= 0 {
		return fmt.Errorf("API key default rate limit must be positive")
	}

	for _, email := range c.Authz.AdminEmails {
		if !strings.Contains(email, "@") {
			return fmt.Errorf("invalid admin email in allow-list: %q", email)
		}
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

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// splitList splits a comma-separated list, trimming whitespace and dropping empties
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
