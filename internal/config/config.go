// Package config provides configuration management for the funnel metrics service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Connectors ConnectorsConfig
	Circuit    CircuitConfig
	Refresh    RefreshConfig
	Metrics    MetricsConfig
	Logging    LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// Per-client limit on the routes that call vendor APIs (connect, sync)
	RateLimitRPS   float64
	RateLimitBurst int
}

// StoreConfig selects and configures the document store
type StoreConfig struct {
	Backend  string // memory, redis or postgres
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// DSN returns the connection string used by pgx and migrate
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	KeyPrefix      string
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// ConnectorsConfig holds outbound vendor call settings
type ConnectorsConfig struct {
	HTTPTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	RetryDelay        time.Duration

	EmailMarketingBaseURL string // may contain %s for the data center
	StorefrontAPIVersion  string
	StorefrontBaseURL     string // empty: https://<shop_domain>
	WebAnalyticsDataURL   string
	WebAnalyticsAdminURL  string
	WebAnalyticsTokenURL  string // empty: token_uri from the key file
	PaidAdsBaseURL        string
	PaidAdsAPIVersion     string
	PaidAdsTokenURL       string
}

// CircuitConfig configures the per-platform circuit breakers used by bulk sync
type CircuitConfig struct {
	MaxConsecutiveFailures int
	OpenTimeout            time.Duration
}

// RefreshConfig schedules the background bulk refresh. A zero interval
// leaves refreshing to explicit sync calls.
type RefreshConfig struct {
	Interval time.Duration
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 2*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:    getEnvAsFloat("SERVER_RATE_LIMIT_RPS", 1),
			RateLimitBurst:  getEnvAsInt("SERVER_RATE_LIMIT_BURST", 5),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "funnel_metrics"),
				User:           getEnv("POSTGRES_USER", "funnel"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
				KeyPrefix:      getEnv("REDIS_KEY_PREFIX", "funnel:"),
			},
		},
		Connectors: ConnectorsConfig{
			HTTPTimeout:       getEnvAsDuration("CONNECTOR_HTTP_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("CONNECTOR_RPS", 5),
			Burst:             getEnvAsInt("CONNECTOR_BURST", 5),
			MaxAttempts:       getEnvAsInt("CONNECTOR_MAX_ATTEMPTS", 3),
			RetryDelay:        getEnvAsDuration("CONNECTOR_RETRY_DELAY", 500*time.Millisecond),

			EmailMarketingBaseURL: getEnv("EMAIL_MARKETING_BASE_URL", "https://%s.api.mailchimp.com/3.0"),
			StorefrontAPIVersion:  getEnv("STOREFRONT_API_VERSION", "2025-01"),
			StorefrontBaseURL:     getEnv("STOREFRONT_BASE_URL", ""),
			WebAnalyticsDataURL:   getEnv("WEB_ANALYTICS_DATA_URL", "https://analyticsdata.googleapis.com/v1beta"),
			WebAnalyticsAdminURL:  getEnv("WEB_ANALYTICS_ADMIN_URL", "https://analyticsadmin.googleapis.com/v1beta"),
			WebAnalyticsTokenURL:  getEnv("WEB_ANALYTICS_TOKEN_URL", ""),
			PaidAdsBaseURL:        getEnv("PAID_ADS_BASE_URL", "https://googleads.googleapis.com"),
			PaidAdsAPIVersion:     getEnv("PAID_ADS_API_VERSION", "v19"),
			PaidAdsTokenURL:       getEnv("PAID_ADS_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		},
		Circuit: CircuitConfig{
			MaxConsecutiveFailures: getEnvAsInt("CIRCUIT_MAX_FAILURES", 5),
			OpenTimeout:            getEnvAsDuration("CIRCUIT_OPEN_TIMEOUT", 5*time.Minute),
		},
		Refresh: RefreshConfig{
			Interval: getEnvAsDuration("REFRESH_INTERVAL", 0),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: must be memory, redis or postgres", c.Store.Backend)
	}
	if c.Connectors.RequestsPerSecond <= 0 {
		return fmt.Errorf("CONNECTOR_RPS must be positive")
	}
	if c.Refresh.Interval < 0 {
		return fmt.Errorf("REFRESH_INTERVAL must not be negative")
	}
	if c.Connectors.MaxAttempts < 1 {
		return fmt.Errorf("CONNECTOR_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
