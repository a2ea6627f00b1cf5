// Package config provides configuration loading and management for the application.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// HTTP server settings
	Port            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxRequestBytes int64

	// Logging
	LogLevel  string
	LogFormat string

	// OpenTelemetry endpoint for tracing, empty disables export
	OtelEndpoint string
	ServiceName  string

	// Inbound rate limiting
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Rarity computation
	CacheWorkers int
	MaxItems     int

	// Remote metadata sources
	FetchTimeout     time.Duration
	FetchRetryMax    int
	FetchRPS         float64
	FetchConcurrency int
	FetchMaxBytes    int64

	// A metadata host is skipped for BreakerCooldown after BreakerFailures consecutive failures
	BreakerFailures int
	BreakerCooldown time.Duration

	// Dataset signing, an empty key generates an ephemeral one
	SigningEnabled bool
	SigningKey     string

	EnableMetrics bool
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Port:             "8080",
		RequestTimeout:   30 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		MaxRequestBytes:  32 << 20,
		LogLevel:         "info",
		LogFormat:        "text",
		ServiceName:      "rarity-engine",
		RateLimitEnabled: true,
		RateLimitRPS:     50,
		RateLimitBurst:   100,
		CacheWorkers:     4,
		MaxItems:         100000,
		FetchTimeout:     30 * time.Second,
		FetchRetryMax:    3,
		FetchRPS:         10,
		FetchConcurrency: 8,
		FetchMaxBytes:    64 << 20,
		BreakerFailures:  5,
		BreakerCooldown:  30 * time.Second,
		SigningEnabled:   false,
		EnableMetrics:    true,
	}
}

// Load creates a new Config from environment variables
func Load() Config {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

// applyEnv overrides cfg with any environment variables that are set
func applyEnv(cfg *Config) {
	cfg.Port = GetEnvOrDefault("PORT", cfg.Port)
	cfg.RequestTimeout = GetEnvAsDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ShutdownTimeout = GetEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.MaxRequestBytes = int64(GetEnvAsInt("MAX_REQUEST_BYTES", int(cfg.MaxRequestBytes)))

	cfg.LogLevel = strings.ToLower(GetEnvOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(GetEnvOrDefault("LOG_FORMAT", cfg.LogFormat))

	cfg.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OtelEndpoint)
	cfg.ServiceName = GetEnvOrDefault("OTEL_SERVICE_NAME", cfg.ServiceName)

	cfg.RateLimitEnabled = GetEnvAsBool("RATE_LIMIT_ENABLED", cfg.RateLimitEnabled)
	cfg.RateLimitRPS = GetEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = GetEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.CacheWorkers = GetEnvAsInt("CACHE_WORKERS", cfg.CacheWorkers)
	cfg.MaxItems = GetEnvAsInt("MAX_ITEMS", cfg.MaxItems)

	cfg.FetchTimeout = GetEnvAsDuration("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.FetchRetryMax = GetEnvAsInt("FETCH_RETRY_MAX", cfg.FetchRetryMax)
	cfg.FetchRPS = GetEnvAsFloat("FETCH_RPS", cfg.FetchRPS)
	cfg.FetchConcurrency = GetEnvAsInt("FETCH_CONCURRENCY", cfg.FetchConcurrency)
	cfg.FetchMaxBytes = int64(GetEnvAsInt("FETCH_MAX_BYTES", int(cfg.FetchMaxBytes)))
	cfg.BreakerFailures = GetEnvAsInt("BREAKER_FAILURES", cfg.BreakerFailures)
	cfg.BreakerCooldown = GetEnvAsDuration("BREAKER_COOLDOWN", cfg.BreakerCooldown)

	cfg.SigningEnabled = GetEnvAsBool("SIGNING_ENABLED", cfg.SigningEnabled)
	cfg.SigningKey = GetEnvOrDefault("SIGNING_KEY", cfg.SigningKey)

	cfg.EnableMetrics = GetEnvAsBool("ENABLE_METRICS", cfg.EnableMetrics)
}

// LoadDotEnv loads variables from the given .env files, or ./.env when none are named.
// Missing files are ignored and variables already set in the environment are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists && value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		} else {
			logrus.Warnf("Invalid integer in %s: %v, using default: %v", key, err, defaultValue)
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists && value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		} else {
			logrus.Warnf("Invalid float in %s: %v, using default: %v", key, err, defaultValue)
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		} else {
			logrus.Warnf("Invalid boolean in %s: %v, using default: %v", key, err, defaultValue)
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists && value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		} else {
			logrus.Warnf("Invalid duration in %s: %v, using default: %v", key, err, defaultValue)
		}
	}
	return defaultValue
}
