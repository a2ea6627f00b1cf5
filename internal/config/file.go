package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// fileConfig is the JSON layout of a configuration file. Durations are strings
// such as "30s"; zero values leave the defaults in place.
type fileConfig struct {
	Server struct {
		Port            string `json:"port"`
		RequestTimeout  string `json:"request_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
		MaxRequestBytes int64  `json:"max_request_bytes"`
	} `json:"server"`

	Logging struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"logging"`

	Tracing struct {
		Endpoint    string `json:"endpoint"`
		ServiceName string `json:"service_name"`
	} `json:"tracing"`

	RateLimiting struct {
		Enabled           *bool   `json:"enabled"`
		RequestsPerSecond float64 `json:"requests_per_second"`
		Burst             int     `json:"burst"`
	} `json:"rate_limiting"`

	Rarity struct {
		Workers  int `json:"workers"`
		MaxItems int `json:"max_items"`
	} `json:"rarity"`

	Fetch struct {
		Timeout           string  `json:"timeout"`
		RetryMax          *int    `json:"retry_max"`
		RequestsPerSecond float64 `json:"requests_per_second"`
		Concurrency       int     `json:"concurrency"`
		MaxBytes          int64   `json:"max_bytes"`
		BreakerFailures   int     `json:"breaker_failures"`
		BreakerCooldown   string  `json:"breaker_cooldown"`
	} `json:"fetch"`

	Signing struct {
		Enabled *bool  `json:"enabled"`
		Key     string `json:"key,omitempty"`
	} `json:"signing"`

	Metrics struct {
		Enabled *bool `json:"enabled"`
	} `json:"metrics"`
}

// LoadFile loads configuration from a JSON file. Environment variables take
// precedence over the file, which takes precedence over the defaults.
// An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		applyEnv(&cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := fc.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	applyEnv(&cfg)

	logrus.Infof("Loaded configuration from %s", path)
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.Port, fc.Server.Port)
	if err := setDuration(&cfg.RequestTimeout, fc.Server.RequestTimeout); err != nil {
		return fmt.Errorf("server.request_timeout: %w", err)
	}
	if err := setDuration(&cfg.ShutdownTimeout, fc.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	if fc.Server.MaxRequestBytes > 0 {
		cfg.MaxRequestBytes = fc.Server.MaxRequestBytes
	}

	setString(&cfg.LogLevel, fc.Logging.Level)
	setString(&cfg.LogFormat, fc.Logging.Format)
	setString(&cfg.OtelEndpoint, fc.Tracing.Endpoint)
	setString(&cfg.ServiceName, fc.Tracing.ServiceName)

	if fc.RateLimiting.Enabled != nil {
		cfg.RateLimitEnabled = *fc.RateLimiting.Enabled
	}
	if fc.RateLimiting.RequestsPerSecond > 0 {
		cfg.RateLimitRPS = fc.RateLimiting.RequestsPerSecond
	}
	if fc.RateLimiting.Burst > 0 {
		cfg.RateLimitBurst = fc.RateLimiting.Burst
	}

	if fc.Rarity.Workers > 0 {
		cfg.CacheWorkers = fc.Rarity.Workers
	}
	if fc.Rarity.MaxItems > 0 {
		cfg.MaxItems = fc.Rarity.MaxItems
	}

	if err := setDuration(&cfg.FetchTimeout, fc.Fetch.Timeout); err != nil {
		return fmt.Errorf("fetch.timeout: %w", err)
	}
	if fc.Fetch.RetryMax != nil {
		cfg.FetchRetryMax = *fc.Fetch.RetryMax
	}
	if fc.Fetch.RequestsPerSecond > 0 {
		cfg.FetchRPS = fc.Fetch.RequestsPerSecond
	}
	if fc.Fetch.Concurrency > 0 {
		cfg.FetchConcurrency = fc.Fetch.Concurrency
	}
	if fc.Fetch.MaxBytes > 0 {
		cfg.FetchMaxBytes = fc.Fetch.MaxBytes
	}
	if fc.Fetch.BreakerFailures > 0 {
		cfg.BreakerFailures = fc.Fetch.BreakerFailures
	}
	if err := setDuration(&cfg.BreakerCooldown, fc.Fetch.BreakerCooldown); err != nil {
		return fmt.Errorf("fetch.breaker_cooldown: %w", err)
	}

	if fc.Signing.Enabled != nil {
		cfg.SigningEnabled = *fc.Signing.Enabled
	}
	setString(&cfg.SigningKey, fc.Signing.Key)

	if fc.Metrics.Enabled != nil {
		cfg.EnableMetrics = *fc.Metrics.Enabled
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
