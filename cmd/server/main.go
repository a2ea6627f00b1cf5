// Package main is the entry point for the rarity engine, an HTTP service that scores
// NFT collections by trait rarity and serves ranked, filterable views of them.
package main

import (
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/neomarket/rarity-engine/internal/cache"
	"github.com/neomarket/rarity-engine/internal/circuitbreaker"
	"github.com/neomarket/rarity-engine/internal/config"
	"github.com/neomarket/rarity-engine/internal/fetch"
	tracing "github.com/neomarket/rarity-engine/internal/otel"
	"github.com/neomarket/rarity-engine/internal/security"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		logrus.Warnf("Failed to load .env: %v", err)
	}

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.Fatalf("Error loading configuration: %v", err)
	}

	setupLogging(cfg)

	shutdownTracer := tracing.InitTracer(cfg)
	defer shutdownTracer()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rarityCache := cache.New(cache.Options{
		Workers: cfg.CacheWorkers,
		Metrics: cache.NewMetrics(registry),
	})

	breaker := circuitbreaker.New(circuitbreaker.Options{
		FailureThreshold: cfg.BreakerFailures,
		ResetDelay:       cfg.BreakerCooldown,
	})

	deps := Dependencies{
		Cache:    rarityCache,
		Fetcher:  fetch.NewMetadataClient(fetchOptions(cfg, breaker)),
		Breaker:  breaker,
		Registry: registry,
	}

	if cfg.SigningEnabled {
		signer, err := security.NewSigner(cfg.SigningKey)
		if err != nil {
			logrus.Fatalf("Error initializing dataset signer: %v", err)
		}
		deps.Signer = signer
	}

	server := NewServer(cfg, deps)
	if err := server.Start(); err != nil {
		logrus.Errorf("Server error: %v", err)
		shutdownTracer()
		os.Exit(1)
	}
}

// fetchOptions maps the fetch section of the configuration onto client options
func fetchOptions(cfg config.Config, breaker *circuitbreaker.CircuitBreaker) fetch.Options {
	opts := fetch.DefaultOptions()
	opts.Timeout = cfg.FetchTimeout
	opts.RetryMax = cfg.FetchRetryMax
	opts.RequestsPerSecond = cfg.FetchRPS
	opts.Concurrency = cfg.FetchConcurrency
	opts.MaxBodyBytes = cfg.FetchMaxBytes
	opts.MaxItems = cfg.MaxItems
	opts.Breaker = breaker
	return opts
}

// setupLogging configures the logging for the application
func setupLogging(cfg config.Config) {
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}
