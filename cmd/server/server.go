package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/neomarket/rarity-engine/internal/cache"
	"github.com/neomarket/rarity-engine/internal/circuitbreaker"
	"github.com/neomarket/rarity-engine/internal/config"
	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/security"
)

// version is reported by /health and /status
const version = "1.0.0"

// MetadataFetcher loads collection items from a remote source
type MetadataFetcher interface {
	FetchCollection(ctx context.Context, url string) ([]model.Item, error)
	FetchTokens(ctx context.Context, baseURL string, ids []string) ([]model.Item, error)
}

// Dependencies are the collaborators a Server is built from
type Dependencies struct {
	Cache   *cache.RarityCache
	Fetcher MetadataFetcher

	// Signer signs dataset digests, nil disables signing
	Signer *security.Signer

	// Breaker is the fetcher's circuit breaker, reported by /status
	Breaker *circuitbreaker.CircuitBreaker

	// Registry receives the server metrics and backs /metrics
	Registry *prometheus.Registry
}

// Server is the rarity HTTP service
type Server struct {
	config    config.Config
	cache     *cache.RarityCache
	fetcher   MetadataFetcher
	signer    *security.Signer
	breaker   *circuitbreaker.CircuitBreaker
	metrics   *serverMetrics
	gatherer  prometheus.Gatherer
	rateLimit *rate.Limiter
	router    *mux.Router
	server    *http.Server
	startTime time.Time
}

// NewServer creates a server and registers its routes
func NewServer(cfg config.Config, deps Dependencies) *Server {
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	rc := deps.Cache
	if rc == nil {
		rc = cache.New(cache.Options{Workers: cfg.CacheWorkers})
	}

	s := &Server{
		config:    cfg,
		cache:     rc,
		fetcher:   deps.Fetcher,
		signer:    deps.Signer,
		breaker:   deps.Breaker,
		metrics:   registerMetrics(registry),
		gatherer:  registry,
		startTime: time.Now(),
	}

	if cfg.RateLimitEnabled && cfg.RateLimitRPS > 0 {
		s.rateLimit = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), max(cfg.RateLimitBurst, 1))
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.routes()

	logrus.WithFields(logrus.Fields{
		"port":          cfg.Port,
		"cache_workers": cfg.CacheWorkers,
		"max_items":     cfg.MaxItems,
		"rate_limit":    s.rateLimit != nil,
		"signing":       s.signer != nil,
		"metrics":       cfg.EnableMetrics,
	}).Info("Server initialized")

	return s
}

// routes registers every endpoint on a fresh router
func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.tracingMiddleware, s.metricsMiddleware, s.loggingMiddleware)

	// operational endpoints bypass the rate limiter
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/tiers", s.handleTiers).Methods(http.MethodGet)
	api.HandleFunc("/collections", s.handleListCollections).Methods(http.MethodGet)
	api.HandleFunc("/collections", s.handleClearCollections).Methods(http.MethodDelete)
	api.HandleFunc("/collections/{id}", s.handleInvalidateCollection).Methods(http.MethodDelete)
	api.HandleFunc("/collections/{id}/rarity", s.handleComputeRarity).Methods(http.MethodPost)
	api.HandleFunc("/collections/{id}/rarity", s.handleCollectionRarity).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/rarity/{tokenId}", s.handleItemRarity).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/ranking", s.handleRanking).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/tiers", s.handleCollectionTiers).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/traits", s.handleTraits).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/filter", s.handleFilter).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully
func (s *Server) Start() error {
	s.server = newHTTPServer(s.config, s.router)

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logrus.WithField("signal", sig.String()).Info("Server shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	logrus.Info("Server stopped")
	return nil
}

// newHTTPServer applies the request timeout to reads and writes. A zero timeout leaves both unbounded.
func newHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		IdleTimeout: 60 * time.Second,
	}
	if cfg.RequestTimeout > 0 {
		srv.ReadTimeout = cfg.RequestTimeout
		// leave room to write the response of a request that used its whole budget
		srv.WriteTimeout = cfg.RequestTimeout + 5*time.Second
	}
	return srv
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableMetrics {
		errorResponse(w, r, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
