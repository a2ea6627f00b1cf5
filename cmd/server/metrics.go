package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	rateLimited     prometheus.Counter
	itemsIngested   *prometheus.CounterVec
	staleResponses  prometheus.Counter
}

// registerMetrics sets up Prometheus metrics collection on reg
func registerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rarity_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rarity_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rarity_http_requests_in_flight",
				Help: "HTTP requests currently being served",
			},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rarity_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		itemsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rarity_items_ingested_total",
				Help: "Items parsed from request bodies and metadata sources",
			},
			[]string{"source"},
		),
		staleResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rarity_stale_responses_total",
				Help: "Rarity responses served from a snapshot other than the submitted items",
			},
		),
	}

	reg.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.inFlight,
		m.rateLimited,
		m.itemsIngested,
		m.staleResponses,
	)
	return m
}
