package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for a RarityCache.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	lookups     *prometheus.CounterVec
	coalesces   prometheus.Counter
	computeTime prometheus.Histogram
	entries     prometheus.Gauge
}

// NewMetrics creates the cache collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rarity_cache_lookups_total",
				Help: "Rarity cache lookups by result",
			},
			[]string{"result"},
		),
		coalesces: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rarity_cache_coalesced_total",
				Help: "Requests that shared an in-flight rarity computation",
			},
		),
		computeTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rarity_compute_duration_seconds",
				Help:    "Time spent computing a collection's rarity dataset",
				Buckets: prometheus.DefBuckets,
			},
		),
		entries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rarity_cache_entries",
				Help: "Number of collections held in the rarity cache",
			},
		),
	}

	reg.MustRegister(m.lookups, m.coalesces, m.computeTime, m.entries)
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.lookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) coalesced() {
	if m != nil {
		m.coalesces.Inc()
	}
}

func (m *Metrics) observe(d time.Duration) {
	if m != nil {
		m.computeTime.Observe(d.Seconds())
	}
}

func (m *Metrics) setEntries(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
