// Package metrics exposes preloader and cache metrics via Prometheus.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tunecache/tunecache/pkg/types"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector registers and updates the preloader's Prometheus metrics on a
// private registry.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	preloadsStarted   *prometheus.CounterVec
	preloadsCompleted prometheus.Counter
	preloadsFailed    prometheus.Counter
	preloadsCancelled prometheus.Counter
	strategySkipped   *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	cacheEvictions    prometheus.Counter
	cacheBytes        prometheus.Gauge
	cacheEntries      prometheus.Gauge
	activePreloads    prometheus.Gauge
	fetchDuration     prometheus.Histogram
	fetchBytes        prometheus.Counter

	server *http.Server
}

// NewCollector creates a metrics collector.
func NewCollector(config Config) *Collector {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "tunecache"
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		config:   config,
		registry: registry,
		preloadsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "preloads_started_total",
			Help:      "Preload fetches launched, by candidate reason source.",
		}, []string{"source"}),
		preloadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "preloads_completed_total",
			Help:      "Preload fetches that finished with bytes cached.",
		}),
		preloadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "preloads_failed_total",
			Help:      "Preload fetches that terminated with an error.",
		}),
		preloadsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "preloads_cancelled_total",
			Help:      "Preload fetches cancelled explicitly or by preemption.",
		}),
		strategySkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "strategy_skipped_total",
			Help:      "Strategy invocations skipped by the network gate, by cause.",
		}, []string{"cause"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_hits_total",
			Help:      "Preloaded-audio lookups served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_misses_total",
			Help:      "Preloaded-audio lookups not present in cache.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted by size cleanup, TTL sweep, or removal.",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "cache_bytes",
			Help:      "Current total cached payload size.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "cache_entries",
			Help:      "Current number of cached songs.",
		}),
		activePreloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "active_preloads",
			Help:      "Fetches currently in flight.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of completed preload fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "fetch_bytes_total",
			Help:      "Total audio bytes fetched by preloading.",
		}),
	}

	registry.MustRegister(
		c.preloadsStarted, c.preloadsCompleted, c.preloadsFailed, c.preloadsCancelled,
		c.strategySkipped, c.cacheHits, c.cacheMisses, c.cacheEvictions,
		c.cacheBytes, c.cacheEntries, c.activePreloads, c.fetchDuration, c.fetchBytes,
	)

	return c
}

// RecordPreloadStarted counts a launched fetch. source is the candidate
// reason with its rank suffix stripped (next, previous, related, ...).
func (c *Collector) RecordPreloadStarted(source string) {
	c.preloadsStarted.WithLabelValues(source).Inc()
	c.activePreloads.Inc()
}

// RecordPreloadCompleted counts a successful fetch.
func (c *Collector) RecordPreloadCompleted(bytes int, duration time.Duration) {
	c.preloadsCompleted.Inc()
	c.activePreloads.Dec()
	c.fetchDuration.Observe(duration.Seconds())
	c.fetchBytes.Add(float64(bytes))
}

// RecordPreloadFailed counts a failed fetch.
func (c *Collector) RecordPreloadFailed() {
	c.preloadsFailed.Inc()
	c.activePreloads.Dec()
}

// RecordPreloadCancelled counts a cancelled fetch.
func (c *Collector) RecordPreloadCancelled() {
	c.preloadsCancelled.Inc()
	c.activePreloads.Dec()
}

// RecordStrategySkipped counts a strategy run stopped by the gate.
func (c *Collector) RecordStrategySkipped(cause string) {
	c.strategySkipped.WithLabelValues(cause).Inc()
}

// RecordCacheHit counts a cache hit.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss counts a cache miss.
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// UpdateCacheStats refreshes the cache gauges from a stats snapshot.
func (c *Collector) UpdateCacheStats(stats types.CacheStats) {
	c.cacheBytes.Set(float64(stats.Size))
	c.cacheEntries.Set(float64(stats.Entries))
}

// RecordEviction counts evicted entries.
func (c *Collector) RecordEviction(count int) {
	c.cacheEvictions.Add(float64(count))
}

// Registry exposes the private registry for embedding into an existing
// metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint when enabled.
func (c *Collector) Start() error {
	if !c.config.Enabled || c.config.Port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.config.Port),
		Handler: mux,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Metrics are best-effort; the preloader keeps working.
			slog.Default().Error("metrics server stopped", "error", err)
		}
	}()

	return nil
}

// Stop shuts down the metrics endpoint.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
