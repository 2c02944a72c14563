// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestURLsDiscoveredTotal    prometheus.Counter
	harvestFetchOutcomesTotal     *prometheus.CounterVec
	harvestProbeRetriesTotal      prometheus.Counter
	harvestBytesTotal             prometheus.Counter
	harvestPersistedRowsTotal     *prometheus.CounterVec
	harvestPersistFailuresTotal   *prometheus.CounterVec
	harvestCrawlsTotal            *prometheus.CounterVec
	harvestRobotsFallbackTotal    prometheus.Counter
	harvestActiveWorkers          prometheus.Gauge
	harvestRateLimitDelaysSeconds prometheus.Histogram
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestURLsDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_urls_discovered_total",
				Help: "Total number of new URLs admitted to a crawl frontier.",
			},
		)

		harvestFetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_outcomes_total",
				Help: "Total number of processed URLs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvestProbeRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_probe_retries_total",
				Help: "Total number of HEAD probe retries.",
			},
		)

		// Crawls follow links off-site, so nothing here is labeled by host.
		harvestBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_bytes_total",
				Help: "Total number of body bytes fetched.",
			},
		)

		harvestPersistedRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_persisted_rows_total",
				Help: "Total number of URL rows committed, labeled by category.",
			},
			[]string{"category"},
		)

		harvestPersistFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_persist_failures_total",
				Help: "Total number of failed category persists, labeled by category.",
			},
			[]string{"category"},
		)

		harvestCrawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_crawls_total",
				Help: "Total number of finished crawls, labeled by status.",
			},
			[]string{"status"},
		)

		harvestRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_robots_fallback_total",
				Help: "Total robots.txt fetches that timed out and fell back to allow-all.",
			},
		)

		harvestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of workers currently processing a URL.",
			},
		)

		harvestRateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveDiscovered counts a URL newly admitted to a frontier.
func ObserveDiscovered() {
	Init()
	harvestURLsDiscoveredTotal.Inc()
}

// ObserveFetch records a processed URL's outcome and fetched byte count.
func ObserveFetch(outcome string, bytesFetched int) {
	Init()
	harvestFetchOutcomesTotal.WithLabelValues(outcome).Inc()
	if bytesFetched > 0 {
		harvestBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveProbeRetry counts one HEAD probe retry.
func ObserveProbeRetry() {
	Init()
	harvestProbeRetriesTotal.Inc()
}

// ObservePersist records the rows committed for a category, or a failure.
func ObservePersist(category string, rows int, err error) {
	Init()
	if err != nil {
		harvestPersistFailuresTotal.WithLabelValues(category).Inc()
	}
	if rows > 0 {
		harvestPersistedRowsTotal.WithLabelValues(category).Add(float64(rows))
	}
}

// ObserveCrawl increments the finished-crawl counter for the given status.
func ObserveCrawl(status string) {
	Init()
	harvestCrawlsTotal.WithLabelValues(status).Inc()
}

// ObserveRobotsFallback counts a robots.txt fetch answered with allow-all.
func ObserveRobotsFallback() {
	Init()
	harvestRobotsFallbackTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvestActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	harvestRateLimitDelaysSeconds.Observe(duration.Seconds())
}
