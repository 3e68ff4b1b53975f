// Package metrics exposes Prometheus collectors for the fetch pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal          *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	linksDiscoveredTotal       *prometheus.CounterVec
	articlesExtractedTotal     *prometheus.CounterVec
	skipsTotal                 *prometheus.CounterVec
	phaseDurationSeconds       *prometheus.HistogramVec
	phaseRecords               *prometheus.GaugeVec
	activeWorkers              *prometheus.GaugeVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetcher_pages_fetched_total",
				Help: "Total number of pages fetched, labeled by site, status and fetcher.",
			},
			[]string{"site", "status", "fetcher"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetcher_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		linksDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetcher_links_discovered_total",
				Help: "Total number of new links discovered by frontier walkers.",
			},
			[]string{"site"},
		)

		articlesExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetcher_articles_extracted_total",
				Help: "Total number of articles extracted, labeled by extraction path.",
			},
			[]string{"path"},
		)

		skipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfetcher_skips_total",
				Help: "Total number of skipped pages or items, labeled by stage and reason.",
			},
			[]string{"stage", "reason"},
		)

		phaseDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docfetcher_phase_duration_seconds",
				Help:    "Histogram of pipeline phase durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"phase"},
		)

		phaseRecords = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docfetcher_phase_records",
				Help: "Record counts of the last completed phase, labeled by phase and kind (discovered, total, duplicates).",
			},
			[]string{"phase", "kind"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docfetcher_active_workers",
				Help: "Number of workers currently processing a target or batch.",
			},
			[]string{"phase"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docfetcher_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetched page.
func ObserveFetch(rawURL string, status int, bytesFetched int, fetcher string) {
	Init()
	site := SanitizeSite(rawURL)
	pagesFetchedTotal.WithLabelValues(site, strconv.Itoa(status), fetcher).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// AddLinksDiscovered counts newly discovered links for a site.
func AddLinksDiscovered(site string, n int) {
	Init()
	if n > 0 {
		linksDiscoveredTotal.WithLabelValues(site).Add(float64(n))
	}
}

// ObserveArticle counts one extracted article by extraction path.
func ObserveArticle(path string) {
	Init()
	articlesExtractedTotal.WithLabelValues(path).Inc()
}

// ObserveSkip counts one skipped unit of work.
func ObserveSkip(stage, reason string) {
	Init()
	skipsTotal.WithLabelValues(stage, reason).Inc()
}

// ObservePhase records the duration and counts of a completed phase.
func ObservePhase(phase string, duration time.Duration, discovered, total, duplicates int) {
	Init()
	phaseDurationSeconds.WithLabelValues(phase).Observe(duration.Seconds())
	phaseRecords.WithLabelValues(phase, "discovered").Set(float64(discovered))
	phaseRecords.WithLabelValues(phase, "total").Set(float64(total))
	phaseRecords.WithLabelValues(phase, "duplicates").Set(float64(duplicates))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(phase string) {
	Init()
	activeWorkers.WithLabelValues(phase).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(phase string) {
	Init()
	activeWorkers.WithLabelValues(phase).Dec()
}

// ObserveRateLimitWait records a wait imposed by the per-host rate limiter.
func ObserveRateLimitWait(site string, d time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
