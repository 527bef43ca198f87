// Package metrics exposes Prometheus collectors for the crawler, the
// ingestion bus and the search API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetches_total",
			Help: "Fetch attempts, labeled by site and HTTP status.",
		},
		[]string{"site", "status"},
	)

	crawlerBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_bytes_total",
			Help: "Bytes of HTML fetched, labeled by site.",
		},
		[]string{"site"},
	)

	crawlerFetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch latency including redirects.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
	)

	crawlerRobotsDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_robots_denied_total",
			Help: "URLs refused by robots.txt, labeled by site.",
		},
		[]string{"site"},
	)

	crawlerPolitenessDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_politeness_delay_seconds",
			Help:    "Time spent waiting on per-domain crawl delays.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"site"},
	)

	crawlerDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_duplicates_total",
			Help: "Pages skipped as near-duplicates of stored content.",
		},
	)

	crawlerActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Workers currently processing a URL.",
		},
	)

	crawlerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_jobs_total",
			Help: "Crawl jobs finished, labeled by status.",
		},
		[]string{"status"},
	)

	busMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Messages published, labeled by topic.",
		},
		[]string{"topic"},
	)

	busHandlerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_handler_failures_total",
			Help: "Handler invocations that returned an error or panicked, labeled by topic.",
		},
		[]string{"topic"},
	)

	busHandlerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bus_handler_duration_seconds",
			Help:    "Handler run time, labeled by topic.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	rankerQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranker_queries_total",
			Help: "Retrieval queries, labeled by mode (hybrid or degraded).",
		},
		[]string{"mode"},
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
)

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

// ObserveFetch records one fetch attempt.
func ObserveFetch(rawURL string, status int, bytesFetched int, duration time.Duration) {
	site := SanitizeSite(rawURL)
	crawlerFetchesTotal.WithLabelValues(site, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	crawlerFetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRobotsDenied counts a robots.txt refusal.
func ObserveRobotsDenied(rawURL string) {
	crawlerRobotsDeniedTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObservePolitenessDelay records time spent waiting on a domain's crawl delay.
func ObservePolitenessDelay(domain string, duration time.Duration) {
	crawlerPolitenessDelaySeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveDuplicate counts a near-duplicate page.
func ObserveDuplicate() {
	crawlerDuplicatesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// ObservePublish counts a bus message.
func ObservePublish(topic string) {
	busMessagesTotal.WithLabelValues(topic).Inc()
}

// ObserveHandler records one handler invocation and whether it failed.
func ObserveHandler(topic string, duration time.Duration, failed bool) {
	busHandlerDurationSeconds.WithLabelValues(topic).Observe(duration.Seconds())
	if failed {
		busHandlerFailuresTotal.WithLabelValues(topic).Inc()
	}
}

// ObserveQuery counts a ranker query by mode.
func ObserveQuery(mode string) {
	rankerQueriesTotal.WithLabelValues(mode).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
