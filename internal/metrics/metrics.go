// Package metrics exposes Prometheus collectors for the chapter archiver.
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
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	chaptersHandedOffTotal     prometheus.Counter
	chaptersArchivedTotal      prometheus.Counter
	archiveBytesTotal          prometheus.Counter
	relayLaggedItemsTotal      prometheus.Counter
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetches_total",
				Help: "Total number of chapter pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetch_bytes_total",
				Help: "Total number of markup bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_fetch_duration_seconds",
				Help:    "Histogram of chapter page fetch latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		chaptersHandedOffTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_chapters_handed_off_total",
				Help: "Total number of chapters handed from the walker to the relay.",
			},
		)

		chaptersArchivedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_chapters_archived_total",
				Help: "Total number of chapters appended to an archive.",
			},
		)

		archiveBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_archive_content_bytes_total",
				Help: "Total number of uncompressed chapter bytes appended to archives.",
			},
		)

		relayLaggedItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_relay_lagged_items_total",
				Help: "Total number of chapters dropped because the archive writer fell behind.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_runs_total",
				Help: "Total number of archive runs, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
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

// ObserveFetch records one chapter page fetch.
func ObserveFetch(site string, status string, bytesFetched int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	fetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHandoff increments the handed-off chapter counter.
func ObserveHandoff() {
	Init()
	chaptersHandedOffTotal.Inc()
}

// ObserveArchived records one chapter appended to an archive.
func ObserveArchived(contentBytes int64) {
	Init()
	chaptersArchivedTotal.Inc()
	archiveBytesTotal.Add(float64(contentBytes))
}

// ObserveLag records chapters dropped from the relay before the writer read them.
func ObserveLag(skipped uint64) {
	Init()
	relayLaggedItemsTotal.Add(float64(skipped))
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
