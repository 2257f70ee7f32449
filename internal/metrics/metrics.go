// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Attempt results recorded by ObserveFetchAttempt.
const (
	AttemptSuccess  = "success"
	AttemptError    = "error"
	AttemptCanceled = "canceled"
)

var (
	crawlerFetchAttemptsTotal     *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerRecordsTotal           *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerTasksDone              prometheus.Gauge
	crawlerTasksTotal             prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Latency of single fetch attempts, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Records written to the report, labeled by flag and task state.",
			},
			[]string{"flag", "state"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		crawlerTasksDone = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_tasks_done",
				Help: "Identifiers recorded so far in the current run.",
			},
		)

		crawlerTasksTotal = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_tasks_total",
				Help: "Identifiers scheduled in the current run.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metrics_http_requests_total",
				Help: "Requests served by the metrics endpoint, labeled by route.",
			},
			[]string{"route"},
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
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt records one fetch attempt against a site.
func ObserveFetchAttempt(site, result string, duration time.Duration, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerFetchAttemptsTotal.WithLabelValues(sanitizedSite, result).Inc()
	crawlerFetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRecord increments the record counter for a written flag and state.
func ObserveRecord(flag, state string) {
	Init()
	crawlerRecordsTotal.WithLabelValues(flag, state).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// Progress mirrors run progress into gauges. It satisfies crawler.Observer.
type Progress struct{}

// NewProgress initializes the collectors and returns a Progress observer.
func NewProgress() Progress {
	Init()
	return Progress{}
}

// TaskCompleted sets the done and total gauges.
func (Progress) TaskCompleted(done, total int) {
	Init()
	crawlerTasksDone.Set(float64(done))
	crawlerTasksTotal.Set(float64(total))
}
