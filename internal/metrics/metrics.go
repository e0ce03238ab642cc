// Package metrics exposes Prometheus collectors for the newswatch service.
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
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	lockContentionTotal        *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	entriesIngestedTotal       *prometheus.CounterVec
	resumeSearchSteps          prometheus.Histogram
	enrichmentTransitionsTotal *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	queueMessagesTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswatch_jobs_total",
				Help: "Total number of jobs processed, labeled by task and final status.",
			},
			[]string{"task", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newswatch_job_duration_seconds",
				Help:    "Histogram of job run durations, labeled by task.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"task"},
		)

		lockContentionTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswatch_lock_contention_total",
				Help: "Jobs rejected because their lock was held, labeled by task.",
			},
			[]string{"task"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswatch_pages_total",
				Help: "Total number of pages fetched over HTTP or the browser, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswatch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		entriesIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswatch_entries_ingested_total",
				Help: "Entries newly inserted by crawls, labeled by site.",
			},
			[]string{"site"},
		)

		resumeSearchSteps = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newswatch_resume_search_steps",
				Help:    "Page reads issued by one resume search.",
				Buckets: []float64{1, 2, 4, 6, 8, 12, 16, 24},
			},
		)

		enrichmentTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswatch_enrichment_transitions_total",
				Help: "Entry state transitions, labeled by stage and resulting state.",
			},
			[]string{"stage", "state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswatch_active_workers",
				Help: "Number of workers currently processing a job.",
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newswatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		queueMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswatch_queue_messages_total",
				Help: "Job messages moved through the queue, labeled by direction and task.",
			},
			[]string{"direction", "task"},
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

// ObserveJob records the final status and duration of a job.
func ObserveJob(task, status string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(task, status).Inc()
	jobDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveLockContention counts a job rejected on a held lock.
func ObserveLockContention(task string) {
	Init()
	lockContentionTotal.WithLabelValues(task).Inc()
}

// ObservePage records one fetch. Only the fetchers call it.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveIngested adds newly inserted entries for a site.
func ObserveIngested(site string, n int) {
	Init()
	if n <= 0 {
		return
	}
	entriesIngestedTotal.WithLabelValues(SanitizeSite(site)).Add(float64(n))
}

// ObserveResumeSteps records the page reads of one resume search.
func ObserveResumeSteps(steps int) {
	Init()
	resumeSearchSteps.Observe(float64(steps))
}

// ObserveTransition counts an entry moved to state by stage.
func ObserveTransition(stage, state string) {
	Init()
	enrichmentTransitionsTotal.WithLabelValues(stage, state).Inc()
}

// ObserveQueueMessage counts a message enqueued or dequeued.
func ObserveQueueMessage(direction, task string) {
	Init()
	queueMessagesTotal.WithLabelValues(direction, task).Inc()
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
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
