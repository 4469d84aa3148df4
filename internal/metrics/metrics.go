// Package metrics exposes the process-wide Prometheus collectors of the
// archiver that are not tied to status events: HTTP API traffic, politeness
// waits and worker occupancy.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	busyWorkers                prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_requests_total",
				Help: "Total number of API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_wait_seconds",
				Help:    "Histogram of per-host politeness waits before archive requests.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		busyWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_busy_workers",
				Help: "Number of workers currently dispatching an item.",
			},
		)
	})
}

// SanitizeHost reduces a URL or host to a lowercase hostname.
// It returns "unknown" if the input has no usable host.
func SanitizeHost(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitWait records how long a request waited for its host's
// token bucket.
func ObserveRateLimitWait(host string, waited time.Duration) {
	if rateLimitWaitSeconds == nil {
		return
	}
	rateLimitWaitSeconds.WithLabelValues(SanitizeHost(host)).Observe(waited.Seconds())
}

// WorkerBusy marks a worker as dispatching; the returned func marks it idle.
func WorkerBusy() func() {
	if busyWorkers == nil {
		return func() {}
	}
	busyWorkers.Inc()
	return busyWorkers.Dec
}
