// Package metrics exposes Prometheus collectors for run lifecycle and HTTP
// traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deixis/suiterun/internal/run"
)

const Namespace = "suiterun"

var (
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runs_started_total",
		Help:      "Runs started, by suite.",
	}, []string{"suite"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runs_finished_total",
		Help:      "Runs that reached a terminal status, by suite and status.",
	}, []string{"suite", "status"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of finished runs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"suite", "status"})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "runs_active",
		Help:      "Runs whose process has not exited yet.",
	})

	runErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "run_errors_total",
		Help:      "Failed or cancelled runs, by error kind.",
	}, []string{"kind"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// RecordStart counts a run whose process has been spawned.
func RecordStart(suite string) {
	runsStarted.WithLabelValues(suite).Inc()
	runsActive.Inc()
}

// RecordFinish counts a run reaching its terminal status.
func RecordFinish(s *run.Status) {
	status := s.Status.String()
	runsActive.Dec()
	runsFinished.WithLabelValues(s.Suite, status).Inc()
	runDuration.WithLabelValues(s.Suite, status).Observe(time.Duration(s.Runtime * int64(time.Millisecond)).Seconds())
	if s.ErrorKind != "" {
		runErrors.WithLabelValues(string(s.ErrorKind)).Inc()
	}
}

// RecordHTTPRequest counts one served HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, code).Inc()
	httpDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
