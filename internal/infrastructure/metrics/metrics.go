// Package metrics holds the prometheus collectors of the service. They are
// registered on the default registry and served by the HTTP /metrics route.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "programhub_operations_total",
		Help: "Total number of use case executions, labelled by operation and outcome.",
	}, []string{"operation", "outcome"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "programhub_operation_duration_ms",
		Help:    "Use case latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"operation"})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "programhub_validation_failures_total",
		Help: "Business rule violations reported to callers, labelled by operation.",
	}, []string{"operation"})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "programhub_cache_requests_total",
		Help: "Traversal cache lookups, labelled by query and result (hit, miss, error).",
	}, []string{"query", "result"})

	CacheBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "programhub_cache_breaker_state",
		Help: "State of the cache circuit breaker (0 closed, 1 open, 2 half-open).",
	}, []string{"breaker"})

	PostponedYears = promauto.NewCounter(prometheus.CounterOpts{
		Name: "programhub_postponed_years_total",
		Help: "Total number of academic years created by postponement.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "programhub_events_published_total",
		Help: "Domain events published on the bus, labelled by type.",
	}, []string{"event_type"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "programhub_http_requests_total",
		Help: "HTTP requests, labelled by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "programhub_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, labelled by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// ObserveOperation records one use case execution.
func ObserveOperation(operation, outcome string, start time.Time) {
	Operations.WithLabelValues(operation, outcome).Inc()
	OperationDuration.WithLabelValues(operation).Observe(float64(time.Since(start).Milliseconds()))
	if outcome == OutcomeRejected {
		ValidationFailures.WithLabelValues(operation).Inc()
	}
}
