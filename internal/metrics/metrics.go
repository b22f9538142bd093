// Package metrics registers the Prometheus collectors shared by both APIs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metalearn_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metalearn_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)

	AuthEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metalearn_auth_events_total",
			Help: "Login, refresh and logout attempts by outcome",
		},
		[]string{"event", "outcome"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metalearn_llm_request_duration_seconds",
			Help:    "Chat completion latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"operation", "outcome"},
	)

	LLMBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metalearn_llm_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	ActivityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metalearn_activity_events_total",
			Help: "Learner activity events recorded by type",
		},
		[]string{"event_type"},
	)
)

func RecordHTTPRequest(service, method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(service, method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(service, method, route).Observe(duration.Seconds())
}

func RecordAuthEvent(event string, err error) {
	AuthEvents.WithLabelValues(event, outcome(err)).Inc()
}

func RecordLLMRequest(operation string, duration time.Duration, err error) {
	LLMRequestDuration.WithLabelValues(operation, outcome(err)).Observe(duration.Seconds())
}

func RecordActivityEvent(eventType string) {
	ActivityEvents.WithLabelValues(eventType).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
