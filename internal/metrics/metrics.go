package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fjod/trophythreads/internal/domain"
)

const namespace = "trophythreads"

type ServerMetrics struct {
	Requests        *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec
	Attempts        *prometheus.CounterVec
	CommitLatencyMS *prometheus.HistogramVec
	OutboxEvents    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewServerMetrics registers the service collectors on reg. Passing nil uses
// a fresh registry, which keeps tests independent of each other.
func NewServerMetrics(service string, reg *prometheus.Registry) *ServerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "checkout_attempt_transitions_total",
		Help:      "Checkout attempt state transitions by order mode.",
	}, []string{"mode", "state"})
	commitLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "checkout_commit_duration_ms",
		Help:      "Duration of successful commits in milliseconds.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"mode"})
	outbox := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "outbox_events_total",
		Help:      "Outbox events handled by the publisher, by result.",
	}, []string{"result"})

	reg.MustRegister(requests, latency, attempts, commitLatency, outbox)
	return &ServerMetrics{
		Requests:        requests,
		LatencyMS:       latency,
		Attempts:        attempts,
		CommitLatencyMS: commitLatency,
		OutboxEvents:    outbox,
		gatherer:        reg,
	}
}

func (m *ServerMetrics) ObserveRequest(handler string, status int, d time.Duration) {
	m.Requests.WithLabelValues(handler, http.StatusText(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(d.Milliseconds()))
}

func (m *ServerMetrics) RecordAttempt(mode domain.OrderMode, state domain.AttemptState) {
	m.Attempts.WithLabelValues(mode.String(), state.String()).Inc()
}

func (m *ServerMetrics) ObserveCommitDuration(mode domain.OrderMode, d time.Duration) {
	m.CommitLatencyMS.WithLabelValues(mode.String()).Observe(float64(d.Milliseconds()))
}

func (m *ServerMetrics) EventPublished() {
	m.OutboxEvents.WithLabelValues("published").Inc()
}

func (m *ServerMetrics) EventFailed() {
	m.OutboxEvents.WithLabelValues("failed").Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
