// Package metrics exports greenhouse operation outcomes and HTTP timings to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "greenhouse"

var _ greenhouses.OutcomeObserver = (*Recorder)(nil)

// Recorder owns a private registry so several recorders can coexist in one process.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	requests   *prometheus.HistogramVec
}

// NewRecorder registers the greenhouse collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Greenhouse mutations by operation and reconciliation outcome.",
	}, []string{"operation", "outcome"})
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route, method and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
	registry.MustRegister(operations, requests)
	return &Recorder{registry: registry, operations: operations, requests: requests}
}

// ObserveOutcome counts one mutation outcome.
func (r *Recorder) ObserveOutcome(operation string, kind greenhouses.OutcomeKind) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, string(kind)).Inc()
}

// ObserveRequest records the latency of one handled request.
func (r *Recorder) ObserveRequest(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.requests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
