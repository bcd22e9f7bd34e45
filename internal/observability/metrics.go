// Package observability holds the operator-facing instrumentation: a
// Prometheus metrics collector and the OpenTelemetry tracing bootstrap.
// Nothing here is user-visible; a degraded turn looks identical to a
// successful one except for these counters.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the memory core.
type Collector struct {
	registry *prometheus.Registry

	// HTTP facade metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Ledger metrics
	EventsAppended  *prometheus.CounterVec
	ProjectionFolds prometheus.Counter

	// Side-effect error sink: failures here are logged and absorbed, so the
	// counters are the only place operators see them.
	SideEffectFailures *prometheus.CounterVec

	// Retrieval metrics
	RetrievalDegradations *prometheus.CounterVec

	// Worker pool metrics
	WorkerDropped    prometheus.Counter
	WorkerQueueDepth prometheus.Gauge
}

// NewCollector creates a metrics collector with the given namespace. A
// singleton is kept so repeated construction in tests does not trip
// duplicate registration.
func NewCollector(namespace string) *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		EventsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_appended_total",
				Help:      "Total number of events appended to the log",
			},
			[]string{"kind"},
		),
		ProjectionFolds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "projection_folds_total",
				Help:      "Total number of projection folds computed",
			},
		),
		SideEffectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effect_failures_total",
				Help:      "Total number of absorbed side-effect failures",
			},
			[]string{"effect"},
		),
		RetrievalDegradations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_degradations_total",
				Help:      "Total number of read-path failures degraded to empty results",
			},
			[]string{"path"},
		),
		WorkerDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_dropped_tasks_total",
				Help:      "Total number of background tasks dropped due to a full queue",
			},
		),
		WorkerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_queue_depth",
				Help:      "Current depth of the background worker queue",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.EventsAppended,
		c.ProjectionFolds,
		c.SideEffectFailures,
		c.RetrievalDegradations,
		c.WorkerDropped,
		c.WorkerQueueDepth,
	)

	globalCollector = c
	return c
}

// Registry returns the prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveHTTPRequest records one served request.
func (c *Collector) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
