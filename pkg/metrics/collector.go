// Package metrics exposes Prometheus instrumentation for runs, steps and the
// HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns the metric vectors. A nil *Collector is a valid no-op.
type Collector struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	stepTransitions  *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	materializations prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	c.stepTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_transitions_total",
			Help:      "Step status transitions by step and target status",
		},
		[]string{"step", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of generation calls per step",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"adapter", "status"},
	)

	c.httpRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.materializations = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "materializations_total",
		Help:      "Completed materialization stages",
	})

	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a finished run. outcome is "completed", "halted",
// "rejected", "cancelled" or "superseded".
func (c *Collector) RecordRun(outcome string) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a step status change.
func (c *Collector) RecordTransition(stepTitle, status string) {
	if c == nil {
		return
	}
	c.stepTransitions.WithLabelValues(stepTitle, status).Inc()
}

// RecordStepDuration observes a generation call.
func (c *Collector) RecordStepDuration(adapter, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.stepDuration.WithLabelValues(adapter, status).Observe(d.Seconds())
}

// RecordHTTPRequest observes a served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordMaterialization counts a completed materialization stage.
func (c *Collector) RecordMaterialization() {
	if c == nil {
		return
	}
	c.materializations.Inc()
}
