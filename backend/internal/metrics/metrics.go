// Package metrics exposes Prometheus metrics for the pipeline, the graph
// store, queries and the HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. All methods
// are safe on a nil *Collector.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// Pipeline metrics
	PipelineRuns  *prometheus.CounterVec
	StepAttempts  *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	StoreUpserts  *prometheus.CounterVec
	Queries       *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Pipeline runs by terminal status",
			},
			[]string{"status"},
		),
		StepAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_step_attempts_total",
				Help:      "Pipeline step attempts by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_step_duration_seconds",
				Help:      "Duration of one pipeline step attempt in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		StoreUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_upserts_total",
				Help:      "Graph store upserts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Graph queries by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Graph query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
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
	}

	registry.MustRegister(
		c.PipelineRuns,
		c.StepAttempts,
		c.StepDuration,
		c.StoreUpserts,
		c.Queries,
		c.QueryDuration,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a run that reached a terminal status
func (c *Collector) RecordRun(status string) {
	if c == nil {
		return
	}
	c.PipelineRuns.WithLabelValues(status).Inc()
}

// RecordStepAttempt counts one step attempt and observes its duration
func (c *Collector) RecordStepAttempt(step, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.StepAttempts.WithLabelValues(step, outcome).Inc()
	c.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordUpsert counts a node or edge upsert
func (c *Collector) RecordUpsert(kind, outcome string) {
	if c == nil {
		return
	}
	c.StoreUpserts.WithLabelValues(kind, outcome).Inc()
}

// RecordQuery counts one query execution
func (c *Collector) RecordQuery(queryType, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Queries.WithLabelValues(queryType, outcome).Inc()
	c.QueryDuration.WithLabelValues(queryType).Observe(d.Seconds())
}

// RecordHTTPRequest counts one HTTP request
func (c *Collector) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
