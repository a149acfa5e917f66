// Package observability provides logging setup and Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline
	PipelineRuns      *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	AgentsPublished   prometheus.Gauge
	SwapsPublished    prometheus.Gauge
	EdgesPublished    prometheus.Gauge
	LastPublish       prometheus.Gauge
	ListenerFailures  *prometheus.CounterVec
	BalanceReadErrors prometheus.Counter

	// Gateway
	GatewayRequests *prometheus.CounterVec
	GatewayRetries  prometheus.Counter

	// API
	FeedClients prometheus.Gauge
}

// NewMetrics registers every collector on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agent_network"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by result",
		}, []string{"result"}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Wall time of a pipeline run",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}),
		AgentsPublished: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "agents_published",
			Help:      "Agents in the last published snapshot",
		}),
		SwapsPublished: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "swaps_published",
			Help:      "Swap events in the last published snapshot",
		}),
		EdgesPublished: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "edges_published",
			Help:      "Cross-holding edges in the last published snapshot",
		}),
		LastPublish: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last successful publish",
		}),
		ListenerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "listener_failures_total",
			Help:      "Snapshot listener panics by listener",
		}, []string{"listener"}),
		BalanceReadErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "balance_read_errors_total",
			Help:      "Aggregated balance reads that failed and returned empty maps",
		}),
		GatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Outbound requests by outcome",
		}, []string{"outcome"}),
		GatewayRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Outbound request retries",
		}),
		FeedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "feed_clients",
			Help:      "Connected live feed clients",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRun(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(result).Inc()
	m.PipelineDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePublish(agents, swaps, edges int, at time.Time) {
	if m == nil {
		return
	}
	m.AgentsPublished.Set(float64(agents))
	m.SwapsPublished.Set(float64(swaps))
	m.EdgesPublished.Set(float64(edges))
	m.LastPublish.Set(float64(at.Unix()))
}

func (m *Metrics) ObserveListenerFailure(listener string) {
	if m == nil {
		return
	}
	m.ListenerFailures.WithLabelValues(listener).Inc()
}

func (m *Metrics) ObserveBalanceReadError() {
	if m == nil {
		return
	}
	m.BalanceReadErrors.Inc()
}

func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.GatewayRetries.Inc()
}

func (m *Metrics) FeedClientDelta(delta int) {
	if m == nil {
		return
	}
	m.FeedClients.Add(float64(delta))
}
