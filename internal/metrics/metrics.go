// Package metrics exposes process-wide Prometheus metrics for the runtime.
// Hot paths record through package-level helpers so callers do not carry a
// registry handle around.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registry     *prometheus.Registry

	agentCyclesTotal    *prometheus.CounterVec
	agentCycleDuration  *prometheus.HistogramVec
	gatewayCallsTotal   *prometheus.CounterVec
	gatewayDuration     *prometheus.HistogramVec
	toolExecutionsTotal *prometheus.CounterVec
	storeFlushesTotal   *prometheus.CounterVec
	runnersActive       prometheus.Gauge
)

// EnsureRegistered registers all metrics exactly once. Safe to call from
// any package init path.
func EnsureRegistered() {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()

		agentCyclesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colony_agent_cycles_total",
				Help: "Total number of agent wake cycles",
			},
			[]string{"status"},
		)
		agentCycleDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "colony_agent_cycle_duration_seconds",
				Help:    "Duration of agent wake cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		)
		gatewayCallsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colony_gateway_calls_total",
				Help: "Total number of LLM gateway calls",
			},
			[]string{"backend", "outcome"},
		)
		gatewayDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "colony_gateway_call_duration_seconds",
				Help:    "Duration of LLM gateway calls in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend"},
		)
		toolExecutionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colony_tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool", "status"},
		)
		storeFlushesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colony_store_flushes_total",
				Help: "Total number of durable store flushes",
			},
			[]string{"status"},
		)
		runnersActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "colony_runners_active",
				Help: "Number of live agent runners",
			},
		)

		registry.MustRegister(
			agentCyclesTotal,
			agentCycleDuration,
			gatewayCallsTotal,
			gatewayDuration,
			toolExecutionsTotal,
			storeFlushesTotal,
			runnersActive,
		)
	})
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordAgentCycle records one completed wake cycle.
func RecordAgentCycle(status string, d time.Duration) {
	EnsureRegistered()
	agentCyclesTotal.WithLabelValues(status).Inc()
	agentCycleDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordGatewayCall records one LLM gateway call.
func RecordGatewayCall(backend string, d time.Duration, ok bool) {
	EnsureRegistered()
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	gatewayCallsTotal.WithLabelValues(backend, outcome).Inc()
	gatewayDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordToolExecution records one tool execution.
func RecordToolExecution(tool string, ok bool) {
	EnsureRegistered()
	status := "success"
	if !ok {
		status = "error"
	}
	toolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// RecordStoreFlush records one durable flush attempt.
func RecordStoreFlush(ok bool) {
	EnsureRegistered()
	status := "success"
	if !ok {
		status = "error"
	}
	storeFlushesTotal.WithLabelValues(status).Inc()
}

// SetRunnersActive sets the live-runner gauge.
func SetRunnersActive(n int) {
	EnsureRegistered()
	runnersActive.Set(float64(n))
}
