// Package metrics exposes Prometheus instrumentation for the agent.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns a private registry so tests and multiple agents never
// collide on the default one.
type Collector struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	stateTransitions *prometheus.CounterVec
	currentState     *prometheus.GaugeVec

	iterationsTotal   prometheus.Counter
	iterationDuration prometheus.Histogram
	similarity        prometheus.Gauge
	actionsTotal      *prometheus.CounterVec
	runsTotal         *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers every metric under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		logger:   logger.Named("metrics"),

		llmRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Model API attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		llmRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model API attempt latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"operation"}),

		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Agent state machine transitions.",
		}, []string{"from", "to"}),
		currentState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_state",
			Help:      "1 for the agent's current state, 0 otherwise.",
		}, []string{"state"}),

		iterationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed capture, request and execute iterations.",
		}),
		iterationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of one iteration.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		similarity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "similarity_overall",
			Help:      "Overall similarity score after the latest iteration.",
		}),
		actionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions by type and outcome status.",
		}, []string{"type", "status"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by stop reason.",
		}, []string{"reason"}),

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Control API requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveLLMRequest records one model API attempt.
func (c *Collector) ObserveLLMRequest(op, outcome string, elapsed time.Duration) {
	c.llmRequestsTotal.WithLabelValues(op, outcome).Inc()
	if elapsed > 0 {
		c.llmRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

// RecordTransition counts a state change and moves the current-state gauge.
func (c *Collector) RecordTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
	c.currentState.WithLabelValues(from).Set(0)
	c.currentState.WithLabelValues(to).Set(1)
	c.logger.Debug("State transition recorded.", zap.String("from", from), zap.String("to", to))
}

// RecordIteration records one finished iteration and its resulting score.
func (c *Collector) RecordIteration(overall float64, elapsed time.Duration) {
	c.iterationsTotal.Inc()
	c.iterationDuration.Observe(elapsed.Seconds())
	c.similarity.Set(overall)
}

// RecordAction counts one action outcome.
func (c *Collector) RecordAction(actionType, status string) {
	c.actionsTotal.WithLabelValues(actionType, status).Inc()
}

// RecordRun counts a finished run by the reason it stopped.
func (c *Collector) RecordRun(reason string) {
	if reason == "" {
		reason = "completed"
	}
	c.runsTotal.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records one control API request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
