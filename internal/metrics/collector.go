// Package metrics provides the internal Prometheus collector. It is internal
// and not meant for import by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and updates all coordination-core metrics.
type Collector struct {
	stateWrites       *prometheus.CounterVec
	stateReadMisses   prometheus.Counter
	serviceCalls      *prometheus.CounterVec
	serviceCallTime   *prometheus.HistogramVec
	healthTransitions *prometheus.CounterVec
	workflowRuns      *prometheus.CounterVec
	workflowDuration  *prometheus.HistogramVec
	memoryEvictions   *prometheus.CounterVec
	llmCalls          *prometheus.CounterVec
	llmCallTime       prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a Collector registered on reg. Passing nil uses the
// default registerer, which suits production; tests pass their own registry
// so parallel packages never collide.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.stateWrites = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_writes_total",
			Help:      "Total number of context entry writes",
		},
		[]string{"key"},
	)

	c.stateReadMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_read_misses_total",
			Help:      "Total number of reads for absent context keys",
		},
	)

	c.serviceCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_calls_total",
			Help:      "Total number of remote service invocations",
		},
		[]string{"service", "operation", "outcome"},
	)

	c.serviceCallTime = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_call_duration_seconds",
			Help:      "Remote service invocation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	c.healthTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_health_transitions_total",
			Help:      "Total number of service status transitions",
		},
		[]string{"service", "to"},
	)

	c.workflowRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions",
		},
		[]string{"kind", "status"},
	)

	c.workflowDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow wall-clock duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"kind"},
	)

	c.memoryEvictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evictions_total",
			Help:      "Total number of short-term memory evictions",
		},
		[]string{"agent"},
	)

	c.llmCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of LLM collaborator calls",
		},
		[]string{"kind", "outcome"},
	)

	c.llmCallTime = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "LLM collaborator call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	return c
}

// RecordStateWrite counts one context entry write.
func (c *Collector) RecordStateWrite(key string) {
	c.stateWrites.WithLabelValues(key).Inc()
}

// RecordStateReadMiss counts one read of an absent key.
func (c *Collector) RecordStateReadMiss() {
	c.stateReadMisses.Inc()
}

// RecordServiceCall counts one invocation with its outcome and latency.
func (c *Collector) RecordServiceCall(service, operation, outcome string, d time.Duration) {
	c.serviceCalls.WithLabelValues(service, operation, outcome).Inc()
	c.serviceCallTime.WithLabelValues(service, operation).Observe(d.Seconds())
}

// RecordHealthTransition counts one status transition.
func (c *Collector) RecordHealthTransition(service, to string) {
	c.healthTransitions.WithLabelValues(service, to).Inc()
}

// RecordWorkflow counts one finished workflow.
func (c *Collector) RecordWorkflow(kind, status string, d time.Duration) {
	c.workflowRuns.WithLabelValues(kind, status).Inc()
	c.workflowDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordMemoryEviction counts evicted short-term items for an agent.
func (c *Collector) RecordMemoryEviction(agentID string, n int) {
	c.memoryEvictions.WithLabelValues(agentID).Add(float64(n))
}

// RecordLLMCall counts one collaborator call.
func (c *Collector) RecordLLMCall(kind, outcome string, d time.Duration) {
	c.llmCalls.WithLabelValues(kind, outcome).Inc()
	c.llmCallTime.Observe(d.Seconds())
}
