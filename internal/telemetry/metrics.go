package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks the ambient health/metrics HTTP surface latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "pagewave",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// IncidentsEscalatedTotal counts escalations performed by the EscalationEngine,
// labeled by the step advanced to.
var IncidentsEscalatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pagewave",
		Subsystem: "escalation",
		Name:      "incidents_escalated_total",
		Help:      "Total number of incidents advanced to a new plan step.",
	},
	[]string{"step"},
)

// IncidentsDeactivatedTotal counts incidents marked inactive, labeled by reason.
var IncidentsDeactivatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pagewave",
		Subsystem: "escalation",
		Name:      "incidents_deactivated_total",
		Help:      "Total number of incidents deactivated, by reason.",
	},
	[]string{"reason"},
)

// MessagesAggregatedTotal counts messages that entered aggregation mode.
var MessagesAggregatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pagewave",
		Subsystem: "aggregation",
		Name:      "messages_aggregated_total",
		Help:      "Total number of messages classified into aggregation.",
	},
)

// BatchesFlushedTotal counts aggregation batch flushes, labeled by size bucket.
var BatchesFlushedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pagewave",
		Subsystem: "aggregation",
		Name:      "batches_flushed_total",
		Help:      "Total number of aggregation batches flushed.",
	},
	[]string{"kind"}, // "single" or "batch"
)

// RenderFailuresTotal counts template render failures that fell back to the
// synthetic error message.
var RenderFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pagewave",
		Subsystem: "render",
		Name:      "failures_total",
		Help:      "Total number of message renders that fell back to a synthetic error body.",
	},
)

// DispatchSendTotal counts vendor send attempts, labeled by mode and outcome.
var DispatchSendTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pagewave",
		Subsystem: "dispatch",
		Name:      "send_total",
		Help:      "Total number of vendor send attempts.",
	},
	[]string{"mode", "outcome"}, // outcome: sent, fallback, failed
)

// DispatchSendDuration tracks vendor send latency.
var DispatchSendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "pagewave",
		Subsystem: "dispatch",
		Name:      "send_duration_seconds",
		Help:      "Vendor send latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"mode"},
)

// TaskFailureTotal counts worker task crashes and vendor exhaustion events.
var TaskFailureTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pagewave",
		Subsystem: "dispatch",
		Name:      "task_failure_total",
		Help:      "Total number of dispatcher task failures.",
	},
)

// RPCSlaveAttemptsTotal counts slave RPC attempts, labeled by outcome.
var RPCSlaveAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pagewave",
		Subsystem: "rpc",
		Name:      "slave_attempts_total",
		Help:      "Total number of master-to-slave dispatch attempts.",
	},
	[]string{"outcome"}, // ok, timeout, error
)

// QueueDepth reports current depth of the intake/send queues.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "pagewave",
		Subsystem: "dispatch",
		Name:      "queue_depth",
		Help:      "Current depth of an in-process queue.",
	},
	[]string{"queue"}, // intake, send
)

// All returns all pagewave-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		IncidentsEscalatedTotal,
		IncidentsDeactivatedTotal,
		MessagesAggregatedTotal,
		BatchesFlushedTotal,
		RenderFailuresTotal,
		DispatchSendTotal,
		DispatchSendDuration,
		TaskFailureTotal,
		RPCSlaveAttemptsTotal,
		QueueDepth,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
