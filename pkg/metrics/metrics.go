// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal counts completed inbound calls by kind (start, message, resume) and outcome status.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Workflow turns by kind and resulting status",
		},
		[]string{"kind", "status"},
	)

	// TurnsInFlight tracks turns currently executing.
	TurnsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_turns_in_flight",
			Help: "Workflow turns currently executing",
		},
	)

	// NodeDuration tracks graph node execution time.
	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_node_duration_seconds",
			Help:    "Graph node execution duration",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"node", "result"},
	)

	// SuspensionsTotal counts suspensions by node.
	SuspensionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_suspensions_total",
			Help: "Workflow suspensions by node",
		},
		[]string{"node"},
	)

	// ProtocolErrorsTotal counts integration faults by operation.
	ProtocolErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_protocol_errors_total",
			Help: "Protocol errors by operation",
		},
		[]string{"op"},
	)

	// CheckpointSavesTotal counts checkpoint writes by backend and result.
	CheckpointSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_checkpoint_saves_total",
			Help: "Checkpoint saves by backend and result",
		},
		[]string{"backend", "result"},
	)

	// CollaboratorCallsTotal counts classifier and domain service calls.
	CollaboratorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_collaborator_calls_total",
			Help: "External collaborator calls by collaborator, operation and result",
		},
		[]string{"collaborator", "op", "result"},
	)

	// CollaboratorRetriesTotal counts retried collaborator attempts.
	CollaboratorRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_collaborator_retries_total",
			Help: "Retried collaborator attempts",
		},
		[]string{"collaborator", "op"},
	)

	// LLMRequestDuration tracks LLM completion latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// LifecycleEventsTotal counts lifecycle events published to NATS.
	LifecycleEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_lifecycle_events_total",
			Help: "Lifecycle events published by type and result",
		},
		[]string{"type", "result"},
	)

	// EventStreamsActive tracks open lifecycle event streams.
	EventStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_event_streams_active",
			Help: "Open lifecycle event SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordNode records one node execution.
func RecordNode(node, result string, duration float64) {
	NodeDuration.WithLabelValues(node, result).Observe(duration)
	if result == "suspend" {
		SuspensionsTotal.WithLabelValues(node).Inc()
	}
}

// RecordLLM records metrics for a single LLM completion.
func RecordLLM(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordCollaborator records a collaborator call outcome.
func RecordCollaborator(collaborator, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CollaboratorCallsTotal.WithLabelValues(collaborator, op, result).Inc()
}

// RecordCheckpointSave records a checkpoint write outcome.
func RecordCheckpointSave(backend, result string) {
	CheckpointSavesTotal.WithLabelValues(backend, result).Inc()
}
