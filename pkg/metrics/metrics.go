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

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMRetriesTotal tracks retried provider stream attempts.
	LLMRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_retries_total",
			Help: "Total retried LLM stream attempts",
		},
		[]string{"provider"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages appended to any timeline.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages appended",
		},
		[]string{"role", "timeline"},
	)

	// BranchesTotal tracks total branches created.
	BranchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branches_total",
			Help: "Total branches created",
		},
	)

	// PersistenceFlushesTotal tracks debounced snapshot flushes.
	PersistenceFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_flushes_total",
			Help: "Total debounced persistence flushes",
		},
		[]string{"status"},
	)

	// PersistenceDirtyConversations tracks conversations awaiting a flush.
	PersistenceDirtyConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "persistence_dirty_conversations",
			Help: "Conversations marked dirty and not yet flushed",
		},
	)

	// BlobOpsTotal tracks blob store operations.
	BlobOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blob_ops_total",
			Help: "Total blob store operations",
		},
		[]string{"op", "status"},
	)

	// StreamsActive tracks in-flight provider streams.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llm_streams_active",
			Help: "Number of in-flight provider streams",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for a completed LLM stream.
func RecordLLMStream(provider, model, status string, duration float64) {
	LLMStreamDuration.WithLabelValues(provider, model, status).Observe(duration)
}

// RecordBlobOp records a blob store operation outcome.
func RecordBlobOp(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	BlobOpsTotal.WithLabelValues(op, status).Inc()
}
