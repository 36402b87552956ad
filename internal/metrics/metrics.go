package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardedCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_relay_forwarded_calls_total",
			Help: "Total JSON-RPC calls forwarded to the active endpoint by outcome",
		},
		[]string{"method", "outcome"},
	)

	retryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcp_relay_retry_attempts_total",
			Help: "Total retry attempts beyond the first try of a forwarded call",
		},
	)

	cacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_relay_tool_cache_reads_total",
			Help: "Total tool cache reads by result (hit, miss)",
		},
		[]string{"result"},
	)

	activeChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcp_relay_active_endpoint_changes_total",
			Help: "Total times the believed active endpoint changed",
		},
	)
)

// Forward outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeExhausted = "exhausted"
)

// RecordForward increments the forwarded-call counter.
func RecordForward(method, outcome string) {
	forwardedCalls.WithLabelValues(method, outcome).Inc()
}

// RecordRetry counts one retry beyond the first attempt.
func RecordRetry() {
	retryAttempts.Inc()
}

// RecordCacheRead increments the cache read counter.
// result should be "hit" or "miss".
func RecordCacheRead(result string) {
	cacheReads.WithLabelValues(result).Inc()
}

// RecordActiveChange counts an active endpoint change.
func RecordActiveChange() {
	activeChanges.Inc()
}
