package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records the outcome of position-manager operations:
// deposits, mints, burns, redemptions and liquidations.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// RPCMetrics records JSON-RPC handler activity.
type RPCMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// OracleMetrics tracks price feed freshness and staleness rejections.
type OracleMetrics struct {
	feedAge      *prometheus.GaugeVec
	staleRejects *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Total engine operation failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.errors,
			engineRegistry.latency,
		)
	})
	return engineRegistry
}

// Observe records one engine operation. The reason label is derived from
// the error when the operation failed.
func (m *EngineMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := labelOrUnknown(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, errorReason(err)).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RPC returns the lazily-initialised JSON-RPC metrics registry.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdp",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to rate limiting.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC request. The status code
// should be the HTTP status that was ultimately written to the response.
func (m *RPCMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = labelOrUnknown(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be
// stable strings such as "rate_limit" so dashboards remain consistent.
func (m *RPCMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOrUnknown(reason)).Inc()
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			feedAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "oracle",
				Name:      "feed_age_seconds",
				Help:      "Age of the latest quote per collateral asset.",
			}, []string{"asset"}),
			staleRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "oracle",
				Name:      "stale_rejects_total",
				Help:      "Count of operations rejected because a quote exceeded the staleness window.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(oracleRegistry.feedAge, oracleRegistry.staleRejects)
	})
	return oracleRegistry
}

// RecordFeedAge updates the age gauge for an asset's quote.
func (m *OracleMetrics) RecordFeedAge(asset string, age time.Duration) {
	if m == nil {
		return
	}
	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.feedAge.WithLabelValues(labelAsset(asset)).Set(seconds)
}

// RecordStaleReject counts a staleness rejection for an asset.
func (m *OracleMetrics) RecordStaleReject(asset string) {
	if m == nil {
		return
	}
	m.staleRejects.WithLabelValues(labelAsset(asset)).Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func errorReason(err error) string {
	reason := strings.TrimSpace(err.Error())
	if reason == "" {
		return "unknown"
	}
	// Keep the label cardinality bounded: only the first line, clipped.
	if idx := strings.IndexByte(reason, '\n'); idx >= 0 {
		reason = reason[:idx]
	}
	if len(reason) > 64 {
		reason = reason[:64]
	}
	return reason
}
