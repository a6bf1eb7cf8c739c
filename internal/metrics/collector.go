package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector aggregates the prometheus instruments used across the
// league: inbound RPC handling, outbound resilient calls, circuit
// breaker transitions, and match/round outcomes.
type Collector struct {
	// Inbound RPC metrics
	rpcRequestsTotal   *prometheus.CounterVec
	rpcRequestDuration *prometheus.HistogramVec

	// Outbound call metrics
	outboundCallsTotal   *prometheus.CounterVec
	outboundCallDuration *prometheus.HistogramVec
	outboundRetriesTotal *prometheus.CounterVec

	// Circuit breaker metrics
	breakerTransitionsTotal *prometheus.CounterVec

	// Tournament metrics
	matchesTotal  *prometheus.CounterVec
	matchDuration prometheus.Histogram
	roundsTotal   prometheus.Counter

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector creates a collector registered on its own registry so
// independent agents in one process do not collide.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.rpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of inbound JSON-RPC requests",
		},
		[]string{"method", "status"},
	)

	c.rpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Inbound JSON-RPC handling duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	c.outboundCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_calls_total",
			Help:      "Total number of outbound resilient calls",
		},
		[]string{"destination", "method", "outcome"},
	)

	c.outboundCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbound_call_duration_seconds",
			Help:      "Outbound call duration in seconds, including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"destination", "method"},
	)

	c.outboundRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_retries_total",
			Help:      "Total number of outbound call retry attempts",
		},
		[]string{"destination"},
	)

	c.breakerTransitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"destination", "state"},
	)

	c.matchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Total number of settled matches by terminal phase",
		},
		[]string{"phase"},
	)

	c.matchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Match duration from invitation to settlement",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	c.roundsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of completed rounds",
		},
	)

	return c
}

// RecordRequest records an inbound RPC request.
func (c *Collector) RecordRequest(method, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.rpcRequestsTotal.WithLabelValues(method, status).Inc()
	c.rpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordOutboundCall records a completed outbound call.
func (c *Collector) RecordOutboundCall(destination, method, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.outboundCallsTotal.WithLabelValues(destination, method, outcome).Inc()
	c.outboundCallDuration.WithLabelValues(destination, method).Observe(duration.Seconds())
}

// RecordRetry records a single retry attempt against a destination.
func (c *Collector) RecordRetry(destination string) {
	if c == nil {
		return
	}
	c.outboundRetriesTotal.WithLabelValues(destination).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func (c *Collector) RecordBreakerTransition(destination, state string) {
	if c == nil {
		return
	}
	c.breakerTransitionsTotal.WithLabelValues(destination, state).Inc()
}

// RecordMatch records a match reaching a terminal phase.
func (c *Collector) RecordMatch(phase string, duration time.Duration) {
	if c == nil {
		return
	}
	c.matchesTotal.WithLabelValues(phase).Inc()
	c.matchDuration.Observe(duration.Seconds())
}

// RecordRound records a completed round.
func (c *Collector) RecordRound() {
	if c == nil {
		return
	}
	c.roundsTotal.Inc()
}

// Handler exposes the collector's registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
