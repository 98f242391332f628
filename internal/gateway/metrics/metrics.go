package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeQuota     = "quota_exceeded"
	OutcomeCancelled = "cancelled"
)

// Metrics groups the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	dispatches     *prometheus.CounterVec
	dispatchTime   *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	connectionTest *prometheus.CounterVec
	securityEvents *prometheus.CounterVec
	rateLimited    prometheus.Counter
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_gateway_dispatches_total",
				Help: "Total number of provider dispatches by outcome",
			},
			[]string{"provider", "outcome"},
		),
		dispatchTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_gateway_dispatch_duration_seconds",
				Help:    "Provider dispatch latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_gateway_tokens_total",
				Help: "Tokens consumed by provider and count source (exact or estimated)",
			},
			[]string{"provider", "source"},
		),
		connectionTest: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_gateway_connection_tests_total",
				Help: "Explicit connection tests by provider and result",
			},
			[]string{"provider", "result"},
		),
		securityEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_gateway_security_events_total",
				Help: "Security events logged by type and severity",
			},
			[]string{"event_type", "severity"},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "provider_gateway_rate_limited_total",
				Help: "Requests rejected by the per-user rate limiter",
			},
		),
	}
}

// RecordDispatch records one adapter call
func (m *Metrics) RecordDispatch(provider, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(provider, outcome).Inc()
	m.dispatchTime.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordTokens adds consumed tokens
func (m *Metrics) RecordTokens(provider, source string, total uint64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(provider, source).Add(float64(total))
}

// RecordConnectionTest records a test outcome
func (m *Metrics) RecordConnectionTest(provider string, success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "succeeded"
	}
	m.connectionTest.WithLabelValues(provider, result).Inc()
}

// RecordSecurityEvent counts a logged security event
func (m *Metrics) RecordSecurityEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(eventType, severity).Inc()
}

// RecordRateLimited counts a rejected request
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
