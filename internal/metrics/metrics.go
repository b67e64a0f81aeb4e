// Package metrics holds the process-wide Prometheus instrumentation for the
// Upstream Adapter, Flow Graph Engine, Risk Scoring Engine, and Tenant Gate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric tokenflow exports.
type Metrics struct {
	UpstreamCallTotal    *prometheus.CounterVec
	UpstreamCallDuration *prometheus.HistogramVec
	CircuitBreakerState  *prometheus.GaugeVec

	FlowPathsBuilt     *prometheus.CounterVec
	FlowTraversalDepth *prometheus.HistogramVec

	RiskAssessmentsTotal *prometheus.CounterVec
	RiskScore            prometheus.Histogram

	TenantRequestsTotal *prometheus.CounterVec
	QuotaRejected       *prometheus.CounterVec
	RateLimitRejected   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		UpstreamCallTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenflow_upstream_calls_total",
				Help: "Total calls made to the upstream enhanced-transactions provider",
			},
			[]string{"operation", "result"}, // result: ok, not_found, rate_limited, unavailable, bad_response
		),
		UpstreamCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokenflow_upstream_call_duration_seconds",
				Help:    "Duration of upstream adapter calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tokenflow_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),

		FlowPathsBuilt: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenflow_flow_paths_built_total",
				Help: "Total FlowPath records produced by the Flow Graph Engine",
			},
			[]string{"direction"},
		),
		FlowTraversalDepth: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokenflow_flow_traversal_hops",
				Help:    "Hop count of produced FlowPath records",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
			[]string{"direction"},
		),

		RiskAssessmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenflow_risk_assessments_total",
				Help: "Total risk assessments computed, by resulting risk level",
			},
			[]string{"risk_level"},
		),
		RiskScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tokenflow_risk_score",
				Help:    "Distribution of computed composite risk scores",
				Buckets: []float64{10, 25, 40, 50, 60, 75, 90, 100},
			},
		),

		TenantRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenflow_tenant_requests_total",
				Help: "Total authenticated requests, by plan and outcome",
			},
			[]string{"plan", "outcome"}, // outcome: allowed, quota_exceeded, rate_limited, subscription_inactive
		),
		QuotaRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenflow_quota_rejected_total",
				Help: "Requests rejected for exceeding the monthly quota",
			},
			[]string{"plan"},
		),
		RateLimitRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenflow_rate_limit_rejected_total",
				Help: "Requests rejected by the per-minute rate limiter",
			},
			[]string{"plan"},
		),
	}
}

// RecordUpstreamCall records the outcome and duration of one upstream call.
func (m *Metrics) RecordUpstreamCall(operation, result string, seconds float64) {
	m.UpstreamCallTotal.WithLabelValues(operation, result).Inc()
	m.UpstreamCallDuration.WithLabelValues(operation).Observe(seconds)
}

// SetBreakerState mirrors a circuit breaker's current state onto its gauge.
func (m *Metrics) SetBreakerState(breaker string, state int) {
	m.CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordFlowPath records one produced FlowPath.
func (m *Metrics) RecordFlowPath(direction string, hopCount int) {
	m.FlowPathsBuilt.WithLabelValues(direction).Inc()
	m.FlowTraversalDepth.WithLabelValues(direction).Observe(float64(hopCount))
}

// RecordRiskAssessment records one computed RiskAssessment.
func (m *Metrics) RecordRiskAssessment(riskLevel string, score int) {
	m.RiskAssessmentsTotal.WithLabelValues(riskLevel).Inc()
	m.RiskScore.Observe(float64(score))
}

// RecordTenantRequest records one Tenant Gate decision.
func (m *Metrics) RecordTenantRequest(plan, outcome string) {
	m.TenantRequestsTotal.WithLabelValues(plan, outcome).Inc()
	switch outcome {
	case "quota_exceeded":
		m.QuotaRejected.WithLabelValues(plan).Inc()
	case "rate_limited":
		m.RateLimitRejected.WithLabelValues(plan).Inc()
	}
}
