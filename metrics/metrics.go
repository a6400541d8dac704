// Package metrics provides Prometheus instrumentation for settlement execution
// and the HTTP API. Collectors register with the default registry.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all x402 metrics
	Namespace = "x402"

	// Label names
	LabelOutcome    = "outcome"
	LabelReasonCode = "reason_code"
	LabelPhase      = "phase"
	LabelStatus     = "status"
	LabelMethod     = "method"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	// Settlement outcomes
	OutcomeSettled  = "settled"
	OutcomeReplayed = "replayed"
	OutcomeFailed   = "failed"

	// Facilitator phases
	PhaseVerify   = "verify"
	PhaseSettle   = "settle"
	PhaseFinality = "finality"

	// Call status values
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

var (
	// SettlementsTotal counts settlement executions by outcome
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "settlement",
			Name:      "executions_total",
			Help:      "Total number of settlement executions by outcome",
		},
		[]string{LabelOutcome},
	)

	// SettlementFailuresTotal counts terminal failures by runbook reason code.
	// Failures without a reason code (validation, contract) use "none".
	SettlementFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "settlement",
			Name:      "failures_total",
			Help:      "Total number of terminal settlement failures by reason code",
		},
		[]string{LabelReasonCode},
	)

	// SettlementDuration tracks end-to-end execution time in seconds
	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "settlement",
			Name:      "execution_duration_seconds",
			Help:      "Duration of settlement executions in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelOutcome},
	)

	// FacilitatorCallsTotal counts individual facilitator attempts
	FacilitatorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "facilitator",
			Name:      "calls_total",
			Help:      "Total number of facilitator call attempts by phase and status",
		},
		[]string{LabelPhase, LabelStatus},
	)

	// FacilitatorCallDuration tracks per-attempt latency in seconds
	FacilitatorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "facilitator",
			Name:      "call_duration_seconds",
			Help:      "Duration of facilitator call attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelPhase},
	)

	// FacilitatorRetriesTotal counts retries scheduled after a failed attempt
	FacilitatorRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "facilitator",
			Name:      "retries_total",
			Help:      "Total number of facilitator retries by phase",
		},
		[]string{LabelPhase},
	)

	// HTTPRequestsTotal counts API requests by method, route and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status code",
		},
		[]string{LabelMethod, LabelRoute, LabelStatusCode},
	)

	// HTTPRequestDuration tracks API latency in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelRoute},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordSettlement records a finished execution.
func RecordSettlement(outcome string, duration float64) {
	if !enabled.Load() {
		return
	}
	SettlementsTotal.WithLabelValues(outcome).Inc()
	SettlementDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordSettlementFailure records a terminal failure's reason code.
func RecordSettlementFailure(reasonCode string) {
	if !enabled.Load() {
		return
	}
	if reasonCode == "" {
		reasonCode = "none"
	}
	SettlementFailuresTotal.WithLabelValues(reasonCode).Inc()
}

// RecordFacilitatorCall records one facilitator attempt.
func RecordFacilitatorCall(phase, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	FacilitatorCallsTotal.WithLabelValues(phase, status).Inc()
	FacilitatorCallDuration.WithLabelValues(phase).Observe(duration)
}

// RecordFacilitatorRetry records a scheduled retry.
func RecordFacilitatorRetry(phase string) {
	if !enabled.Load() {
		return
	}
	FacilitatorRetriesTotal.WithLabelValues(phase).Inc()
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(method, route, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// Enable turns on metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable turns off metrics collection. Collectors stay registered.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
