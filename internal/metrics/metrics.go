package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the runbook engine.
type Metrics struct {
	// Execution metrics
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ActiveExecutions   prometheus.Gauge

	// Step metrics
	StepsExecutedTotal  *prometheus.CounterVec
	StepDuration        *prometheus.HistogramVec
	StepRetriesTotal    *prometheus.CounterVec

	// Approval metrics
	ApprovalsSubmittedTotal *prometheus.CounterVec
	ApprovalDecisionsTotal  *prometheus.CounterVec
	ApprovalWaitDuration    *prometheus.HistogramVec
	PendingApprovals        prometheus.Gauge

	// Adapter metrics
	AdapterHealthStatus *prometheus.GaugeVec
	AdapterCallsTotal   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all runbook engine metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbook_executions_total",
				Help: "Total number of runbook executions by terminal state",
			},
			[]string{"runbook_id", "state"},
		),

		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runbook_execution_duration_seconds",
				Help:    "Duration of runbook executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 600},
			},
			[]string{"runbook_id"},
		),

		ActiveExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "runbook_active_executions",
				Help: "Number of currently in-flight runbook executions",
			},
		),

		StepsExecutedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbook_steps_executed_total",
				Help: "Total number of steps executed, by action and status",
			},
			[]string{"action", "status"},
		),

		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runbook_step_duration_seconds",
				Help:    "Duration of individual step execution in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),

		StepRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbook_step_retries_total",
				Help: "Total number of step retry attempts",
			},
			[]string{"action"},
		),

		ApprovalsSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbook_approvals_submitted_total",
				Help: "Total number of L2 approvals submitted, by risk level",
			},
			[]string{"risk_level"},
		),

		ApprovalDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbook_approval_decisions_total",
				Help: "Total number of approval decisions, by outcome",
			},
			[]string{"outcome"},
		),

		ApprovalWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runbook_approval_wait_duration_seconds",
				Help:    "Time an approval spent pending before decision or expiry",
				Buckets: []float64{1, 10, 60, 300, 1800, 3600, 14400, 86400},
			},
			[]string{"risk_level"},
		),

		PendingApprovals: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "runbook_pending_approvals",
				Help: "Number of approvals currently pending decision",
			},
		),

		AdapterHealthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "runbook_adapter_health_status",
				Help: "Health status of registered adapters (1=healthy, 0=unhealthy)",
			},
			[]string{"adapter"},
		),

		AdapterCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbook_adapter_calls_total",
				Help: "Total number of adapter Execute calls, by adapter and outcome",
			},
			[]string{"adapter", "action", "status"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "endpoint"},
		),
	}

	return m
}

// RecordExecution records a terminal runbook execution.
func (m *Metrics) RecordExecution(runbookID, state string, duration float64) {
	m.ExecutionsTotal.WithLabelValues(runbookID, state).Inc()
	m.ExecutionDuration.WithLabelValues(runbookID).Observe(duration)
}

// RecordStep records a single step's execution.
func (m *Metrics) RecordStep(action, status string, duration float64) {
	m.StepsExecutedTotal.WithLabelValues(action, status).Inc()
	m.StepDuration.WithLabelValues(action).Observe(duration)
}

// RecordStepRetry records one retry attempt for a step.
func (m *Metrics) RecordStepRetry(action string) {
	m.StepRetriesTotal.WithLabelValues(action).Inc()
}

// RecordApprovalSubmitted records a new pending approval.
func (m *Metrics) RecordApprovalSubmitted(riskLevel string) {
	m.ApprovalsSubmittedTotal.WithLabelValues(riskLevel).Inc()
}

// RecordApprovalDecision records an approval reaching a terminal outcome.
func (m *Metrics) RecordApprovalDecision(outcome, riskLevel string, waitSeconds float64) {
	m.ApprovalDecisionsTotal.WithLabelValues(outcome).Inc()
	m.ApprovalWaitDuration.WithLabelValues(riskLevel).Observe(waitSeconds)
}

// UpdatePendingApprovals sets the current pending-approval gauge.
func (m *Metrics) UpdatePendingApprovals(count float64) {
	m.PendingApprovals.Set(count)
}

// UpdateAdapterHealth updates the health gauge for a single adapter.
func (m *Metrics) UpdateAdapterHealth(adapter string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.AdapterHealthStatus.WithLabelValues(adapter).Set(value)
}

// RecordAdapterCall records one adapter Execute invocation.
func (m *Metrics) RecordAdapterCall(adapter, action, status string) {
	m.AdapterCallsTotal.WithLabelValues(adapter, action, status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}
