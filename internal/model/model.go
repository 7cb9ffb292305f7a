// Package model holds the data shapes shared across the runbook engine:
// runbooks, steps, alerts, execution contexts and results.
package model

import "time"

// Mode is the automation level a runbook (or one of its steps) runs
// under: how much autonomy the engine has to act without a human.
// This is orthogonal to RunMode, which says whether actions are
// actually performed at all.
type Mode string

const (
	ModePlanOnly Mode = "L0" // write actions are recorded as planned, never executed; reads still run
	ModeAutoLow  Mode = "L1" // auto-execute read and low-impact write actions
	ModeApproved Mode = "L2" // write actions require human approval of a simulated preview first
)

// RunMode is the execution mode a trigger requests: whether a run's
// actions actually touch the outside world.
type RunMode string

const (
	RunModeProduction RunMode = "production" // executes for real
	RunModeSimulation RunMode = "simulation" // returns a predicted SimulationReport, nothing is executed or queued
	RunModeDryRun     RunMode = "dry-run"    // validates and plans only; no step, read or write, executes
)

// ExecutionState is the runbook state machine's state.
type ExecutionState string

const (
	StateIdle             ExecutionState = "idle"
	StateValidating       ExecutionState = "validating"
	StatePlanning         ExecutionState = "planning"
	StateExecuting        ExecutionState = "executing"
	StateAwaitingApproval ExecutionState = "awaiting_approval"
	StateCompleted        ExecutionState = "completed"
	StateFailed           ExecutionState = "failed"
	StateCancelled        ExecutionState = "cancelled"
)

// Terminal reports whether a state has no further transitions.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// OnErrorPolicy controls scheduler behavior when a step fails.
type OnErrorPolicy string

const (
	OnErrorHalt     OnErrorPolicy = "halt"
	OnErrorContinue OnErrorPolicy = "continue"
	OnErrorSkip     OnErrorPolicy = "skip"
)

// BackoffStrategy selects the retry delay curve.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy describes how a failed, retryable step is retried.
type RetryPolicy struct {
	MaxAttempts int             `json:"max_attempts"`
	BackoffMS   int             `json:"backoff_ms"`
	Strategy    BackoffStrategy `json:"strategy"`
}

// RollbackSpec declares how to reverse a step's effects.
type RollbackSpec struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// Step is a single node in a runbook's DAG.
type Step struct {
	ID               string         `json:"id"`
	Name             string         `json:"name,omitempty"`
	Action           string         `json:"action"`
	Adapter          string         `json:"adapter"`
	Parameters       map[string]any `json:"parameters"`
	DependsOn        []string       `json:"depends_on,omitempty"`
	Condition        string         `json:"condition,omitempty"`
	TimeoutMS        int            `json:"timeout_ms,omitempty"`
	OnError          OnErrorPolicy  `json:"on_error,omitempty"`
	Retry            *RetryPolicy   `json:"retry,omitempty"`
	Rollback         *RollbackSpec  `json:"rollback,omitempty"`
	// ApprovalRequired forces this step through the L2 approval gate
	// even under an L1 (auto-execute) automation level.
	ApprovalRequired bool `json:"approval_required,omitempty"`
}

// DisplayName returns Name if the step was authored with one, else ID.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// RunbookConfig holds the run-wide settings an authored runbook carries
// alongside its step list.
type RunbookConfig struct {
	AutomationLevel    Mode `json:"automation_level,omitempty"`
	MaxExecutionTimeMS int  `json:"max_execution_time_ms,omitempty"`
	RequiresApproval   bool `json:"requires_approval,omitempty"`
	ApprovalTimeoutMS  int  `json:"approval_timeout_ms,omitempty"`
	ParallelExecution  bool `json:"parallel_execution,omitempty"`
	RollbackOnFailure  bool `json:"rollback_on_failure,omitempty"`
}

// Runbook is a versioned, named collection of steps forming a DAG.
type Runbook struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Description string        `json:"description,omitempty"`
	Config      RunbookConfig `json:"config,omitempty"`
	Steps       []Step        `json:"steps"`
	CreatedAt   time.Time     `json:"created_at"`
}

// StepByID returns the step with the given ID, if present.
func (r *Runbook) StepByID(id string) (*Step, bool) {
	for i := range r.Steps {
		if r.Steps[i].ID == id {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Alert is the triggering SOC alert bound into the `alert.*` template namespace.
type Alert struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Severity   string         `json:"severity"`
	Title      string         `json:"title"`
	Indicators map[string]any `json:"indicators,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// StepResult is the outcome of executing a single step.
type StepResult struct {
	StepID        string         `json:"step_id"`
	Status        ExecutionState `json:"status"`
	Output        map[string]any `json:"output,omitempty"`
	Error         *ExecError     `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	DurationMS    int64          `json:"duration_ms"`
	Attempts      int            `json:"attempts"`
	HasRollback   bool           `json:"has_rollback"`
	RolledBack    bool           `json:"rolled_back"`
	ShouldContinue bool          `json:"should_continue"`
}

// ExecError is a classified, sanitized execution error.
type ExecError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *ExecError) Error() string { return e.Code + ": " + e.Message }

// ExecutionResult is the terminal outcome of a full runbook run.
type ExecutionResult struct {
	ExecutionID    string                 `json:"execution_id"`
	RunbookID      string                 `json:"runbook_id"`
	RunbookVersion string                 `json:"runbook_version"`
	Mode           RunMode                `json:"mode"`
	State          ExecutionState         `json:"state"`
	StepResults    map[string]*StepResult `json:"step_results"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    time.Time              `json:"completed_at"`
	Error          *ExecError             `json:"error,omitempty"`
}

// ApprovalStatus is the state of an L2 approval queue entry.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalQueueEntry is a single pending L2 write step, carrying the
// frozen, already-resolved parameters that will be replayed verbatim
// on approval, plus enough of the surrounding execution to resume the
// rest of the runbook's DAG once this one step has run.
type ApprovalQueueEntry struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"execution_id"`
	RunbookID      string         `json:"runbook_id"`
	RunbookName    string         `json:"runbook_name"`
	StepID         string         `json:"step_id"`
	StepName       string         `json:"step_name"`
	Action         string         `json:"action"`
	RiskLevel      string         `json:"risk_level"`
	Status         ApprovalStatus `json:"status"`
	SimulationJSON []byte         `json:"simulation_json"`
	Parameters     map[string]any `json:"parameters"`
	// Alert is the triggering alert of the paused execution, carried
	// here so a later approval can resume the run without a live
	// execution context to read it from.
	Alert Alert `json:"alert"`
	// PriorResults holds every step result already completed earlier in
	// this execution, so queueexec's Replay can resume the DAG after
	// this step runs instead of replaying the whole runbook.
	PriorResults map[string]*StepResult `json:"prior_results,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	ExpiresAt    time.Time               `json:"expires_at"`
	DecidedBy    string                  `json:"decided_by,omitempty"`
	DecidedAt    *time.Time              `json:"decided_at,omitempty"`
}

// ImpactAssessment is the predicted blast radius of a single simulated step.
type ImpactAssessment struct {
	AffectedEntities []string `json:"affected_entities,omitempty"`
	Reversible       bool     `json:"reversible"`
	RiskScore        float64  `json:"risk_score"`
}

// SimulatedStep is the L2 dry-run prediction for one step.
type SimulatedStep struct {
	StepID              string           `json:"step_id"`
	PredictedResult     map[string]any   `json:"predicted_result,omitempty"`
	Confidence          float64          `json:"confidence"`
	ValidationsAttempted int             `json:"validations_attempted"`
	ValidationsPassed  int                `json:"validations_passed"`
	SideEffects        []string           `json:"side_effects,omitempty"`
	Impact             ImpactAssessment   `json:"impact"`
}

// PredictedOutcome summarizes a simulation's overall expectation.
type PredictedOutcome string

const (
	OutcomeSuccess PredictedOutcome = "SUCCESS"
	OutcomePartial PredictedOutcome = "PARTIAL"
	OutcomeFailure PredictedOutcome = "FAILURE"
)

// RollbackPlan describes whether, and how, a simulated run could be undone.
type RollbackPlan struct {
	Available bool     `json:"available"`
	Steps     []string `json:"steps,omitempty"`
}

// SimulationReport is the full L2 dry-run output for a runbook.
type SimulationReport struct {
	ExecutionID      string           `json:"execution_id"`
	Steps            []SimulatedStep  `json:"steps"`
	OverallRiskScore float64          `json:"overall_risk_score"`
	// OverallConfidence is the arithmetic mean of the steps' Confidence.
	OverallConfidence float64         `json:"overall_confidence"`
	PredictedOutcome PredictedOutcome `json:"predicted_outcome"`
	Rollback         RollbackPlan     `json:"rollback_plan"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// AuditEntry is one hash-chained, append-only audit log record.
type AuditEntry struct {
	Sequence    int64          `json:"sequence"`
	ExecutionID string         `json:"execution_id"`
	EventType   string         `json:"event_type"`
	Details     map[string]any `json:"details"`
	Timestamp   time.Time      `json:"timestamp"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash"`
}

// AdapterRegistration is the record kept for each adapter bound into the registry.
type AdapterRegistration struct {
	Name              string    `json:"name"`
	Version           string    `json:"version"`
	SupportedActions  []string  `json:"supported_actions"`
	RegisteredAt      time.Time `json:"registered_at"`
}
