// Package execctx holds per-run execution state: the single mutable
// object the scheduler threads through a runbook run. Guarded by an
// internal mutex since, when a runbook sets config.parallel_execution,
// the independent steps of one layer run concurrently against the same
// Context within one execution.
package execctx

import (
	"fmt"
	"sync"
	"time"

	"github.com/socrunbook/engine/internal/model"
)

var validStates = map[model.ExecutionState]bool{
	model.StateIdle:             true,
	model.StateValidating:       true,
	model.StatePlanning:         true,
	model.StateExecuting:        true,
	model.StateAwaitingApproval: true,
	model.StateCompleted:        true,
	model.StateFailed:           true,
	model.StateCancelled:        true,
}

var validRunModes = map[model.RunMode]bool{
	model.RunModeProduction: true,
	model.RunModeSimulation: true,
	model.RunModeDryRun:     true,
}

// Context is the live, mutable state of one runbook execution.
type Context struct {
	mu sync.RWMutex

	ExecutionID    string
	RunbookID      string
	RunbookVersion string
	Mode           model.RunMode
	Alert          model.Alert
	StartedAt      time.Time

	currentStep    string
	completedSteps map[string]bool
	stepOutputs    map[string]map[string]any
	variables      map[string]any
	state          model.ExecutionState
	err            *model.ExecError
}

// New builds a fresh Context for a runbook run.
func New(executionID, runbookID, runbookVersion string, mode model.RunMode, alert model.Alert) *Context {
	return &Context{
		ExecutionID:    executionID,
		RunbookID:      runbookID,
		RunbookVersion: runbookVersion,
		Mode:           mode,
		Alert:          alert,
		StartedAt:      time.Now(),
		completedSteps: make(map[string]bool),
		stepOutputs:    make(map[string]map[string]any),
		variables:      make(map[string]any),
		state:          model.StateIdle,
	}
}

// SetCurrentStep records which step the scheduler is about to run.
func (c *Context) SetCurrentStep(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentStep = stepID
}

// CurrentStep returns the step currently (or most recently) executing.
func (c *Context) CurrentStep() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentStep
}

// MarkStepCompleted records a step as completed. Idempotent: marking an
// already-completed step again is a no-op. Clears current_step if it
// was pointing at the step being completed.
func (c *Context) MarkStepCompleted(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedSteps[stepID] = true
	if c.currentStep == stepID {
		c.currentStep = ""
	}
}

// StepCompleted reports whether stepID has already completed.
func (c *Context) StepCompleted(stepID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completedSteps[stepID]
}

// CompletedSteps returns a snapshot slice of completed step IDs.
func (c *Context) CompletedSteps() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.completedSteps))
	for id := range c.completedSteps {
		out = append(out, id)
	}
	return out
}

// SetStepOutput records a step's output under steps.{stepID}.output in
// the variable namespace.
func (c *Context) SetStepOutput(stepID string, output map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepOutputs[stepID] = output
}

// StepsNamespace returns the steps.* namespace as consumed by the
// template resolver: stepID -> {"output": {...}}.
func (c *Context) StepsNamespace() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]any, len(c.stepOutputs))
	for id, output := range c.stepOutputs {
		out[id] = map[string]any{"output": output}
	}
	return out
}

// SetVariable sets a value in the free-form context.* namespace.
func (c *Context) SetVariable(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

// GetVariable reads a value from the context.* namespace.
func (c *Context) GetVariable(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// ContextNamespace returns a copy of the context.* namespace.
func (c *Context) ContextNamespace() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// SetState transitions the run's state-machine state.
func (c *Context) SetState(s model.ExecutionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// State returns the current state.
func (c *Context) State() model.ExecutionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetError records the terminal error for a failed run.
func (c *Context) SetError(err *model.ExecError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Error returns the terminal error, if any.
func (c *Context) Error() *model.ExecError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Snapshot is a deep, restorable copy of a Context's mutable state.
type Snapshot struct {
	CurrentStep    string
	CompletedSteps map[string]bool
	StepOutputs    map[string]map[string]any
	Variables      map[string]any
	State          model.ExecutionState
	Mode           model.RunMode
	Err            *model.ExecError
}

// Snapshot captures the current mutable state for later restore.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	completed := make(map[string]bool, len(c.completedSteps))
	for k, v := range c.completedSteps {
		completed[k] = v
	}
	outputs := make(map[string]map[string]any, len(c.stepOutputs))
	for k, v := range c.stepOutputs {
		cp := make(map[string]any, len(v))
		for kk, vv := range v {
			cp[kk] = vv
		}
		outputs[k] = cp
	}
	vars := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}

	return Snapshot{
		CurrentStep:    c.currentStep,
		CompletedSteps: completed,
		StepOutputs:    outputs,
		Variables:      vars,
		State:          c.state,
		Mode:           c.Mode,
		Err:            c.err,
	}
}

// Restore replaces the Context's mutable state with a previously
// captured Snapshot. A Snapshot → Restore round trip reproduces an
// identical Context, including any values derived from the variable
// store. Unknown states or modes are rejected rather than silently
// restored.
func (c *Context) Restore(s Snapshot) error {
	if !validStates[s.State] {
		return fmt.Errorf("restore: unknown execution state %q", s.State)
	}
	if s.Mode != "" && !validRunModes[s.Mode] {
		return fmt.Errorf("restore: unknown run mode %q", s.Mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Mode != "" {
		c.Mode = s.Mode
	}
	c.currentStep = s.CurrentStep
	c.completedSteps = make(map[string]bool, len(s.CompletedSteps))
	for k, v := range s.CompletedSteps {
		c.completedSteps[k] = v
	}
	c.stepOutputs = make(map[string]map[string]any, len(s.StepOutputs))
	for k, v := range s.StepOutputs {
		cp := make(map[string]any, len(v))
		for kk, vv := range v {
			cp[kk] = vv
		}
		c.stepOutputs[k] = cp
	}
	c.variables = make(map[string]any, len(s.Variables))
	for k, v := range s.Variables {
		c.variables[k] = v
	}
	c.state = s.State
	c.err = s.Err
	return nil
}
