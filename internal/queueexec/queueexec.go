// Package queueexec replays an approved L2 step: it takes the frozen,
// already-resolved parameters captured at simulation time, executes
// exactly the one approved step live (never re-evaluating templates
// against possibly-changed alert/context state), then hands the run
// back to the scheduler to resume the rest of the DAG. This is the
// one-click approve-and-execute path the approval queue hands off to.
package queueexec

import (
	"context"
	"fmt"

	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/audit"
	"github.com/socrunbook/engine/internal/executor"
	"github.com/socrunbook/engine/internal/model"
	"github.com/socrunbook/engine/internal/scheduler"
	"github.com/socrunbook/engine/internal/template"
)

// RunbookLookup resolves a runbook by ID so the queue executor can
// recover step definitions (actions, rollback specs, on_error policy)
// for the frozen execution.
type RunbookLookup interface {
	GetRunbook(ctx context.Context, runbookID string) (*model.Runbook, error)
}

// Executor replays approved executions.
type Executor struct {
	Exec      *executor.Executor
	Audit     *audit.Logger
	Store     scheduler.Persistence
	Runbooks  RunbookLookup
	Scheduler *scheduler.Scheduler
}

// New builds a queue Executor.
func New(exec *executor.Executor, auditLogger *audit.Logger, store scheduler.Persistence, runbooks RunbookLookup, sched *scheduler.Scheduler) *Executor {
	return &Executor{Exec: exec, Audit: auditLogger, Store: store, Runbooks: runbooks, Scheduler: sched}
}

// Replay executes the single approved step of entry using its frozen
// parameters in place of fresh template resolution, then resumes the
// scheduler so any remaining steps of the DAG still run. If the resumed
// run stops at another gated step, the returned result's State is
// awaiting_approval.
func (e *Executor) Replay(ctx context.Context, entry model.ApprovalQueueEntry) (model.ExecutionResult, error) {
	rb, err := e.Runbooks.GetRunbook(ctx, entry.RunbookID)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("lookup runbook %s: %w", entry.RunbookID, err)
	}
	step, ok := rb.StepByID(entry.StepID)
	if !ok {
		return model.ExecutionResult{}, fmt.Errorf("runbook %s has no step %s", entry.RunbookID, entry.StepID)
	}

	e.logAudit(ctx, entry.ExecutionID, "approval_replay_started", map[string]any{"approval_id": entry.ID, "step_id": entry.StepID})

	frozenStep := *step
	frozenStep.Parameters = asTemplateLiterals(entry.Parameters)

	res := e.Exec.Run(ctx, frozenStep, template.Namespaces{}, adapter.ModeLive)
	if e.Store != nil {
		_ = e.Store.PutStepResult(ctx, entry.ExecutionID, res)
	}
	e.logAudit(ctx, entry.ExecutionID, "approval_replay_step", map[string]any{"step_id": entry.StepID, "status": string(res.Status)})

	outcome, err := e.Scheduler.Resume(ctx, entry, rb, entry.Alert, res)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("resume execution %s: %w", entry.ExecutionID, err)
	}
	if outcome.Result == nil {
		e.logAudit(ctx, entry.ExecutionID, "approval_replay_finished", map[string]any{"state": string(model.StateAwaitingApproval)})
		return model.ExecutionResult{
			ExecutionID:    entry.ExecutionID,
			RunbookID:      entry.RunbookID,
			RunbookVersion: rb.Version,
			Mode:           model.RunModeProduction,
			State:          model.StateAwaitingApproval,
		}, nil
	}
	e.logAudit(ctx, entry.ExecutionID, "approval_replay_finished", map[string]any{"state": string(outcome.Result.State)})
	return *outcome.Result, nil
}

// asTemplateLiterals copies the frozen, already-resolved values into a
// fresh map. The step executor still runs frozen steps through its
// normal parameter-resolution pass; a value with no {{ }} expression in
// it passes through that pass unchanged.
func asTemplateLiterals(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func (e *Executor) logAudit(ctx context.Context, executionID, eventType string, details map[string]any) {
	if e.Audit == nil {
		return
	}
	_, _ = e.Audit.Append(ctx, executionID, eventType, details)
}
