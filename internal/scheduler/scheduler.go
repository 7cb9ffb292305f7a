// Package scheduler drives the runbook execution state machine:
// idle -> validating -> planning -> {executing, awaiting_approval} ->
// ... -> completed | failed | cancelled. It resolves the step DAG into
// dependency layers, runs each step through internal/executor, and
// persists progress incrementally so a crash mid-run loses at most the
// step in flight.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/approval"
	"github.com/socrunbook/engine/internal/audit"
	"github.com/socrunbook/engine/internal/classifier"
	"github.com/socrunbook/engine/internal/eventbus"
	"github.com/socrunbook/engine/internal/execctx"
	"github.com/socrunbook/engine/internal/executor"
	"github.com/socrunbook/engine/internal/model"
	"github.com/socrunbook/engine/internal/simulation"
	"github.com/socrunbook/engine/internal/template"
	"go.uber.org/zap"
)

// Persistence is the slice of the storage layer the scheduler needs.
type Persistence interface {
	PutExecution(ctx context.Context, result model.ExecutionResult) error
	PutStepResult(ctx context.Context, executionID string, r model.StepResult) error
}

// EventPublisher is the slice of eventbus.Bus the scheduler needs.
type EventPublisher interface {
	Publish(ctx context.Context, event eventbus.Event)
}

// Tracer opens trace spans around an execution and its steps. Returned
// end funcs must be called exactly once. A nil Tracer disables tracing.
type Tracer interface {
	StartExecution(ctx context.Context, executionID, runbookID string) (context.Context, func())
	StartStep(ctx context.Context, stepID, action string) (context.Context, func())
}

// Scheduler orchestrates runbook executions end to end.
type Scheduler struct {
	Executor   *executor.Executor
	Simulation *simulation.Engine
	Audit      *audit.Logger
	Approvals  *approval.Queue
	Store      Persistence
	Events     EventPublisher
	Tracer     Tracer
	Log        *zap.SugaredLogger
}

// New builds a Scheduler from its collaborators.
func New(exec *executor.Executor, sim *simulation.Engine, auditLogger *audit.Logger, approvals *approval.Queue, store Persistence, events EventPublisher, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{Executor: exec, Simulation: sim, Audit: auditLogger, Approvals: approvals, Store: store, Events: events, Log: log}
}

// WithTracer attaches a Tracer to an already-built Scheduler and returns it.
func (s *Scheduler) WithTracer(t Tracer) *Scheduler {
	s.Tracer = t
	return s
}

// Outcome is what Run returns: either a terminal/partial ExecutionResult
// (L0 plan, or L1/executing path), or a paused run awaiting L2 approval.
type Outcome struct {
	Result          *model.ExecutionResult
	Simulation      *model.SimulationReport
	ApprovalPending *model.ApprovalQueueEntry
}

// Run drives one runbook execution from idle through to its next
// suspension point (completion, failure, or an approval wait).
//
// runMode selects whether the run actually touches the outside world
// (production), only returns a predicted preview (simulation), or only
// validates and plans (dry-run). levelOverride, if non-nil, overrides
// the runbook's configured automation level (L0/L1/L2) for this one
// trigger, as spec's automation_level_override trigger field requests.
func (s *Scheduler) Run(ctx context.Context, executionID string, rb *model.Runbook, alert model.Alert, runMode model.RunMode, levelOverride *model.Mode) (Outcome, error) {
	if s.Tracer != nil {
		var end func()
		ctx, end = s.Tracer.StartExecution(ctx, executionID, rb.ID)
		defer end()
	}

	if rb.Config.MaxExecutionTimeMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(rb.Config.MaxExecutionTimeMS)*time.Millisecond)
		defer cancel()
	}

	if runMode == "" {
		runMode = model.RunModeProduction
	}

	ec := execctx.New(executionID, rb.ID, rb.Version, runMode, alert)
	ec.SetState(model.StateValidating)

	layered, err := layers(rb)
	if err != nil {
		ec.SetState(model.StateFailed)
		return Outcome{}, fmt.Errorf("plan runbook: %w", err)
	}
	ec.SetState(model.StatePlanning)
	s.logAudit(ctx, executionID, "execution_started", map[string]any{"runbook_id": rb.ID, "mode": string(runMode)})

	switch runMode {
	case model.RunModeDryRun:
		result := s.finish(ctx, ec, model.StateCompleted, nil)
		return Outcome{Result: &result}, nil
	case model.RunModeSimulation:
		return s.runSimulatePreview(ctx, ec, executionID, flatten(layered))
	}

	level := automationLevelFor(rb, levelOverride)
	return s.continueLive(ctx, ec, executionID, rb, layered, level, nil)
}

// automationLevelFor resolves the effective automation level for a
// run: the trigger's override, if set, else the runbook's configured
// level, defaulting to L1 (auto-execute reads and safe writes) when
// neither specifies one.
func automationLevelFor(rb *model.Runbook, levelOverride *model.Mode) model.Mode {
	level := rb.Config.AutomationLevel
	if levelOverride != nil && *levelOverride != "" {
		level = *levelOverride
	}
	if level == "" {
		level = model.ModeAutoLow
	}
	return level
}

// runSimulatePreview returns a SimulationReport for the whole runbook
// without executing or queuing anything: the trigger asked only to see
// a predicted outcome.
func (s *Scheduler) runSimulatePreview(ctx context.Context, ec *execctx.Context, executionID string, steps []model.Step) (Outcome, error) {
	ns := namespacesFor(ec)
	report := s.Simulation.Run(ctx, executionID, steps, ns)
	result := s.finish(ctx, ec, model.StateCompleted, nil)
	return Outcome{Result: &result, Simulation: &report}, nil
}

// gateDecision is what continueLive does with one step at automation
// level `level`.
type gateDecision int

const (
	gateExecute gateDecision = iota // run it now
	gatePlan                       // write step under L0: record intent, don't execute
	gateApprove                     // write step under L2 (or forced): pause for human approval
)

// decideGate applies spec's per-step automation-level gating: reads
// always execute; writes execute, plan, or wait for approval depending
// on level and the step/runbook's approval overrides.
func decideGate(step model.Step, rb *model.Runbook, level model.Mode) gateDecision {
	if !classifier.IsWrite(step.Action) {
		return gateExecute
	}
	if step.ApprovalRequired || rb.Config.RequiresApproval {
		return gateApprove
	}
	switch level {
	case model.ModePlanOnly:
		return gatePlan
	case model.ModeApproved:
		return gateApprove
	default:
		return gateExecute
	}
}

// continueLive drives the DAG from a given point (fresh, with seed
// nil, or resumed after an approval with seed holding every
// already-completed step's result) layer by layer, applying per-step
// gating. Encountering a gateApprove step stops the drive at that step:
// it is handed off to the approval queue together with every result
// recorded so far, and continueLive returns without running any later
// step.
func (s *Scheduler) continueLive(ctx context.Context, ec *execctx.Context, executionID string, rb *model.Runbook, layered [][]model.Step, level model.Mode, seed map[string]*model.StepResult) (Outcome, error) {
	ec.SetState(model.StateExecuting)
	results := make(map[string]*model.StepResult, len(seed))
	for id, res := range seed {
		results[id] = res
		ec.MarkStepCompleted(id)
		if res != nil {
			ec.SetStepOutput(id, res.Output)
		}
	}
	var resultsMu sync.Mutex

	for _, layer := range layered {
		ready := make([]model.Step, 0, len(layer))
		for _, step := range layer {
			if _, done := results[step.ID]; done {
				continue
			}
			resultsMu.Lock()
			ok := s.dependenciesOK(step, results)
			resultsMu.Unlock()
			if ok {
				ready = append(ready, step)
			}
		}
		if len(ready) == 0 {
			continue
		}

		anyApproval := false
		for _, step := range ready {
			if decideGate(step, rb, level) == gateApprove {
				anyApproval = true
				break
			}
		}

		// config.parallel_execution lets every independent step in this
		// layer run concurrently; otherwise the layer runs in authored
		// order, matching planning's stable-among-equal-rank guarantee.
		// A layer containing a gated step never runs in parallel: the
		// scheduler must stop exactly at that step, not race past it.
		if rb.Config.ParallelExecution && len(ready) > 1 && !anyApproval {
			var wg sync.WaitGroup
			for _, step := range ready {
				wg.Add(1)
				go func(step model.Step) {
					defer wg.Done()
					res := s.runGatedStep(ctx, ec, step, decideGate(step, rb, level))
					s.recordStepResult(ctx, ec, executionID, step, res, results, &resultsMu)
				}(step)
			}
			wg.Wait()

			if failed := s.firstUnrecoverableFailure(ready, results, &resultsMu); failed != nil {
				return s.failAndMaybeRollback(ctx, ec, rb, executionID, results, failed.Error), nil
			}
			continue
		}

		for _, step := range ready {
			gate := decideGate(step, rb, level)
			if gate == gateApprove {
				resultsMu.Lock()
				priorResults := make(map[string]*model.StepResult, len(results))
				for id, res := range results {
					priorResults[id] = res
				}
				resultsMu.Unlock()
				return s.pauseForApproval(ctx, ec, executionID, rb, step, priorResults)
			}

			res := s.runGatedStep(ctx, ec, step, gate)
			s.recordStepResult(ctx, ec, executionID, step, res, results, &resultsMu)

			if res.Status == model.StateFailed && !res.ShouldContinue {
				return s.failAndMaybeRollback(ctx, ec, rb, executionID, results, res.Error), nil
			}
		}
	}

	result := s.finish(ctx, ec, model.StateCompleted, nil)
	result.StepResults = results
	return Outcome{Result: &result}, nil
}

// runGatedStep executes step normally, or, under gatePlan, synthesizes
// a planned-not-executed result without ever calling an adapter.
func (s *Scheduler) runGatedStep(ctx context.Context, ec *execctx.Context, step model.Step, gate gateDecision) model.StepResult {
	if gate == gatePlan {
		s.logAudit(ctx, ec.ExecutionID, "step_planned", map[string]any{"step_id": step.ID, "action": step.Action})
		now := time.Now()
		return model.StepResult{
			StepID:         step.ID,
			Status:         model.StateCompleted,
			Output:         map[string]any{"planned": true, "action": step.Action},
			StartedAt:      now,
			CompletedAt:    now,
			ShouldContinue: true,
		}
	}
	return s.runOneStep(ctx, ec, step)
}

// pauseForApproval simulates the single gated step, freezes its
// resolved parameters, and enqueues it as an L2 approval entry. The
// scheduler does not block: it persists the run's state up to this
// point (via priorResults, carried on the entry) and returns, leaving
// execution of this one step to the queue executor's Replay.
func (s *Scheduler) pauseForApproval(ctx context.Context, ec *execctx.Context, executionID string, rb *model.Runbook, step model.Step, priorResults map[string]*model.StepResult) (Outcome, error) {
	ns := namespacesFor(ec)
	report := s.Simulation.Run(ctx, executionID, []model.Step{step}, ns)

	simJSON, err := json.Marshal(report)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal simulation report: %w", err)
	}
	params := template.ResolveParams(step.Parameters, ns)

	risk := riskLevelFor(report.OverallRiskScore)
	var ttlOverride []time.Duration
	if rb.Config.ApprovalTimeoutMS > 0 {
		ttlOverride = []time.Duration{time.Duration(rb.Config.ApprovalTimeoutMS) * time.Millisecond}
	}

	entry, err := s.Approvals.Submit(ctx, approval.SubmitRequest{
		ExecutionID:  executionID,
		RunbookID:    rb.ID,
		RunbookName:  rb.Name,
		StepID:       step.ID,
		StepName:     step.DisplayName(),
		Action:       step.Action,
		RiskLevel:    risk,
		Simulation:   simJSON,
		Parameters:   params,
		Alert:        ec.Alert,
		PriorResults: priorResults,
		TTLOverride:  ttlOverride,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("submit approval: %w", err)
	}

	ec.SetState(model.StateAwaitingApproval)
	s.logAudit(ctx, executionID, "awaiting_approval", map[string]any{"approval_id": entry.ID, "step_id": step.ID, "risk_level": risk})
	s.publish(ctx, "approval_requested", entry)

	return Outcome{Simulation: &report, ApprovalPending: &entry}, nil
}

// Resume continues a paused execution after its one gated step has
// been approved and executed live by the queue executor. It seeds the
// DAG with entry's prior results plus approvedResult, then drives the
// remaining layers exactly as a fresh run would.
func (s *Scheduler) Resume(ctx context.Context, entry model.ApprovalQueueEntry, rb *model.Runbook, alert model.Alert, approvedResult model.StepResult) (Outcome, error) {
	ec := execctx.New(entry.ExecutionID, rb.ID, rb.Version, model.RunModeProduction, alert)
	ec.SetState(model.StateValidating)

	layered, err := layers(rb)
	if err != nil {
		ec.SetState(model.StateFailed)
		return Outcome{}, fmt.Errorf("plan runbook: %w", err)
	}

	seed := make(map[string]*model.StepResult, len(entry.PriorResults)+1)
	for id, res := range entry.PriorResults {
		seed[id] = res
	}
	approved := approvedResult
	seed[entry.StepID] = &approved

	level := automationLevelFor(rb, nil)
	s.logAudit(ctx, entry.ExecutionID, "approval_resumed", map[string]any{"approval_id": entry.ID, "step_id": entry.StepID})
	return s.continueLive(ctx, ec, entry.ExecutionID, rb, layered, level, seed)
}

// failAndMaybeRollback finishes a run as failed and, if the runbook
// opts into rollback_on_failure, invokes every completed step's
// RollbackSpec in reverse completion order before returning.
func (s *Scheduler) failAndMaybeRollback(ctx context.Context, ec *execctx.Context, rb *model.Runbook, executionID string, results map[string]*model.StepResult, execErr *model.ExecError) Outcome {
	result := s.finish(ctx, ec, model.StateFailed, execErr)
	result.StepResults = results

	if rb.Config.RollbackOnFailure {
		s.rollbackCompleted(ctx, rb, executionID, results)
	}

	return Outcome{Result: &result}
}

// rollbackCompleted invokes RollbackSpec for every completed step that
// declares one, in reverse completion order (undo most-recent-first).
func (s *Scheduler) rollbackCompleted(ctx context.Context, rb *model.Runbook, executionID string, results map[string]*model.StepResult) {
	completed := make([]model.Step, 0, len(rb.Steps))
	for _, step := range rb.Steps {
		if step.Rollback == nil {
			continue
		}
		if res, ok := results[step.ID]; ok && res.Status == model.StateCompleted {
			completed = append(completed, step)
		}
	}
	// Undo in actual completion order, not declaration order: under
	// parallel_execution two independent steps in the same layer can
	// finish in either order, and rollback must reverse what really
	// happened rather than what the runbook happens to list first.
	sort.Slice(completed, func(i, j int) bool {
		return results[completed[i].ID].CompletedAt.Before(results[completed[j].ID].CompletedAt)
	})

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		a, err := adapter.ResolveStep(s.Executor.Resolver, step.Adapter, step.Action)
		if err != nil {
			s.logAudit(ctx, executionID, "rollback_skipped", map[string]any{"step_id": step.ID, "reason": err.Error()})
			continue
		}
		if err := a.Rollback(ctx, step.Rollback.Action, step.Rollback.Parameters); err != nil {
			s.logAudit(ctx, executionID, "rollback_failed", map[string]any{"step_id": step.ID, "error": err.Error()})
			if s.Log != nil {
				s.Log.Warnw("step rollback failed", "step_id", step.ID, "error", err)
			}
			continue
		}
		s.logAudit(ctx, executionID, "rollback_completed", map[string]any{"step_id": step.ID})
	}
}

// recordStepResult persists and publishes a finished step's result and,
// on success (or a failure the runbook is configured to continue past),
// marks it complete in the shared execution context.
func (s *Scheduler) recordStepResult(ctx context.Context, ec *execctx.Context, executionID string, step model.Step, res model.StepResult, results map[string]*model.StepResult, mu *sync.Mutex) {
	mu.Lock()
	results[step.ID] = &res
	mu.Unlock()

	if s.Store != nil {
		_ = s.Store.PutStepResult(ctx, executionID, res)
	}
	s.publish(ctx, "step_completed", res)

	if res.Status != model.StateFailed || res.ShouldContinue {
		ec.MarkStepCompleted(step.ID)
		ec.SetStepOutput(step.ID, res.Output)
	}
}

// firstUnrecoverableFailure reports the first step among a concurrently
// executed batch whose result failed without on_error: continue, so the
// caller can halt the run the same way a sequential failure would.
func (s *Scheduler) firstUnrecoverableFailure(steps []model.Step, results map[string]*model.StepResult, mu *sync.Mutex) *model.StepResult {
	mu.Lock()
	defer mu.Unlock()
	for _, step := range steps {
		if res, ok := results[step.ID]; ok && res.Status == model.StateFailed && !res.ShouldContinue {
			return res
		}
	}
	return nil
}

// dependenciesOK reports whether every dependency of step completed
// successfully (a dependency that failed-but-continued still counts as
// satisfied, matching on_error: continue semantics).
func (s *Scheduler) dependenciesOK(step model.Step, results map[string]*model.StepResult) bool {
	for _, dep := range step.DependsOn {
		if _, ok := results[dep]; !ok {
			return false
		}
	}
	return true
}

func (s *Scheduler) runOneStep(ctx context.Context, ec *execctx.Context, step model.Step) model.StepResult {
	ec.SetCurrentStep(step.ID)
	if s.Tracer != nil {
		var end func()
		ctx, end = s.Tracer.StartStep(ctx, step.ID, step.Action)
		defer end()
	}
	ns := namespacesFor(ec)
	res := s.Executor.Run(ctx, step, ns, execModeFor(ec.Mode))
	s.logAudit(ctx, ec.ExecutionID, "step_executed", map[string]any{
		"step_id": step.ID, "action": step.Action, "status": string(res.Status), "attempts": res.Attempts,
	})
	return res
}

func (s *Scheduler) finish(ctx context.Context, ec *execctx.Context, state model.ExecutionState, err *model.ExecError) model.ExecutionResult {
	ec.SetState(state)
	if err != nil {
		ec.SetError(err)
	}
	result := model.ExecutionResult{
		ExecutionID:    ec.ExecutionID,
		RunbookID:      ec.RunbookID,
		RunbookVersion: ec.RunbookVersion,
		Mode:           ec.Mode,
		State:          state,
		StartedAt:      ec.StartedAt,
		CompletedAt:    time.Now(),
		Error:          err,
	}
	if s.Store != nil {
		_ = s.Store.PutExecution(ctx, result)
	}
	s.logAudit(ctx, ec.ExecutionID, "execution_finished", map[string]any{"state": string(state)})
	s.publish(ctx, "execution_finished", result)
	return result
}

// execModeFor maps an execution's run mode to the adapter-level
// execution mode its step calls are made with. continueLive only ever
// runs under production (dry-run and simulation are short-circuited in
// Run before any step executes), but Resume and future call sites rely
// on this deriving the adapter mode instead of hardcoding it.
func execModeFor(m model.RunMode) adapter.ExecutionMode {
	switch m {
	case model.RunModeDryRun:
		return adapter.ModeDryRun
	case model.RunModeSimulation:
		return adapter.ModeSimulation
	default:
		return adapter.ModeLive
	}
}

func namespacesFor(ec *execctx.Context) template.Namespaces {
	alertMap := map[string]any{
		"id":       ec.Alert.ID,
		"source":   ec.Alert.Source,
		"severity": ec.Alert.Severity,
		"title":    ec.Alert.Title,
	}
	for k, v := range ec.Alert.Indicators {
		alertMap[k] = v
	}
	return template.Namespaces{
		Alert:   alertMap,
		Steps:   ec.StepsNamespace(),
		Context: ec.ContextNamespace(),
		Env:     template.DefaultEnv,
	}
}

func riskLevelFor(score float64) string {
	switch {
	case score >= 0.8:
		return "critical"
	case score >= 0.5:
		return "high"
	case score >= 0.2:
		return "medium"
	default:
		return "low"
	}
}

func (s *Scheduler) logAudit(ctx context.Context, executionID, eventType string, details map[string]any) {
	if s.Audit == nil {
		return
	}
	if _, err := s.Audit.Append(ctx, executionID, eventType, details); err != nil && s.Log != nil {
		s.Log.Warnw("audit append failed", "execution_id", executionID, "error", err)
	}
}

func (s *Scheduler) publish(ctx context.Context, eventType string, data any) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(ctx, eventbus.Event{Type: eventType, Data: data})
}
