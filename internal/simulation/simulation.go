// Package simulation implements the L2 dry-run preview: every step is
// executed in simulation mode (no side effects) against its bound
// adapter, and the per-step predictions are aggregated into a report
// used to drive the approval queue.
package simulation

import (
	"context"
	"time"

	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/classifier"
	"github.com/socrunbook/engine/internal/errors"
	"github.com/socrunbook/engine/internal/model"
	"github.com/socrunbook/engine/internal/template"
)

// Engine runs a runbook's steps in simulation mode and aggregates the
// results into a SimulationReport.
type Engine struct {
	Resolver adapter.Resolver
}

// New builds a simulation Engine bound to resolver.
func New(resolver adapter.Resolver) *Engine {
	return &Engine{Resolver: resolver}
}

// Run simulates every step of runbook in dependency order (the caller
// is expected to have already topologically sorted steps; this package
// does not re-derive the DAG) and returns the aggregated report.
func (e *Engine) Run(ctx context.Context, executionID string, steps []model.Step, ns template.Namespaces) model.SimulationReport {
	report := model.SimulationReport{
		ExecutionID: executionID,
		GeneratedAt: time.Now(),
	}

	everyWriteStepHasRollback := true
	var confidenceSum float64
	var maxRisk float64
	failures := 0
	writeFailure := false

	for _, step := range steps {
		sim := e.simulateStep(ctx, step, ns)
		report.Steps = append(report.Steps, sim)

		confidenceSum += sim.Confidence
		if sim.Impact.RiskScore > maxRisk {
			maxRisk = sim.Impact.RiskScore
		}
		if sim.ValidationsAttempted > 0 && sim.ValidationsPassed < sim.ValidationsAttempted {
			failures++
			if classifier.IsWrite(step.Action) {
				writeFailure = true
			}
		}
		if classifier.IsWrite(step.Action) && step.Rollback == nil {
			everyWriteStepHasRollback = false
		}
	}

	if len(report.Steps) > 0 {
		report.OverallConfidence = confidenceSum / float64(len(report.Steps))
	}
	report.OverallRiskScore = maxRisk

	switch {
	case failures == 0:
		report.PredictedOutcome = model.OutcomeSuccess
	case writeFailure:
		report.PredictedOutcome = model.OutcomeFailure
	default:
		report.PredictedOutcome = model.OutcomePartial
	}

	report.Rollback = model.RollbackPlan{Available: everyWriteStepHasRollback && len(report.Steps) > 0}
	if report.Rollback.Available {
		for _, s := range steps {
			report.Rollback.Steps = append(report.Rollback.Steps, s.ID)
		}
	}

	return report
}

func (e *Engine) simulateStep(ctx context.Context, step model.Step, ns template.Namespaces) model.SimulatedStep {
	sim := model.SimulatedStep{StepID: step.ID}

	a, err := adapter.ResolveStep(e.Resolver, step.Adapter, step.Action)
	if err != nil {
		sim.Confidence = 0
		sim.ValidationsAttempted = 1
		sim.Impact = model.ImpactAssessment{RiskScore: 1, Reversible: false}
		return sim
	}

	params := template.ResolveParams(step.Parameters, ns)
	result, err := a.Execute(ctx, step.Action, params, adapter.ModeSimulation)
	if err != nil || result == nil || !result.Success {
		sim.ValidationsAttempted = 1
		sim.Confidence = 0
		msg := "simulation failed"
		if err != nil {
			msg = errors.Sanitize(errors.Classify(err).Message)
		}
		sim.PredictedResult = map[string]any{"error": msg}
		sim.Impact = model.ImpactAssessment{RiskScore: riskScoreFor(step), Reversible: step.Rollback != nil}
		return sim
	}

	sim.PredictedResult = result.Output
	sim.ValidationsAttempted = 1
	sim.ValidationsPassed = 1
	sim.Confidence = confidenceFor(step)
	sim.Impact = model.ImpactAssessment{RiskScore: riskScoreFor(step), Reversible: step.Rollback != nil}
	return sim
}

// confidenceFor is a static per-action-class confidence score: reads
// are low-risk and highly predictable, writes carry more uncertainty
// unless they declare a rollback plan.
func confidenceFor(step model.Step) float64 {
	if classifier.IsRead(step.Action) {
		return 0.95
	}
	if step.Rollback != nil {
		return 0.85
	}
	return 0.7
}

// riskScoreFor is a static per-action-class impact score in [0,1].
func riskScoreFor(step model.Step) float64 {
	if classifier.IsRead(step.Action) {
		return 0.05
	}
	if step.Rollback != nil {
		return 0.35
	}
	return 0.65
}
