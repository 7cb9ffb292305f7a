// Package executor runs a single runbook step: it resolves templated
// parameters, evaluates the step's condition guard, dispatches to the
// bound adapter with a timeout race and a retry/backoff policy for
// retryable errors, and classifies the outcome.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/classifier"
	"github.com/socrunbook/engine/internal/errors"
	"github.com/socrunbook/engine/internal/model"
	"github.com/socrunbook/engine/internal/template"
)

const defaultTimeout = 30 * time.Second

// Executor runs individual steps against a resolver of bound adapters.
type Executor struct {
	Resolver adapter.Resolver
}

// New builds an Executor bound to resolver.
func New(resolver adapter.Resolver) *Executor {
	return &Executor{Resolver: resolver}
}

// Run resolves, guards, dispatches and classifies a single step.
func (e *Executor) Run(ctx context.Context, step model.Step, ns template.Namespaces, mode adapter.ExecutionMode) model.StepResult {
	result := model.StepResult{StepID: step.ID, StartedAt: time.Now()}

	resolvedParams := template.ResolveParams(step.Parameters, ns)

	if step.Condition != "" {
		condResolved := template.ResolveString(step.Condition, ns)
		if !evalCondition(toConditionString(condResolved)) {
			result.Status = model.StateCompleted
			result.Output = map[string]any{"skipped": true, "reason": "condition not met"}
			result.CompletedAt = time.Now()
			result.ShouldContinue = true
			return result
		}
	}

	if !classifier.Known(step.Action) {
		result.Status = model.StateFailed
		result.Error = &model.ExecError{Code: string(errors.PlaybookInvalid), Message: "unknown action: " + step.Action}
		result.CompletedAt = time.Now()
		result.ShouldContinue = false
		return result
	}

	a, err := adapter.ResolveStep(e.Resolver, step.Adapter, step.Action)
	if err != nil {
		result.Status = model.StateFailed
		result.Error = &model.ExecError{Code: string(errors.AdapterNotFound), Message: err.Error()}
		result.CompletedAt = time.Now()
		result.ShouldContinue = false
		return result
	}

	timeout := defaultTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}

	var lastErr error
	var out *adapter.Result
	attempts := 0

	policy := step.Retry
	maxAttempts := 1
	if policy != nil && policy.MaxAttempts > 0 {
		maxAttempts = policy.MaxAttempts
	}

	for attempts < maxAttempts {
		attempts++
		out, lastErr = e.execOnce(ctx, a, step.Action, resolvedParams, mode, timeout)
		if lastErr == nil {
			break
		}
		classified := errors.Classify(lastErr)
		if !classified.Retryable || attempts >= maxAttempts {
			lastErr = classified
			break
		}
		delay := backoffDelay(policy, attempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = errors.New(errors.ExecCancelled, ctx.Err().Error())
			attempts = maxAttempts
		}
	}

	result.Attempts = attempts
	result.CompletedAt = time.Now()
	result.DurationMS = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	result.HasRollback = step.Rollback != nil

	if lastErr != nil {
		classified := errors.Classify(lastErr)
		classified.Message = errors.Sanitize(classified.Message)
		result.Status = model.StateFailed
		result.Error = &model.ExecError{Code: string(classified.Code), Message: classified.Message, Retryable: classified.Retryable}
		result.ShouldContinue = shouldContinue(step.OnError)
		return result
	}

	result.Status = model.StateCompleted
	result.Output = out.Output
	result.ShouldContinue = true
	return result
}

func toConditionString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (e *Executor) execOnce(ctx context.Context, a adapter.Adapter, action string, params map[string]any, mode adapter.ExecutionMode, timeout time.Duration) (*adapter.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *adapter.Result
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		res, err := a.Execute(callCtx, action, params, mode)
		ch <- outcome{res, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, o.err
		}
		if o.res != nil && !o.res.Success {
			if o.res.Error != nil {
				return nil, o.res.Error
			}
			return nil, errors.New(errors.AdapterExecutionFailed, "adapter reported failure")
		}
		return o.res, nil
	case <-callCtx.Done():
		return nil, errors.New(errors.AdapterTimeout, "step timed out after "+timeout.String())
	}
}

func backoffDelay(policy *model.RetryPolicy, attempt int) time.Duration {
	base := 200 * time.Millisecond
	if policy != nil && policy.BackoffMS > 0 {
		base = time.Duration(policy.BackoffMS) * time.Millisecond
	}
	if policy == nil || policy.Strategy != model.BackoffExponential {
		return base
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.Reset()
	delay := base
	for i := 0; i < attempt; i++ {
		delay = eb.NextBackOff()
	}
	return delay
}

func shouldContinue(policy model.OnErrorPolicy) bool {
	switch policy {
	case model.OnErrorContinue, model.OnErrorSkip:
		return true
	default:
		return false
	}
}
