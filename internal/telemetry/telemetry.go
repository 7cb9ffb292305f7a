// Package telemetry wires up OpenTelemetry tracing for runbook runs:
// one span per execution, one child span per step, exported via stdout
// in development (a real OTLP exporter swaps in the same way in
// production, the way the rest of the ambient stack is environment-driven).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps a configured TracerProvider and its shutdown hook.
type Provider struct {
	tp     *sdktrace.TracerProvider
	Tracer trace.Tracer
}

// NewProvider builds a stdout-exporting trace provider and registers it
// as the global provider.
func NewProvider(serviceName string) (*Provider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("build stdout trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, Tracer: tp.Tracer(serviceName)}, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// StartExecution opens the root span for one runbook execution.
func (p *Provider) StartExecution(ctx context.Context, executionID, runbookID string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, "runbook.execute",
		trace.WithAttributes(
			attribute.String("execution_id", executionID),
			attribute.String("runbook_id", runbookID),
		),
	)
}

// StartStep opens a child span for one step within an execution.
func (p *Provider) StartStep(ctx context.Context, stepID, action string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, "runbook.step",
		trace.WithAttributes(
			attribute.String("step_id", stepID),
			attribute.String("action", action),
		),
	)
}

// SchedulerTracer adapts Provider to scheduler.Tracer, which deals in
// plain end funcs rather than trace.Span so the scheduler package
// doesn't need to import the otel API.
type SchedulerTracer struct{ Provider *Provider }

func (t SchedulerTracer) StartExecution(ctx context.Context, executionID, runbookID string) (context.Context, func()) {
	spanCtx, span := t.Provider.StartExecution(ctx, executionID, runbookID)
	return spanCtx, func() { span.End() }
}

func (t SchedulerTracer) StartStep(ctx context.Context, stepID, action string) (context.Context, func()) {
	spanCtx, span := t.Provider.StartStep(ctx, stepID, action)
	return spanCtx, func() { span.End() }
}
