package observer

import (
	"context"
	"errors"
	"time"

	switchboard "github.com/nevindra/switchboard"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedExecutor wraps a switchboard.AgentExecutor to emit OTEL lifecycle
// spans, metrics, and logs. The wrapper creates a parent span for each Run
// call that contains all inner operations (LLM calls, tool executions) as
// child spans via context propagation.
type ObservedExecutor struct {
	inner switchboard.AgentExecutor
	inst  *Instruments
}

// WrapExecutor returns an instrumented executor that emits lifecycle telemetry.
func WrapExecutor(inner switchboard.AgentExecutor, inst *Instruments) *ObservedExecutor {
	return &ObservedExecutor{inner: inner, inst: inst}
}

// Run wraps the inner executor's Run, emitting an executor.run span that
// serves as the parent for all inner operations.
func (o *ObservedExecutor) Run(ctx context.Context, req switchboard.ExecRequest) (switchboard.ExecResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "executor.run", trace.WithAttributes(
		AttrExecutorModel.String(req.Model),
		AttrExecutorMaxSteps.Int(req.MaxSteps),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("executor.started")

	result, err := o.inner.Run(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"

	if ctx.Err() != nil && err != nil {
		status = "cancelled"
		span.AddEvent("executor.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	} else if err != nil {
		status = "error"
		span.AddEvent("executor.failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.AddEvent("executor.completed")
	}

	var agentErr *switchboard.ErrAgent
	if errors.As(err, &agentErr) {
		span.SetAttributes(AttrExecutorRecoverable.Bool(agentErr.Recoverable))
	}

	span.SetAttributes(
		AttrExecutorStatus.String(status),
		AttrExecutorTouched.Int(len(result.TouchedHandles)),
	)

	// Metrics
	attrs := metric.WithAttributes(
		AttrExecutorModel.String(req.Model),
		attribute.String("status", status),
	)
	o.inst.ExecutorRuns.Add(ctx, 1, attrs)
	o.inst.ExecutorDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrExecutorModel.String(req.Model),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("executor run completed"))
	rec.AddAttributes(
		otellog.String("executor.model", req.Model),
		otellog.String("executor.status", status),
		otellog.Int("executor.tool_count", len(req.Tools)),
		otellog.Int("executor.touched_handles", len(result.TouchedHandles)),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

var _ switchboard.AgentExecutor = (*ObservedExecutor)(nil)
