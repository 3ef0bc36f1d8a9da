package observer

import (
	"context"
	"encoding/json"
	"time"

	switchboard "github.com/nevindra/switchboard"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedBinding wraps a switchboard.Binding with OTEL instrumentation.
type ObservedBinding struct {
	inner switchboard.Binding
	inst  *Instruments
}

// WrapBinding returns an instrumented binding.
func WrapBinding(inner switchboard.Binding, inst *Instruments) *ObservedBinding {
	return &ObservedBinding{inner: inner, inst: inst}
}

func (o *ObservedBinding) Definitions() []switchboard.ToolDefinition {
	return o.inner.Definitions()
}

func (o *ObservedBinding) Execute(ctx context.Context, name string, args json.RawMessage) (switchboard.ToolResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, name, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.Error != "" {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Content)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result.Content)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

func (o *ObservedBinding) Close() error { return o.inner.Close() }

var _ switchboard.Binding = (*ObservedBinding)(nil)
