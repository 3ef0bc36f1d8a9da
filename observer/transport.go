package observer

import (
	"context"

	switchboard "github.com/nevindra/switchboard"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTransport wraps a switchboard.Transport so that every binding it
// opens is itself instrumented. Open calls emit a span; tool executions on
// the returned binding emit their own.
type ObservedTransport struct {
	inner switchboard.Transport
	inst  *Instruments
}

// WrapTransport returns an instrumented transport.
func WrapTransport(inner switchboard.Transport, inst *Instruments) *ObservedTransport {
	return &ObservedTransport{inner: inner, inst: inst}
}

func (o *ObservedTransport) Open(ctx context.Context, spec switchboard.TransportSpec) (switchboard.Binding, error) {
	target := spec.URL
	if spec.Kind == "stdio" {
		target = spec.Command
	}
	ctx, span := o.inst.Tracer.Start(ctx, "transport.open", trace.WithAttributes(
		AttrServerKind.String(spec.Kind),
		AttrServerTarget.String(target),
	))
	defer span.End()

	binding, err := o.inner.Open(ctx, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(AttrToolCount.Int(len(binding.Definitions())))

	return WrapBinding(binding, o.inst), nil
}

var _ switchboard.Transport = (*ObservedTransport)(nil)
