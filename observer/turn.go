package observer

import (
	"context"
	"time"

	switchboard "github.com/nevindra/switchboard"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Turn is an in-flight router turn span. Hosts wrap Router.HandleTurn:
//
//	ctx, turn := inst.StartTurn(ctx, sessionID)
//	reply, err := router.HandleTurn(ctx, sessionID, text)
//	turn.End(reply, err)
//
// Executor runs, LLM calls, and tool executions inside the turn become
// child spans through the returned context.
type Turn struct {
	inst    *Instruments
	ctx     context.Context
	span    trace.Span
	session string
	start   time.Time
}

// StartTurn opens a router.turn span for one turn in the given session.
func (in *Instruments) StartTurn(ctx context.Context, sessionID string) (context.Context, *Turn) {
	ctx, span := in.Tracer.Start(ctx, "router.turn", trace.WithAttributes(
		AttrTurnSession.String(sessionID),
	))
	return ctx, &Turn{inst: in, ctx: ctx, span: span, session: sessionID, start: time.Now()}
}

// End closes the turn span and records turn metrics and a log record.
// Safe to call exactly once.
func (t *Turn) End(reply string, err error) {
	durationMs := float64(time.Since(t.start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
		t.span.SetAttributes(attribute.Bool("turn.recoverable", switchboard.IsRecoverable(err)))
	}

	t.span.SetAttributes(
		AttrTurnStatus.String(status),
		AttrTurnReplyLength.Int(len(reply)),
	)
	t.span.End()

	t.inst.Turns.Add(t.ctx, 1, metric.WithAttributes(
		AttrTurnSession.String(t.session),
		attribute.String("status", status),
	))
	t.inst.TurnDuration.Record(t.ctx, durationMs, metric.WithAttributes(
		AttrTurnSession.String(t.session),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("router turn completed"))
	rec.AddAttributes(
		otellog.String("turn.session", t.session),
		otellog.String("turn.status", status),
		otellog.Int("turn.reply_length", len(reply)),
		otellog.Float64("duration_ms", durationMs),
	)
	t.inst.Logger.Emit(t.ctx, rec)
}
