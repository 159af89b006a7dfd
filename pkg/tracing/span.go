package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ComponentSpan identifies the control-plane subsystem and operation a span
// belongs to, mirrored into span attributes for querying in a trace backend.
type ComponentSpan struct {
	Component string // registry, loadbalancer, orchestrator, stream, slo
	Operation string
	Attrs     []attribute.KeyValue
}

// StartSpan starts a span for cs under tracerName, attaching Component and
// Operation as attributes alongside any caller-supplied ones.
func StartSpan(ctx context.Context, tracerName string, cs ComponentSpan) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{
		attribute.String("component", cs.Component),
		attribute.String("operation", cs.Operation),
	}, cs.Attrs...)
	return Tracer(tracerName).Start(ctx, cs.Component+"."+cs.Operation,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal))
}

// EndSpan records err on span, if any, and sets the matching status code.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
