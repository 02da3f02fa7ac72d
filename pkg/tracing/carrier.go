package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// InjectCarrier captures the span context of ctx so it can travel inside a
// persisted queue entry. It returns nil when there is nothing to carry.
func InjectCarrier(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// ExtractCarrier restores a span context captured by InjectCarrier.
func ExtractCarrier(ctx context.Context, carrier map[string]string) context.Context {
	if len(carrier) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))
}

// StartDeliverySpan opens a consumer span for one delivery attempt, linked to
// the intake request that produced the entry.
func StartDeliverySpan(ctx context.Context, sink, entryID string, attempt int, carrier map[string]string) (context.Context, trace.Span) {
	parent := ExtractCarrier(context.Background(), carrier)

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("delivery.sink", sink),
			attribute.String("delivery.entry_id", entryID),
			attribute.Int("delivery.attempt", attempt),
		),
	}
	if sc := trace.SpanContextFromContext(parent); sc.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}))
	}

	return Tracer("leadpipe/delivery").Start(ctx, "deliver "+sink, opts...)
}
