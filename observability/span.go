package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kbukum/imgflow"

// Span names.
const (
	SpanPipelineHop = "pipeline.hop"
	SpanPublish     = "pipeline.publish"
	SpanSubmitRun   = "pipeline.submit"
	SpanListOutputs = "pipeline.outputs"
)

// Attribute keys shared by spans and metrics.
const (
	AttrService   = "service.name"
	AttrStage     = "stage"
	AttrImage     = "image_identifier"
	AttrTopic     = "topic"
	AttrMessageID = "message.id"
	AttrRemaining = "remaining"
	AttrOutcome   = "outcome"
)

// StartSpan starts a span on the global tracer provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Hop is one stage hop in flight: its span and its clock.
type Hop struct {
	stage   string
	start   time.Time
	span    trace.Span
	metrics *Metrics
}

// StartHop opens the pipeline.hop span. m may be nil.
func StartHop(ctx context.Context, service, stage, image, messageID string, m *Metrics) (context.Context, *Hop) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrService, service),
		attribute.String(AttrStage, stage),
		attribute.String(AttrImage, image),
	}
	if messageID != "" {
		attrs = append(attrs, attribute.String(AttrMessageID, messageID))
	}
	ctx, span := StartSpan(ctx, SpanPipelineHop, attrs...)
	return ctx, &Hop{stage: stage, start: time.Now(), span: span, metrics: m}
}

// End closes the hop span with outcome and records the hop metric. It
// returns the hop duration.
func (h *Hop) End(ctx context.Context, outcome string, err error) time.Duration {
	d := time.Since(h.start)
	h.span.SetAttributes(attribute.String(AttrOutcome, outcome))
	EndSpan(h.span, err)
	h.metrics.RecordHop(ctx, h.stage, outcome, d)
	return d
}
