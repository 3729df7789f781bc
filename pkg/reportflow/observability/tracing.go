package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("reportflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartChainSpan starts a span for one drive of a report's chain.
	StartChainSpan(ctx context.Context, reportID, status string) (context.Context, trace.Span)

	// StartStageSpan starts a span for one stage, covering all attempts.
	StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span)

	// StartGatewaySpan starts a span for one model call.
	StartGatewaySpan(ctx context.Context, stage, model string, maxTokens int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses the global OTel tracer provider.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartChainSpan(ctx context.Context, reportID, status string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "reportflow.chain",
		trace.WithAttributes(
			attribute.String("report.id", reportID),
			attribute.String("chain.status", status),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "reportflow.stage."+stage,
		trace.WithAttributes(attribute.String("stage.name", stage)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartGatewaySpan(ctx context.Context, stage, model string, maxTokens int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "reportflow.gateway",
		trace.WithAttributes(
			attribute.String("stage.name", stage),
			attribute.String("llm.model", model),
			attribute.Int("llm.max_tokens", maxTokens),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
