package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayCall describes one model invocation for metrics.
type GatewayCall struct {
	Stage            string
	Outcome          string
	Duration         time.Duration
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	CostUSD          float64
}

// MetricsRecorder records chain metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordGatewayCall records one model call with its token usage and cost.
	RecordGatewayCall(ctx context.Context, call GatewayCall)

	// RecordStageExecution records a stage run across all of its attempts.
	RecordStageExecution(ctx context.Context, stage string, attempts int, duration time.Duration, err error)

	// RecordRetry records a stage attempt that will be retried.
	RecordRetry(ctx context.Context, stage, kind string)

	// RecordRepair records output that needed a repair strategy to decode.
	RecordRepair(ctx context.Context, stage, strategy string)

	// RecordChainOutcome records a chain reaching a terminal or parked status.
	RecordChainOutcome(ctx context.Context, status string, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	gatewayCalls   metric.Int64Counter
	gatewayLatency metric.Float64Histogram
	tokens         metric.Int64Counter
	cost           metric.Float64Counter
	stageRuns      metric.Int64Counter
	stageLatency   metric.Float64Histogram
	stageErrors    metric.Int64Counter
	retries        metric.Int64Counter
	repairs        metric.Int64Counter
	chainOutcomes  metric.Int64Counter
	chainLatency   metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily creates the metrics instance on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("reportflow")
	m := &otelMetrics{}
	var err error

	if m.gatewayCalls, err = meter.Int64Counter("reportflow.gateway.calls",
		metric.WithDescription("Number of model calls by outcome"),
	); err != nil {
		return nil, err
	}
	if m.gatewayLatency, err = meter.Float64Histogram("reportflow.gateway.latency_ms",
		metric.WithDescription("Model call latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.tokens, err = meter.Int64Counter("reportflow.gateway.tokens",
		metric.WithDescription("Tokens consumed by type"),
	); err != nil {
		return nil, err
	}
	if m.cost, err = meter.Float64Counter("reportflow.gateway.cost_usd",
		metric.WithDescription("Model spend in US dollars"),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, err
	}
	if m.stageRuns, err = meter.Int64Counter("reportflow.stage.executions",
		metric.WithDescription("Number of stage executions"),
	); err != nil {
		return nil, err
	}
	if m.stageLatency, err = meter.Float64Histogram("reportflow.stage.latency_ms",
		metric.WithDescription("Stage latency across all attempts in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.stageErrors, err = meter.Int64Counter("reportflow.stage.errors",
		metric.WithDescription("Number of stages that failed"),
	); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("reportflow.stage.retries",
		metric.WithDescription("Number of stage attempts retried, by failure kind"),
	); err != nil {
		return nil, err
	}
	if m.repairs, err = meter.Int64Counter("reportflow.decode.repairs",
		metric.WithDescription("Number of outputs recovered by a repair strategy"),
	); err != nil {
		return nil, err
	}
	if m.chainOutcomes, err = meter.Int64Counter("reportflow.chain.outcomes",
		metric.WithDescription("Number of chains reaching each status"),
	); err != nil {
		return nil, err
	}
	if m.chainLatency, err = meter.Float64Histogram("reportflow.chain.latency_ms",
		metric.WithDescription("Wall-clock time from chain start to outcome in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses the global OTel
// meter provider. If initialization fails it returns a no-op recorder.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordGatewayCall records a model call.
func (m *otelMetrics) RecordGatewayCall(ctx context.Context, call GatewayCall) {
	attrs := metric.WithAttributes(
		attribute.String("stage", call.Stage),
		attribute.String("outcome", call.Outcome),
	)
	m.gatewayCalls.Add(ctx, 1, attrs)
	m.gatewayLatency.Record(ctx, float64(call.Duration.Milliseconds()), attrs)

	for typ, n := range map[string]int{
		"input":       call.InputTokens,
		"output":      call.OutputTokens,
		"cache_read":  call.CacheReadTokens,
		"cache_write": call.CacheWriteTokens,
	} {
		if n == 0 {
			continue
		}
		m.tokens.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("stage", call.Stage),
			attribute.String("type", typ),
		))
	}
	if call.CostUSD > 0 {
		m.cost.Add(ctx, call.CostUSD, metric.WithAttributes(attribute.String("stage", call.Stage)))
	}
}

// RecordStageExecution records a stage run.
func (m *otelMetrics) RecordStageExecution(ctx context.Context, stage string, attempts int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.stageRuns.Add(ctx, 1, attrs)
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.stageErrors.Add(ctx, 1, attrs)
	}
}

// RecordRetry records a retried attempt.
func (m *otelMetrics) RecordRetry(ctx context.Context, stage, kind string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("kind", kind),
	))
}

// RecordRepair records a repaired decode.
func (m *otelMetrics) RecordRepair(ctx context.Context, stage, strategy string) {
	m.repairs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("strategy", strategy),
	))
}

// RecordChainOutcome records a chain status change.
func (m *otelMetrics) RecordChainOutcome(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.chainOutcomes.Add(ctx, 1, attrs)
	m.chainLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}
