package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
	"github.com/randalmurphal/reportflow/pkg/reportflow/jsonrepair"
	"github.com/randalmurphal/reportflow/pkg/reportflow/observability"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// ErrTruncated marks output that hit its token budget when truncation is
// configured to force a retry.
var ErrTruncated = errors.New("output truncated at token limit")

// Result is a stage's validated output.
type Result struct {
	Record schema.Record

	// Usage covers every attempt, including failed ones.
	Usage gateway.Usage

	Truncated bool
	Strategy  jsonrepair.Strategy
	Attempts  int

	NeedsClarification    bool
	ClarificationQuestion string
}

// Executor runs stage definitions against a gateway.
type Executor struct {
	gw                gateway.Invoker
	retry             rferrors.RetryConfig
	retryOnTruncation bool
	windowStep        int
	logger            *slog.Logger
	metrics           observability.MetricsRecorder
	spans             observability.SpanManager
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracing sets the span manager.
func WithTracing(s observability.SpanManager) Option {
	return func(e *Executor) { e.spans = s }
}

// WithRetry sets the backoff between transient failures.
func WithRetry(cfg rferrors.RetryConfig) Option {
	return func(e *Executor) { e.retry = cfg }
}

// WithRetryOnTruncation makes truncated output retry at the next tier even
// when it repairs and validates.
func WithRetryOnTruncation(enabled bool) Option {
	return func(e *Executor) { e.retryOnTruncation = enabled }
}

// WithWindowStep sets the decoder's progressive window step.
func WithWindowStep(n int) Option {
	return func(e *Executor) { e.windowStep = n }
}

// NewExecutor creates an Executor that calls gw.
func NewExecutor(gw gateway.Invoker, opts ...Option) *Executor {
	e := &Executor{
		gw:      gw,
		retry:   rferrors.DefaultRetry,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes def against s. s is not modified and nothing is persisted.
//
// The returned Result is never nil. On error its Usage still accounts for
// every call made, so callers can bill failed stages.
func (e *Executor) Run(ctx context.Context, def Definition, s *state.ChainState) (*Result, error) {
	res := &Result{}
	if err := def.Validate(); err != nil {
		return res, err
	}

	msg, err := def.Prompt(s.Clone())
	if err != nil {
		return res, fmt.Errorf("stage %s: build prompt: %w", def.Name, err)
	}

	ctx, span := e.spans.StartStageSpan(ctx, def.Name)
	start := time.Now()

	err = e.attempts(ctx, def, s.ReportID, msg.Prefix, msg.System, msg.User, res)

	e.metrics.RecordStageExecution(ctx, def.Name, res.Attempts, time.Since(start), err)
	e.spans.EndSpanWithError(span, err)
	return res, err
}

func (e *Executor) attempts(ctx context.Context, def Definition, reportID, prefix, system, user string, res *Result) error {
	backoff := rferrors.NewBackoff(e.retry)
	total := def.Attempts()
	timer := observability.TimedOperation()
	var last error

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		maxTokens := def.TierFor(i)
		res.Attempts = i + 1
		logger := observability.EnrichLogger(e.logger, reportID, def.Name, i+1)
		observability.LogStageStart(logger, def.Name, maxTokens)

		out := e.gw.Invoke(ctx, gateway.Request{
			Stage:           def.Name,
			SystemPrompt:    system,
			UserMessage:     user,
			MaxTokens:       maxTokens,
			CacheablePrefix: prefix,
			Temperature:     def.Temperature,
		})
		res.Usage.Add(out.Usage)

		if err := ctx.Err(); err != nil {
			return err
		}

		var attemptErr error
		switch out.Kind {
		case gateway.OutcomeRefused:
			err := out.Error()
			observability.LogStageError(logger, def.Name, err)
			return err

		case gateway.OutcomeTransient:
			attemptErr = out.Error()

		default:
			if out.Truncated && e.retryOnTruncation && i+1 < total {
				attemptErr = &rferrors.DecodeError{
					Context: def.Name,
					Length:  len(out.Text),
					Err:     ErrTruncated,
				}
				break
			}
			rec, strategy, err := e.decode(def, out, logger)
			if err != nil {
				attemptErr = err
				break
			}
			e.accept(ctx, def, res, rec, strategy, out.Truncated, logger)
			observability.LogStageComplete(logger, def.Name, res.Attempts, timer(), strategy.String())
			return nil
		}

		last = attemptErr
		if i+1 >= total {
			break
		}

		e.metrics.RecordRetry(ctx, def.Name, string(rferrors.KindOf(attemptErr)))
		e.spans.AddSpanEvent(ctx, "retry",
			attribute.Int("attempt", i+1),
			attribute.String("kind", string(rferrors.KindOf(attemptErr))),
		)
		observability.LogRetry(logger, def.Name, i+1, def.TierFor(i+1), attemptErr)

		if out.Kind == gateway.OutcomeTransient {
			if err := backoff.Wait(ctx); err != nil {
				return err
			}
		}
	}

	failure := &rferrors.StageFailure{Stage: def.Name, Attempts: res.Attempts, Last: last}
	observability.LogStageError(e.logger, def.Name, failure)
	return failure
}

func (e *Executor) decode(def Definition, out gateway.Outcome, logger *slog.Logger) (schema.Record, jsonrepair.Strategy, error) {
	opts := []jsonrepair.Option{
		jsonrepair.WithTruncated(out.Truncated),
		jsonrepair.WithContext(def.Name),
		jsonrepair.WithLogger(logger),
	}
	if e.windowStep > 0 {
		opts = append(opts, jsonrepair.WithWindowStep(e.windowStep))
	}

	decoded, err := jsonrepair.Decode(out.Text, opts...)
	if err != nil {
		return nil, jsonrepair.StrategyNone, err
	}

	rec, err := def.Schema.Validate(decoded.Value)
	if err != nil {
		return nil, decoded.Strategy, err
	}
	return rec, decoded.Strategy, nil
}

func (e *Executor) accept(ctx context.Context, def Definition, res *Result, rec schema.Record, strategy jsonrepair.Strategy, truncated bool, logger *slog.Logger) {
	res.Record = rec
	res.Strategy = strategy
	res.Truncated = truncated

	if strategy.Repaired() {
		e.metrics.RecordRepair(ctx, def.Name, strategy.String())
		e.spans.AddSpanEvent(ctx, "repaired", attribute.String("strategy", strategy.String()))
		observability.LogRepair(logger, def.Name, strategy.String(), truncated)
	}

	if def.Clarifies {
		question := strings.TrimSpace(rec.String(FieldClarificationQuestion))
		res.NeedsClarification = rec.Bool(FieldNeedsClarification) && question != ""
		if res.NeedsClarification {
			res.ClarificationQuestion = question
		}
	}
}
