// Package gateway is the single point through which report stages reach a
// language model.
//
// A Gateway wraps a Transport with a token ceiling, a per-call timeout, a
// shared rate limiter, cost accounting, and stop-reason classification. It
// never returns an error: every call produces an Outcome tagged OK, Refused,
// or Transient, and callers convert it with Outcome.Error when they need one.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
	"github.com/randalmurphal/reportflow/pkg/reportflow/observability"
)

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// OutcomeOK means the model produced text. It may be truncated.
	OutcomeOK OutcomeKind = iota

	// OutcomeRefused means the provider's safety filter blocked generation.
	OutcomeRefused

	// OutcomeTransient means the call failed in a way a retry may fix.
	OutcomeTransient
)

// String returns the outcome name used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRefused:
		return "refused"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Request is one stage's call to the model.
type Request struct {
	Stage        string
	SystemPrompt string
	UserMessage  string
	MaxTokens    int

	// CacheablePrefix is sent as a separately cacheable system block.
	CacheablePrefix string

	// Temperature overrides Config.Temperature when positive.
	Temperature float64
}

// Outcome is the result of one Invoke.
type Outcome struct {
	Kind  OutcomeKind
	Stage string
	Model string

	Text       string
	StopReason string
	Truncated  bool

	// Message carries the provider's refusal text, if any.
	Message string

	// Err is the transport failure for OutcomeTransient.
	Err        error
	StatusCode int

	Usage   Usage
	Latency time.Duration
}

// Error converts the outcome into the error taxonomy. It returns nil for
// OutcomeOK.
func (o Outcome) Error() error {
	switch o.Kind {
	case OutcomeRefused:
		return &rferrors.RefusalError{Stage: o.Stage, StopReason: o.StopReason, Message: o.Message}
	case OutcomeTransient:
		return &rferrors.GatewayError{Stage: o.Stage, Op: "invoke", StatusCode: o.StatusCode, Err: o.Err}
	default:
		return nil
	}
}

// Invoker is what stage executors depend on. *Gateway implements it.
type Invoker interface {
	Invoke(ctx context.Context, req Request) Outcome
}

// Config tunes a Gateway.
type Config struct {
	// Model is passed to the transport on every call.
	Model string

	// MaxTokensCeiling clamps Request.MaxTokens. Zero disables the clamp.
	MaxTokensCeiling int

	// StreamThreshold switches the transport to streaming mode for calls whose
	// output budget exceeds it. Zero never streams.
	StreamThreshold int

	// Timeout bounds each call. Zero means no timeout beyond ctx.
	Timeout time.Duration

	// RequestsPerSecond and Burst configure the shared rate limiter.
	// A non-positive RequestsPerSecond disables limiting.
	RequestsPerSecond float64
	Burst             int

	// Pricing prices usage by model. Nil uses DefaultPricing.
	Pricing PriceTable

	Temperature float64
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		Model:            "claude-sonnet-4-20250514",
		MaxTokensCeiling: 32000,
		StreamThreshold:  16000,
		Timeout:          10 * time.Minute,
		Burst:            1,
		Pricing:          DefaultPricing,
	}
}

// Gateway invokes a model through a Transport.
type Gateway struct {
	transport Transport
	cfg       Config
	limiter   *rate.Limiter
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

var _ Invoker = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracing sets the span manager.
func WithTracing(s observability.SpanManager) Option {
	return func(g *Gateway) { g.spans = s }
}

// WithLimiter shares an existing rate limiter instead of building one from
// Config. Gateways serving the same account should share one.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// New creates a Gateway.
func New(t Transport, cfg Config, opts ...Option) *Gateway {
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing
	}
	g := &Gateway{
		transport: t,
		cfg:       cfg,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the gateway's configuration.
func (g *Gateway) Config() Config {
	return g.cfg
}

// Invoke calls the model once. It never panics and never returns an error;
// failures are reported through the Outcome.
func (g *Gateway) Invoke(ctx context.Context, req Request) Outcome {
	start := time.Now()
	maxTokens := g.clamp(req.MaxTokens)

	ctx, span := g.spans.StartGatewaySpan(ctx, req.Stage, g.cfg.Model, maxTokens)
	out := g.invoke(ctx, req, maxTokens)
	out.Latency = time.Since(start)

	g.metrics.RecordGatewayCall(ctx, observability.GatewayCall{
		Stage:            req.Stage,
		Outcome:          out.Kind.String(),
		Duration:         out.Latency,
		InputTokens:      out.Usage.InputTokens,
		OutputTokens:     out.Usage.OutputTokens,
		CacheReadTokens:  out.Usage.CacheReadTokens,
		CacheWriteTokens: out.Usage.CacheWriteTokens,
		CostUSD:          out.Usage.CostUSD,
	})
	g.spans.EndSpanWithError(span, out.Error())

	logger := g.logger.With(
		slog.String("stage", req.Stage),
		slog.String("outcome", out.Kind.String()),
		slog.Int("max_tokens", maxTokens),
		slog.Duration("latency", out.Latency),
	)
	switch out.Kind {
	case OutcomeTransient:
		logger.Warn("model call failed", slog.Any("error", out.Err))
	case OutcomeRefused:
		logger.Warn("model refused", slog.String("stop_reason", out.StopReason))
	default:
		logger.Debug("model call completed",
			slog.Int("output_tokens", out.Usage.OutputTokens),
			slog.Bool("truncated", out.Truncated),
		)
	}
	return out
}

func (g *Gateway) invoke(ctx context.Context, req Request, maxTokens int) Outcome {
	out := Outcome{Stage: req.Stage, Model: g.cfg.Model}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			out.Kind = OutcomeTransient
			out.Err = fmt.Errorf("rate limiter: %w", err)
			return out
		}
	}

	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = g.cfg.Temperature
	}

	resp, err := g.safeSend(callCtx, TransportRequest{
		Stage:           req.Stage,
		Model:           g.cfg.Model,
		System:          req.SystemPrompt,
		CacheablePrefix: req.CacheablePrefix,
		User:            req.UserMessage,
		MaxTokens:       maxTokens,
		Temperature:     temperature,
		Stream:          g.cfg.StreamThreshold > 0 && maxTokens > g.cfg.StreamThreshold,
	})

	if resp.Model != "" {
		out.Model = resp.Model
	}
	out.Usage = resp.Usage
	out.Usage.Calls = 1
	if p, ok := g.cfg.Pricing.For(out.Model); ok {
		out.Usage.CostUSD = p.Cost(out.Usage)
	}

	if err != nil {
		out.Kind = OutcomeTransient
		out.Err = err
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			out.Err = fmt.Errorf("model call timed out after %s: %w", g.cfg.Timeout, err)
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			out.StatusCode = httpErr.StatusCode
		}
		return out
	}

	out.Text = resp.Text
	out.StopReason = resp.StopReason

	refused, truncated := classifyStop(resp.StopReason)
	switch {
	case refused:
		out.Kind = OutcomeRefused
		out.Message = strings.TrimSpace(resp.Text)
	case strings.TrimSpace(resp.Text) == "" && !truncated:
		out.Kind = OutcomeTransient
		out.Err = errEmptyResponse
	default:
		out.Kind = OutcomeOK
		out.Truncated = truncated
	}
	return out
}

var errEmptyResponse = errors.New("model returned no text")

// safeSend converts a transport panic into an error.
func (g *Gateway) safeSend(ctx context.Context, req TransportRequest) (resp TransportResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport %s panicked: %v", g.transport.Name(), r)
		}
	}()
	return g.transport.Send(ctx, req)
}

func (g *Gateway) clamp(maxTokens int) int {
	if g.cfg.MaxTokensCeiling > 0 && (maxTokens <= 0 || maxTokens > g.cfg.MaxTokensCeiling) {
		return g.cfg.MaxTokensCeiling
	}
	return maxTokens
}

// classifyStop maps a provider stop reason onto refusal and truncation.
func classifyStop(reason string) (refused, truncated bool) {
	switch strings.ToLower(reason) {
	case StopRefusal, StopContentFilter, StopSafety, "blocked":
		return true, false
	case StopMaxTokens, StopLength:
		return false, true
	default:
		return false, false
	}
}
