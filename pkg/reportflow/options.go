package reportflow

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	"github.com/randalmurphal/reportflow/pkg/reportflow/observability"
)

// DefaultMaxClarifications bounds how many questions one chain may ask.
const DefaultMaxClarifications = 2

// config holds Service configuration.
type config struct {
	logger              *slog.Logger
	metrics             observability.MetricsRecorder
	spans               observability.SpanManager
	maxClarifications   int
	recoveryConcurrency int
	now                 func() time.Time
	newID               func() string
	titlePaths          []string
	headlinePaths       []string
}

// defaultConfig returns the default service configuration.
func defaultConfig() config {
	return config{
		logger:              slog.Default(),
		metrics:             observability.NoopMetrics{},
		spans:               observability.NoopSpanManager{},
		maxClarifications:   DefaultMaxClarifications,
		recoveryConcurrency: 4,
		now:                 time.Now,
		newID:               uuid.NewString,
		titlePaths:          []string{catalog.TitlePath, catalog.FramingTitlePath},
		headlinePaths:       []string{catalog.HeadlinePath},
	}
}

// Option configures a Service.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing sets the span manager.
func WithTracing(s observability.SpanManager) Option {
	return func(c *config) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithMaxClarifications sets how many questions a chain may ask.
// Default: 2
//
// Once the bound is reached a further request from the clarifying stage is
// ignored, its output is merged with clarification_skipped=true, and the
// chain proceeds. Zero disables clarification.
func WithMaxClarifications(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxClarifications = n
		}
	}
}

// WithRecoveryConcurrency bounds how many chains RecoverAll drives at once.
// Default: 4
func WithRecoveryConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.recoveryConcurrency = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator sets how StartChain names reports when no ID is given.
func WithIDGenerator(fn func() string) Option {
	return func(c *config) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithTitleFields sets the stage-qualified paths the progress record reads
// its title and headline from. The first non-empty path wins.
func WithTitleFields(title, headline []string) Option {
	return func(c *config) {
		if len(title) > 0 {
			c.titlePaths = append([]string(nil), title...)
		}
		if len(headline) > 0 {
			c.headlinePaths = append([]string(nil), headline...)
		}
	}
}
