package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/randalmurphal/reportflow/pkg/reportflow"
	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	"github.com/randalmurphal/reportflow/pkg/reportflow/checkpoint"
	"github.com/randalmurphal/reportflow/pkg/reportflow/config"
	"github.com/randalmurphal/reportflow/pkg/reportflow/database"
	"github.com/randalmurphal/reportflow/pkg/reportflow/durable"
	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
	"github.com/randalmurphal/reportflow/pkg/reportflow/observability"
	"github.com/randalmurphal/reportflow/pkg/reportflow/signal"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/store"
)

// app is a fully wired service and the resources it holds.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	svc      *reportflow.Service

	db        *sql.DB
	telemetry func(context.Context) error
}

func newApp(ctx context.Context, s config.Settings) (*app, error) {
	logger := newLogger(s.Log)
	a := &app{settings: s, logger: logger, telemetry: func(context.Context) error { return nil }}

	var metrics observability.MetricsRecorder = observability.NoopMetrics{}
	var spans observability.SpanManager = observability.NoopSpanManager{}
	if s.Telemetry.Enabled {
		shutdown, err := setupTelemetry(ctx, logger)
		if err != nil {
			return nil, err
		}
		a.telemetry = shutdown
		metrics = observability.NewMetricsRecorder()
		spans = observability.NewSpanManager()
	}

	transport, err := newTransport(s.Gateway)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}
	gw := gateway.New(transport, s.GatewayConfig(),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithTracing(spans),
	)
	exec := stage.NewExecutor(gw,
		stage.WithLogger(logger),
		stage.WithMetrics(metrics),
		stage.WithTracing(spans),
		stage.WithRetry(rferrors.RetryConfig{
			InitialBackoff: s.Executor.InitialBackoff,
			MaxBackoff:     s.Executor.MaxBackoff,
			BackoffFactor:  s.Executor.BackoffFactor,
			Jitter:         s.Executor.Jitter,
		}),
		stage.WithRetryOnTruncation(s.Executor.RetryOnTruncation),
		stage.WithWindowStep(s.Executor.WindowStep),
	)

	graph, err := reportflow.NewGraph().
		AddStages(catalog.Default(catalog.WithTokenTiers(s.Executor.TokenTiers))...).
		Compile()
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}

	var (
		journal checkpoint.Store
		events  signal.Store
		chains  store.Store
	)
	switch s.Store.Driver {
	case "memory":
		journal, events, chains = checkpoint.NewMemoryStore(), signal.NewMemoryStore(), store.NewMemoryStore()
	case "sqlite":
		db, err := database.Open(s.Store.Path)
		if err != nil {
			return nil, errors.Join(err, a.close(ctx))
		}
		a.db = db
		journal, events, chains = checkpoint.NewSQLiteStore(db), signal.NewSQLiteStore(db), store.NewSQLiteStore(db)
	default:
		return nil, errors.Join(fmt.Errorf("unknown store driver %q", s.Store.Driver), a.close(ctx))
	}

	engine := durable.New(journal, events, durable.WithLogger(logger))
	a.svc = reportflow.New(graph, exec, engine, chains,
		reportflow.WithLogger(logger),
		reportflow.WithMetrics(metrics),
		reportflow.WithTracing(spans),
		reportflow.WithMaxClarifications(s.Chain.MaxClarifications),
		reportflow.WithRecoveryConcurrency(s.Chain.RecoveryConcurrency),
	)
	logger.Debug("service ready",
		slog.String("provider", transport.Name()),
		slog.String("store", s.Store.Driver),
		slog.Int("stages", graph.Len()),
	)
	return a, nil
}

// close stops every driver and releases resources. It is safe on a
// partially built app.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, a.telemetry(ctx))
	return errors.Join(errs...)
}

// withApp loads settings, builds the app, runs fn and tears everything down.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, s)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, a), a.close(context.WithoutCancel(ctx)))
}

func newLogger(s config.LogSettings) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if s.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newTransport(s config.GatewaySettings) (gateway.Transport, error) {
	switch s.Provider {
	case "anthropic":
		var opts []gateway.AnthropicOption
		if s.BaseURL != "" {
			opts = append(opts, gateway.WithAPIURL(s.BaseURL))
		}
		return gateway.NewAnthropic(s.APIKey, opts...), nil
	case "langchain-anthropic", "openai", "ollama":
		lc, err := gateway.NewLangChainProvider(gateway.ProviderConfig{
			Provider: strings.TrimPrefix(s.Provider, "langchain-"),
			Model:    s.Model,
			APIKey:   s.APIKey,
			BaseURL:  s.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return lc, nil
	case "claude-cli":
		opts := []gateway.ClaudeOption{gateway.WithCLITimeout(s.Timeout)}
		if s.ClaudePath != "" {
			opts = append(opts, gateway.WithClaudePath(s.ClaudePath))
		}
		return gateway.NewClaudeCLI(opts...), nil
	case "mock":
		mock := gateway.NewMock("")
		for name, text := range catalog.Samples() {
			mock.WithStage(name, gateway.MockResponse{Text: text})
		}
		return mock, nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", s.Provider)
	}
}
