package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
)

// Settings is the complete typed configuration.
type Settings struct {
	Gateway   GatewaySettings            `mapstructure:"gateway" yaml:"gateway"`
	Executor  ExecutorSettings           `mapstructure:"executor" yaml:"executor"`
	Chain     ChainSettings              `mapstructure:"chain" yaml:"chain"`
	Store     StoreSettings              `mapstructure:"store" yaml:"store"`
	Server    ServerSettings             `mapstructure:"server" yaml:"server"`
	Log       LogSettings                `mapstructure:"log" yaml:"log"`
	Telemetry TelemetrySettings          `mapstructure:"telemetry" yaml:"telemetry"`
	Pricing   map[string]gateway.Pricing `mapstructure:"pricing" yaml:"pricing"`
}

// GatewaySettings selects the model transport and its limits.
type GatewaySettings struct {
	// Provider is one of: anthropic (direct API), langchain-anthropic,
	// openai, ollama, claude-cli, mock.
	Provider          string        `mapstructure:"provider" yaml:"provider" validate:"oneof=anthropic langchain-anthropic openai ollama claude-cli mock"`
	Model             string        `mapstructure:"model" yaml:"model" validate:"required"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	ClaudePath        string        `mapstructure:"claude_path" yaml:"claude_path"`
	MaxTokensCeiling  int           `mapstructure:"max_tokens_ceiling" yaml:"max_tokens_ceiling" validate:"min=256"`
	StreamThreshold   int           `mapstructure:"stream_threshold" yaml:"stream_threshold" validate:"min=0"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"min=0"`
	Burst             int           `mapstructure:"burst" yaml:"burst" validate:"min=1"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature" validate:"min=0,max=2"`
}

// ExecutorSettings tunes stage attempts.
type ExecutorSettings struct {
	// TokenTiers is the output budget per attempt for stages that do not
	// set their own.
	TokenTiers        []int         `mapstructure:"token_tiers" yaml:"token_tiers" validate:"min=1,dive,min=1"`
	RetryOnTruncation bool          `mapstructure:"retry_on_truncation" yaml:"retry_on_truncation"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff" validate:"min=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" validate:"min=0"`
	BackoffFactor     float64       `mapstructure:"backoff_factor" yaml:"backoff_factor" validate:"min=1"`
	Jitter            float64       `mapstructure:"jitter" yaml:"jitter" validate:"min=0,max=1"`
	WindowStep        int           `mapstructure:"window_step" yaml:"window_step" validate:"min=0"`
}

// ChainSettings tunes the orchestrator.
type ChainSettings struct {
	MaxClarifications   int    `mapstructure:"max_clarifications" yaml:"max_clarifications" validate:"min=0,max=10"`
	RecoveryConcurrency int    `mapstructure:"recovery_concurrency" yaml:"recovery_concurrency" validate:"min=1,max=64"`
	BenchmarkAccountID  string `mapstructure:"benchmark_account_id" yaml:"benchmark_account_id"`
}

// StoreSettings selects persistence.
type StoreSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory sqlite"`
	Path   string `mapstructure:"path" yaml:"path" validate:"required_if=Driver sqlite"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=1s"`
}

// LogSettings configures the slog handler built by the CLI.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// TelemetrySettings enables the OpenTelemetry SDK providers.
type TelemetrySettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Gateway: GatewaySettings{
			Provider:         "anthropic",
			Model:            "claude-sonnet-4-20250514",
			MaxTokensCeiling: 32000,
			StreamThreshold:  16000,
			Timeout:          10 * time.Minute,
			Burst:            1,
		},
		Executor: ExecutorSettings{
			TokenTiers:     []int{4096, 8192, 16384},
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2,
			Jitter:         0.1,
		},
		Chain: ChainSettings{
			MaxClarifications:   2,
			RecoveryConcurrency: 4,
			BenchmarkAccountID:  "benchmark",
		},
		Store: StoreSettings{
			Driver: "sqlite",
			Path:   ".reportflow/reportflow.db",
		},
		Server: ServerSettings{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// Apply overlays the values present in c onto s and returns the result.
func (s Settings) Apply(c Config) Settings {
	g := c.Section("gateway")
	s.Gateway.Provider = g.String("provider", s.Gateway.Provider)
	s.Gateway.Model = g.String("model", s.Gateway.Model)
	s.Gateway.APIKey = g.String("api_key", s.Gateway.APIKey)
	s.Gateway.BaseURL = g.String("base_url", s.Gateway.BaseURL)
	s.Gateway.ClaudePath = g.String("claude_path", s.Gateway.ClaudePath)
	s.Gateway.MaxTokensCeiling = g.Int("max_tokens_ceiling", s.Gateway.MaxTokensCeiling)
	s.Gateway.StreamThreshold = g.Int("stream_threshold", s.Gateway.StreamThreshold)
	s.Gateway.Timeout = g.Duration("timeout", s.Gateway.Timeout)
	s.Gateway.RequestsPerSecond = g.Float("requests_per_second", s.Gateway.RequestsPerSecond)
	s.Gateway.Burst = g.Int("burst", s.Gateway.Burst)
	s.Gateway.Temperature = g.Float("temperature", s.Gateway.Temperature)

	e := c.Section("executor")
	s.Executor.TokenTiers = e.IntSlice("token_tiers", s.Executor.TokenTiers)
	s.Executor.RetryOnTruncation = e.Bool("retry_on_truncation", s.Executor.RetryOnTruncation)
	s.Executor.InitialBackoff = e.Duration("initial_backoff", s.Executor.InitialBackoff)
	s.Executor.MaxBackoff = e.Duration("max_backoff", s.Executor.MaxBackoff)
	s.Executor.BackoffFactor = e.Float("backoff_factor", s.Executor.BackoffFactor)
	s.Executor.Jitter = e.Float("jitter", s.Executor.Jitter)
	s.Executor.WindowStep = e.Int("window_step", s.Executor.WindowStep)

	ch := c.Section("chain")
	s.Chain.MaxClarifications = ch.Int("max_clarifications", s.Chain.MaxClarifications)
	s.Chain.RecoveryConcurrency = ch.Int("recovery_concurrency", s.Chain.RecoveryConcurrency)
	s.Chain.BenchmarkAccountID = ch.String("benchmark_account_id", s.Chain.BenchmarkAccountID)

	st := c.Section("store")
	s.Store.Driver = st.String("driver", s.Store.Driver)
	s.Store.Path = st.String("path", s.Store.Path)

	sv := c.Section("server")
	s.Server.Addr = sv.String("addr", s.Server.Addr)
	s.Server.ReadTimeout = sv.Duration("read_timeout", s.Server.ReadTimeout)
	s.Server.WriteTimeout = sv.Duration("write_timeout", s.Server.WriteTimeout)
	s.Server.ShutdownTimeout = sv.Duration("shutdown_timeout", s.Server.ShutdownTimeout)

	l := c.Section("log")
	s.Log.Level = strings.ToLower(l.String("level", s.Log.Level))
	s.Log.Format = strings.ToLower(l.String("format", s.Log.Format))

	s.Telemetry.Enabled = c.Bool("telemetry.enabled", s.Telemetry.Enabled)

	if p := c.Section("pricing"); len(p.Keys()) > 0 {
		table := make(map[string]gateway.Pricing, len(s.Pricing)+len(p.Keys()))
		for k, v := range s.Pricing {
			table[k] = v
		}
		for _, model := range p.Keys() {
			m := p.Section(model)
			table[model] = gateway.Pricing{
				InputPerMTok:      m.Float("input_per_mtok", 0),
				OutputPerMTok:     m.Float("output_per_mtok", 0),
				CacheReadPerMTok:  m.Float("cache_read_per_mtok", 0),
				CacheWritePerMTok: m.Float("cache_write_per_mtok", 0),
			}
		}
		s.Pricing = table
	}
	return s
}

// PriceTable returns the default prices with configured overrides applied.
func (s Settings) PriceTable() gateway.PriceTable {
	table := make(gateway.PriceTable, len(gateway.DefaultPricing)+len(s.Pricing))
	for k, v := range gateway.DefaultPricing {
		table[k] = v
	}
	for k, v := range s.Pricing {
		table[k] = v
	}
	return table
}

// GatewayConfig converts the gateway settings.
func (s Settings) GatewayConfig() gateway.Config {
	return gateway.Config{
		Model:             s.Gateway.Model,
		MaxTokensCeiling:  s.Gateway.MaxTokensCeiling,
		StreamThreshold:   s.Gateway.StreamThreshold,
		Timeout:           s.Gateway.Timeout,
		RequestsPerSecond: s.Gateway.RequestsPerSecond,
		Burst:             s.Gateway.Burst,
		Pricing:           s.PriceTable(),
		Temperature:       s.Gateway.Temperature,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and reports all problems at once.
func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return s.validateRelations()
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validation error: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (s Settings) validateRelations() error {
	if s.Executor.MaxBackoff > 0 && s.Executor.MaxBackoff < s.Executor.InitialBackoff {
		return errors.New("configuration validation failed:\n  - executor.max_backoff must be at least executor.initial_backoff")
	}
	for i := 1; i < len(s.Executor.TokenTiers); i++ {
		if s.Executor.TokenTiers[i] < s.Executor.TokenTiers[i-1] {
			return errors.New("configuration validation failed:\n  - executor.token_tiers must not decrease")
		}
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	path := fieldPath(e.Namespace())
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", path)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", path, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", path, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", path, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", path, e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", path, e.Tag(), e.Value())
	}
}

// fieldPath turns "Settings.Gateway.MaxTokensCeiling" into
// "gateway.max_tokens_ceiling".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) <= 1 {
		return namespace
	}
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		out = append(out, snake(p))
	}
	return strings.Join(out, ".")
}

func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
