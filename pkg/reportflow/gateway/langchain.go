package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain sends requests through any langchaingo model.
type LangChain struct {
	name  string
	model llms.Model
}

var _ Transport = (*LangChain)(nil)

// NewLangChain wraps an already constructed langchaingo model.
func NewLangChain(name string, model llms.Model) *LangChain {
	return &LangChain{name: name, model: model}
}

// ProviderConfig selects and configures a langchaingo provider.
type ProviderConfig struct {
	// Provider is "anthropic", "openai", or "ollama".
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewLangChainProvider builds a LangChain transport for a named provider.
// Empty API keys fall back to the provider's usual environment variable.
func NewLangChainProvider(cfg ProviderConfig) (*LangChain, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		opts := []anthropic.Option{anthropic.WithToken(key)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		m, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		return NewLangChain("anthropic", m), nil

	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		opts := []openai.Option{openai.WithToken(key)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return NewLangChain("openai", m), nil

	case "ollama":
		serverURL := cfg.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		opts := []ollama.Option{ollama.WithServerURL(serverURL)}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("ollama provider: %w", err)
		}
		return NewLangChain("ollama", m), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Name implements Transport.
func (l *LangChain) Name() string {
	return l.name
}

// Send implements Transport.
func (l *LangChain) Send(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemText(req))},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(req.User)},
		},
	}

	callOpts := []llms.CallOption{llms.WithMaxTokens(req.MaxTokens)}
	if req.Model != "" {
		callOpts = append(callOpts, llms.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(req.Temperature))
	}

	var streamed strings.Builder
	if req.Stream {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			streamed.Write(chunk)
			return nil
		}))
	}

	resp, err := l.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return TransportResponse{}, fmt.Errorf("%s generate: %w", l.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return TransportResponse{}, fmt.Errorf("%s generate: response had no choices", l.name)
	}

	choice := resp.Choices[0]
	text := choice.Content
	if text == "" && streamed.Len() > 0 {
		text = streamed.String()
	}

	return TransportResponse{
		Text:       text,
		StopReason: choice.StopReason,
		Model:      req.Model,
		Usage:      usageFromInfo(choice.GenerationInfo),
	}, nil
}

// usageFromInfo reads token counts from a langchaingo GenerationInfo map.
// Providers use different keys for the same counts.
func usageFromInfo(info map[string]any) Usage {
	return Usage{
		InputTokens:      intFromInfo(info, "InputTokens", "PromptTokens", "input_tokens"),
		OutputTokens:     intFromInfo(info, "OutputTokens", "CompletionTokens", "output_tokens"),
		CacheReadTokens:  intFromInfo(info, "CacheReadInputTokens", "PromptCachedTokens", "cache_read_input_tokens"),
		CacheWriteTokens: intFromInfo(info, "CacheCreationInputTokens", "cache_creation_input_tokens"),
	}
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
