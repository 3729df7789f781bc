package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// Anthropic is a direct HTTP client for Anthropic's Messages API. It marks
// the cacheable prefix with cache_control, which langchaingo does not expose.
type Anthropic struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

var _ Transport = (*Anthropic)(nil)

// AnthropicOption configures Anthropic.
type AnthropicOption func(*Anthropic)

// WithAPIURL overrides the Messages endpoint.
func WithAPIURL(url string) AnthropicOption {
	return func(a *Anthropic) { a.url = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *Anthropic) { a.httpClient = c }
}

// NewAnthropic creates a direct Anthropic transport. An empty key falls back
// to ANTHROPIC_API_KEY.
func NewAnthropic(apiKey string, opts ...AnthropicOption) *Anthropic {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	a := &Anthropic{
		apiKey:     apiKey,
		url:        anthropicAPIURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicTextBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string               `json:"role"`
	Content []anthropicTextBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      []anthropicTextBlock `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (u anthropicUsage) toUsage() Usage {
	return Usage{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheReadTokens:  u.CacheReadInputTokens,
		CacheWriteTokens: u.CacheCreationInputTokens,
	}
}

type anthropicResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// streamEvent is one server-sent event from the streaming Messages API.
type streamEvent struct {
	Type    string             `json:"type"`
	Message *anthropicResponse `json:"message,omitempty"`
	Delta   *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Name implements Transport.
func (a *Anthropic) Name() string {
	return "anthropic"
}

// Send implements Transport.
func (a *Anthropic) Send(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	if a.apiKey == "" {
		return TransportResponse{}, &HTTPError{StatusCode: http.StatusUnauthorized, Body: "no API key configured"}
	}

	body, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return TransportResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return TransportResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return TransportResponse{}, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errResp anthropicErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			return TransportResponse{}, &HTTPError{StatusCode: resp.StatusCode, Body: errResp.Error.Message}
		}
		return TransportResponse{}, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if req.Stream {
		return readStream(resp.Body)
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return TransportResponse{}, fmt.Errorf("parse response: %w", err)
	}

	var text strings.Builder
	for _, part := range parsed.Content {
		if part.Type == "text" {
			text.WriteString(part.Text)
		}
	}
	return TransportResponse{
		Text:       text.String(),
		StopReason: parsed.StopReason,
		Model:      parsed.Model,
		Usage:      parsed.Usage.toUsage(),
	}, nil
}

func (a *Anthropic) buildRequest(req TransportRequest) anthropicRequest {
	var system []anthropicTextBlock
	if req.CacheablePrefix != "" {
		system = append(system, anthropicTextBlock{
			Type:         "text",
			Text:         req.CacheablePrefix,
			CacheControl: &anthropicCacheControl{Type: "ephemeral"},
		})
	}
	if req.System != "" {
		system = append(system, anthropicTextBlock{Type: "text", Text: req.System})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	out := anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicTextBlock{{Type: "text", Text: req.User}},
		}},
		Stream: req.Stream,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	return out
}

// readStream assembles a streamed Messages response. Partial text and usage
// are returned alongside a mid-stream error so the caller can still bill it.
func readStream(r io.Reader) (TransportResponse, error) {
	var (
		out  TransportResponse
		text strings.Builder
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				out.Model = ev.Message.Model
				out.Usage = ev.Message.Usage.toUsage()
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" {
				text.WriteString(ev.Delta.Text)
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				out.StopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				out.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "error":
			out.Text = text.String()
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			return out, fmt.Errorf("anthropic %s", msg)
		}
	}

	out.Text = text.String()
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read stream: %w", err)
	}
	return out, nil
}
