package gateway

import (
	"context"
	"fmt"
)

// Stop reasons reported by providers. Providers disagree on names, so the
// Gateway accepts several spellings of each.
const (
	StopEndTurn       = "end_turn"
	StopMaxTokens     = "max_tokens"
	StopLength        = "length"
	StopRefusal       = "refusal"
	StopContentFilter = "content_filter"
	StopSafety        = "safety"
)

// TransportRequest is a single provider call as the Gateway issues it.
type TransportRequest struct {
	Stage string `json:"stage"`
	Model string `json:"model"`

	// System is the per-stage system prompt. CacheablePrefix, when set, is a
	// stable preamble shared by many calls that providers may cache.
	System          string `json:"system"`
	CacheablePrefix string `json:"cacheable_prefix,omitempty"`

	User        string  `json:"user"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature,omitempty"`

	// Stream asks the transport to use its streaming mode. The response is
	// still returned fully assembled.
	Stream bool `json:"stream,omitempty"`
}

// TransportResponse is a provider's raw answer.
type TransportResponse struct {
	Text       string
	StopReason string
	Model      string
	Usage      Usage
}

// Transport sends one request to a model provider.
//
// Implementations return an error only for failures where no usable answer
// exists (network, HTTP status, malformed envelope). Refusals and truncation
// are reported through StopReason.
type Transport interface {
	Name() string
	Send(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// HTTPError is a non-success status from a provider API.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

// systemText joins the cacheable prefix and the stage prompt for transports
// that take a single system string.
func systemText(req TransportRequest) string {
	switch {
	case req.CacheablePrefix == "":
		return req.System
	case req.System == "":
		return req.CacheablePrefix
	default:
		return req.CacheablePrefix + "\n\n" + req.System
	}
}
