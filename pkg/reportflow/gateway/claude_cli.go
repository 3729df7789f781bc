package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ClaudeCLI sends requests through the claude binary in print mode. It suits
// local runs where credentials live with the CLI rather than in config.
type ClaudeCLI struct {
	path    string
	workdir string
	timeout time.Duration
}

var _ Transport = (*ClaudeCLI)(nil)

// ClaudeOption configures ClaudeCLI.
type ClaudeOption func(*ClaudeCLI)

// NewClaudeCLI creates a CLI transport.
// Assumes "claude" is available in PATH unless overridden with WithClaudePath.
func NewClaudeCLI(opts ...ClaudeOption) *ClaudeCLI {
	c := &ClaudeCLI{
		path:    "claude",
		timeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithClaudePath sets the path to the claude binary.
func WithClaudePath(path string) ClaudeOption {
	return func(c *ClaudeCLI) { c.path = path }
}

// WithWorkdir sets the working directory for claude commands.
func WithWorkdir(dir string) ClaudeOption {
	return func(c *ClaudeCLI) { c.workdir = dir }
}

// WithCLITimeout bounds each process run.
func WithCLITimeout(d time.Duration) ClaudeOption {
	return func(c *ClaudeCLI) { c.timeout = d }
}

// Name implements Transport.
func (c *ClaudeCLI) Name() string {
	return "claude-cli"
}

// Send implements Transport.
func (c *ClaudeCLI) Send(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.path, c.buildArgs(req)...)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return TransportResponse{}, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if code := statusFromMessage(msg); code != 0 {
			return TransportResponse{}, &HTTPError{StatusCode: code, Body: msg}
		}
		return TransportResponse{}, fmt.Errorf("claude cli: %w: %s", err, msg)
	}

	return parseCLIOutput(stdout.Bytes(), req.Model), nil
}

// buildArgs constructs CLI arguments from a request.
func (c *ClaudeCLI) buildArgs(req TransportRequest) []string {
	args := []string{"--print", "--output-format", "json"}
	if system := systemText(req); system != "" {
		args = append(args, "--system-prompt", system)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return append(args, "-p", req.User)
}

// cliResult is the envelope printed by --output-format json.
type cliResult struct {
	Result     string `json:"result"`
	StopReason string `json:"stop_reason"`
	IsError    bool   `json:"is_error"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

// parseCLIOutput reads the JSON envelope, or treats the output as plain text
// when the binary does not print one.
func parseCLIOutput(data []byte, model string) TransportResponse {
	var env cliResult
	if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil || (env.Result == "" && env.StopReason == "") {
		return TransportResponse{
			Text:       strings.TrimSpace(string(data)),
			StopReason: StopEndTurn,
			Model:      model,
		}
	}

	stop := env.StopReason
	if stop == "" {
		stop = StopEndTurn
	}
	return TransportResponse{
		Text:       env.Result,
		StopReason: stop,
		Model:      model,
		Usage: Usage{
			InputTokens:      env.Usage.InputTokens,
			OutputTokens:     env.Usage.OutputTokens,
			CacheReadTokens:  env.Usage.CacheReadInputTokens,
			CacheWriteTokens: env.Usage.CacheCreationInputTokens,
		},
	}
}

// statusFromMessage recognises overload and rate-limit failures in CLI output.
func statusFromMessage(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"):
		return 429
	case strings.Contains(lower, "overloaded"), strings.Contains(lower, "529"):
		return 529
	case strings.Contains(lower, "503"):
		return 503
	default:
		return 0
	}
}
