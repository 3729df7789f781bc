package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStop(t *testing.T) {
	tests := []struct {
		reason             string
		refused, truncated bool
	}{
		{"end_turn", false, false},
		{"", false, false},
		{"max_tokens", false, true},
		{"LENGTH", false, true},
		{"refusal", true, false},
		{"content_filter", true, false},
		{"blocked", true, false},
	}
	for _, tt := range tests {
		refused, truncated := classifyStop(tt.reason)
		assert.Equal(t, tt.refused, refused, tt.reason)
		assert.Equal(t, tt.truncated, truncated, tt.reason)
	}
}

func TestSystemText(t *testing.T) {
	assert.Equal(t, "s", systemText(TransportRequest{System: "s"}))
	assert.Equal(t, "p", systemText(TransportRequest{CacheablePrefix: "p"}))
	assert.Equal(t, "p\n\ns", systemText(TransportRequest{CacheablePrefix: "p", System: "s"}))
}

func TestReadStream_ErrorEvent(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"message_start","message":{"model":"m","usage":{"input_tokens":3}}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"{\"a\""}}`,
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	}, "\n")

	resp, err := readStream(strings.NewReader(body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")
	assert.Equal(t, `{"a"`, resp.Text)
	assert.Equal(t, 3, resp.Usage.InputTokens)
}

func TestClaudeCLI_BuildArgs(t *testing.T) {
	c := NewClaudeCLI()
	args := c.buildArgs(TransportRequest{CacheablePrefix: "p", System: "s", Model: "m", User: "u"})
	assert.Equal(t, []string{
		"--print", "--output-format", "json",
		"--system-prompt", "p\n\ns",
		"--model", "m",
		"-p", "u",
	}, args)
}

func TestParseCLIOutput(t *testing.T) {
	resp := parseCLIOutput([]byte(`{"result":"{\"k\":1}","stop_reason":"max_tokens","usage":{"input_tokens":7,"output_tokens":3}}`), "m")
	assert.Equal(t, `{"k":1}`, resp.Text)
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, 7, resp.Usage.InputTokens)

	plain := parseCLIOutput([]byte("  plain text\n"), "m")
	assert.Equal(t, "plain text", plain.Text)
	assert.Equal(t, StopEndTurn, plain.StopReason)
}

func TestStatusFromMessage(t *testing.T) {
	assert.Equal(t, 429, statusFromMessage("Rate limit exceeded"))
	assert.Equal(t, 529, statusFromMessage("API overloaded"))
	assert.Equal(t, 503, statusFromMessage("HTTP 503"))
	assert.Equal(t, 0, statusFromMessage("bad flag"))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestClaudeCLI_Send(t *testing.T) {
	path := writeScript(t, `printf '%s\n' '{"result":"done","stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":2}}'`)

	resp, err := NewClaudeCLI(WithClaudePath(path)).Send(context.Background(), TransportRequest{User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}

func TestClaudeCLI_SendRateLimited(t *testing.T) {
	path := writeScript(t, `echo "rate limit exceeded" >&2; exit 1`)

	_, err := NewClaudeCLI(WithClaudePath(path)).Send(context.Background(), TransportRequest{User: "u"})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 429, httpErr.StatusCode)
}
