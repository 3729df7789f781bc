package gateway

import (
	"context"
	"sync"
	"time"
)

// MockResponse is one scripted answer.
type MockResponse struct {
	Text       string
	StopReason string
	Usage      Usage
	Err        error
	Delay      time.Duration
}

// Mock is a scripted Transport for tests and examples.
//
// Responses are chosen in this order: the send func, the fixed error, the
// per-stage script, the cycling response list, then the fixed text.
type Mock struct {
	mu        sync.Mutex
	text      string
	responses []string
	next      int
	err       error
	sendFunc  func(ctx context.Context, req TransportRequest) (TransportResponse, error)
	scripts   map[string][]MockResponse
	calls     []TransportRequest
}

var _ Transport = (*Mock)(nil)

// NewMock returns a mock that answers every call with text.
func NewMock(text string) *Mock {
	return &Mock{text: text, scripts: make(map[string][]MockResponse)}
}

// WithResponses cycles through texts on successive calls.
func (m *Mock) WithResponses(texts ...string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = texts
	m.next = 0
	return m
}

// WithError fails every call with err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithSendFunc delegates every call to fn.
func (m *Mock) WithSendFunc(fn func(ctx context.Context, req TransportRequest) (TransportResponse, error)) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = fn
	return m
}

// WithStage scripts the answers for one stage. They are consumed in order and
// the last one repeats.
func (m *Mock) WithStage(stage string, responses ...MockResponse) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[stage] = append([]MockResponse(nil), responses...)
	return m
}

// Name implements Transport.
func (m *Mock) Name() string {
	return "mock"
}

// Send implements Transport.
func (m *Mock) Send(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.sendFunc
	resp := m.pickLocked(req.Stage)
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return TransportResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return TransportResponse{}, err
	}
	if resp.Err != nil {
		return TransportResponse{Model: req.Model, Usage: resp.Usage}, resp.Err
	}

	usage := resp.Usage
	if usage.IsZero() {
		usage = Usage{
			InputTokens:  estimateTokens(req.System) + estimateTokens(req.User),
			OutputTokens: estimateTokens(resp.Text),
		}
		if req.CacheablePrefix != "" {
			usage.CacheReadTokens = estimateTokens(req.CacheablePrefix)
		}
	}
	stop := resp.StopReason
	if stop == "" {
		stop = StopEndTurn
	}
	return TransportResponse{Text: resp.Text, StopReason: stop, Model: req.Model, Usage: usage}, nil
}

func (m *Mock) pickLocked(stage string) MockResponse {
	if m.err != nil {
		return MockResponse{Err: m.err}
	}
	if script := m.scripts[stage]; len(script) > 0 {
		r := script[0]
		if len(script) > 1 {
			m.scripts[stage] = script[1:]
		}
		return r
	}
	if len(m.responses) > 0 {
		r := m.responses[m.next%len(m.responses)]
		m.next++
		return MockResponse{Text: r}
	}
	return MockResponse{Text: m.text}
}

// CallCount returns the number of Send calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsFor returns the number of Send calls for one stage.
func (m *Mock) CallsFor(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Stage == stage {
			n++
		}
	}
	return n
}

// Calls returns a copy of every request received.
func (m *Mock) Calls() []TransportRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransportRequest(nil), m.calls...)
}

// LastCall returns the most recent request, or nil.
func (m *Mock) LastCall() *TransportRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Reset clears recorded calls and rewinds the response cycle.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.next = 0
}

// estimateTokens approximates a token count at four bytes per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
