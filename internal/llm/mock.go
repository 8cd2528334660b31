package llm

import (
	"context"
	"sync"
	"time"

	"mira/internal/logging"
)

// MockClient implements the Client interface for testing and for running
// without an API key. Tests can script replies or inject errors; unscripted
// calls return a canned completion.
type MockClient struct {
	// GenerateFunc, when set, handles calls directly.
	GenerateFunc func(ctx context.Context, req Request) (*Response, error)

	mu      sync.Mutex
	model   string
	replies []string
	err     error
	calls   []Request
	logger  logging.Logger
}

// NewMockClient creates a mock client reporting the given model name.
func NewMockClient(model string) *MockClient {
	if model == "" {
		model = "mock-model"
	}
	return &MockClient{
		model:  model,
		logger: logging.New("mock-llm"),
	}
}

// Enqueue appends scripted replies returned by subsequent Generate calls in order.
func (m *MockClient) Enqueue(replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// Fail makes every subsequent Generate call return err until cleared with nil.
func (m *MockClient) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of every request seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Generate returns the next scripted reply, the injected error, or a canned
// completion when nothing is scripted.
func (m *MockClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.GenerateFunc != nil {
		m.mu.Lock()
		m.calls = append(m.calls, req)
		m.mu.Unlock()
		return m.GenerateFunc(ctx, req)
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	if len(m.replies) > 0 {
		reply := m.replies[0]
		m.replies = m.replies[1:]
		m.mu.Unlock()
		return &Response{Content: reply, TokensUsed: len(reply) / 4}, nil
	}
	m.mu.Unlock()

	// Simulate a small delay to mimic real API behavior
	time.Sleep(10 * time.Millisecond)

	m.logger.Debug("returning canned response for model %s", m.model)

	return &Response{
		Content:    "This is a mock response. No API calls were made.",
		TokensUsed: 12,
	}, nil
}

// Model returns the configured model name
func (m *MockClient) Model() string {
	return m.model
}

var _ Client = (*MockClient)(nil)
