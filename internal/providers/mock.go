package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockName = "mock"

// MockInvoker is a scripted Invoker for tests and dry runs.
//
// Call n returns Responses[n] and Errors[n] when present. Past the end of
// Responses it repeats Default.
type MockInvoker struct {
	// Configurable behavior
	Latency   time.Duration
	Responses []string
	Errors    []error
	Default   string

	// State
	requestCount atomic.Int64
	mu           sync.Mutex
	calls        []MockCall
}

// MockCall is one request seen by a MockInvoker.
type MockCall struct {
	Chunk  string
	Prompt string
	Model  string
}

// NewMockInvoker creates a mock returning the given responses in order.
func NewMockInvoker(responses ...string) *MockInvoker {
	return &MockInvoker{Responses: responses}
}

// Name returns the client identifier.
func (m *MockInvoker) Name() string {
	return MockName
}

// Invoke returns the next scripted response.
func (m *MockInvoker) Invoke(ctx context.Context, chunk, prompt, model string) (string, error) {
	n := int(m.requestCount.Add(1)) - 1

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Chunk: chunk, Prompt: prompt, Model: model})
	m.mu.Unlock()

	// Simulate latency
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}

	if n < len(m.Errors) && m.Errors[n] != nil {
		return "", fmt.Errorf("mock call %d: %w", n+1, m.Errors[n])
	}
	if n < len(m.Responses) {
		return m.Responses[n], nil
	}
	return m.Default, nil
}

// RequestCount returns the number of requests made.
func (m *MockInvoker) RequestCount() int64 {
	return m.requestCount.Load()
}

// Calls returns a copy of the requests seen so far.
func (m *MockInvoker) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset resets the request counter and call log.
func (m *MockInvoker) Reset() {
	m.requestCount.Store(0)
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// Verify interface
var _ Invoker = (*MockInvoker)(nil)
