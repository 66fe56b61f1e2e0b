package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockLLMClient returns queued responses in order, for tests. Safe for
// concurrent use.
type MockLLMClient struct {
	mu        sync.Mutex
	responses []mockResponse
	calls     int
	requests  []*JSONRequest
}

type mockResponse struct {
	json string
	err  error
}

// NewMockLLMClient creates an empty mock; queue responses before use.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{}
}

// QueueJSON appends a successful JSON response.
func (m *MockLLMClient) QueueJSON(jsonText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{json: jsonText})
}

// QueueError appends a failing response.
func (m *MockLLMClient) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
}

// Calls reports how many times CompleteJSON was invoked.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the captured requests, in call order.
func (m *MockLLMClient) Requests() []*JSONRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*JSONRequest(nil), m.requests...)
}

func (m *MockLLMClient) Name() string { return "mock" }

func (m *MockLLMClient) CompleteJSON(ctx context.Context, req *JSONRequest) (*JSONResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.calls >= len(m.responses) {
		m.calls++
		return nil, fmt.Errorf("mock: no response queued for call %d", m.calls)
	}
	resp := m.responses[m.calls]
	m.calls++

	if resp.err != nil {
		return nil, resp.err
	}
	return &JSONResult{JSON: json.RawMessage(resp.json), RawText: resp.json}, nil
}
