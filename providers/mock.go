package providers

import (
	"context"
	"sync"
)

// MockClient is a scripted ReasoningClient for tests and offline runs. It
// replays queued responses in order, falling back to a canned answer.
type MockClient struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	Calls     []Request
}

// NewMockClient creates an empty mock client
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Queue appends a scripted response (or error when err is non-nil)
func (m *MockClient) Queue(resp *Response, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, err)
}

// Complete replays the next scripted response
func (m *MockClient) Complete(_ context.Context, _ *Selection, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if len(m.responses) == 0 {
		return &Response{Text: "ok", Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}

	resp, err := m.responses[0], m.errs[0]
	m.responses = m.responses[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return nil, err
	}
	return resp, nil
}
