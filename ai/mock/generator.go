package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/poiesic/ragify/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateJSONFunc is called by GenerateJSON if set.
	// If nil, Response is decoded into out.
	GenerateJSONFunc func(ctx context.Context, req ai.GenerationRequest, out any) error

	// Response is the JSON document returned by default.
	Response string

	mu        sync.Mutex
	callCount int
	requests  []ai.GenerationRequest
}

// NewMockGenerator creates a mock generator answering with an empty JSON object.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{Response: "{}"}
}

// GenerateJSON records the request and returns the configured response.
func (m *MockGenerator) GenerateJSON(ctx context.Context, req ai.GenerationRequest, out any) error {
	m.mu.Lock()
	m.callCount++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateJSONFunc != nil {
		return m.GenerateJSONFunc(ctx, req, out)
	}
	return json.Unmarshal([]byte(m.Response), out)
}

// CallCount returns the number of GenerateJSON calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest returns the most recent request, if any.
func (m *MockGenerator) LastRequest() (ai.GenerationRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ai.GenerationRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// Reset clears recorded calls and custom behavior.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.requests = nil
	m.GenerateJSONFunc = nil
}
