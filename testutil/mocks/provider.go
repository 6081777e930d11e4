// Package mocks provides builder-style fakes for the external collaborators:
// the LLM provider and the service transport.
package mocks

import (
	"context"
	"sync"

	"github.com/quantfleet/quantfleet/llm"
)

// MockProvider is a scriptable llm.Provider. Configure it with the With*
// builders, then inspect CompleteCalls/EmbedCalls after the exercise.
type MockProvider struct {
	mu         sync.Mutex
	content    string
	confidence float64
	reasoning  []string
	embedding  []float64

	completeErr error
	embedErr    error

	completeCalls []llm.CompletionRequest
	embedCalls    []string
}

// NewMockProvider returns a provider with a fixed tiny embedding and an
// "ok" completion.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		content:   "ok",
		embedding: []float64{0.1, 0.2, 0.3},
	}
}

// WithCompletion sets the completion content.
func (m *MockProvider) WithCompletion(content string) *MockProvider {
	m.content = content
	return m
}

// WithConfidence sets the completion confidence.
func (m *MockProvider) WithConfidence(confidence float64) *MockProvider {
	m.confidence = confidence
	return m
}

// WithReasoning sets the completion reasoning trace.
func (m *MockProvider) WithReasoning(steps ...string) *MockProvider {
	m.reasoning = steps
	return m
}

// WithEmbedding sets the vector returned by Embed.
func (m *MockProvider) WithEmbedding(vec []float64) *MockProvider {
	m.embedding = vec
	return m
}

// WithCompleteError makes Complete fail.
func (m *MockProvider) WithCompleteError(err error) *MockProvider {
	m.completeErr = err
	return m
}

// WithEmbedError makes Embed fail.
func (m *MockProvider) WithEmbedError(err error) *MockProvider {
	m.embedErr = err
	return m
}

// Complete implements llm.Provider.
func (m *MockProvider) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls = append(m.completeCalls, *req)
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return &llm.CompletionResponse{
		Content:    m.content,
		Confidence: m.confidence,
		Reasoning:  m.reasoning,
	}, nil
}

// Embed implements llm.Provider.
func (m *MockProvider) Embed(_ context.Context, text string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls = append(m.embedCalls, text)
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	out := make([]float64, len(m.embedding))
	copy(out, m.embedding)
	return out, nil
}

// CompleteCalls returns a copy of the recorded completion requests.
func (m *MockProvider) CompleteCalls() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CompletionRequest, len(m.completeCalls))
	copy(out, m.completeCalls)
	return out
}

// EmbedCalls returns a copy of the recorded embed inputs.
func (m *MockProvider) EmbedCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.embedCalls))
	copy(out, m.embedCalls)
	return out
}
