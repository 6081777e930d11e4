package mocks

import (
	"context"
	"sync"

	"github.com/quantfleet/quantfleet/registry"
)

// InvokedCall is one recorded transport invocation.
type InvokedCall struct {
	Endpoint  string
	Operation string
	Params    map[string]any
}

// MockInvoker is a scriptable registry.Invoker keyed by operation name.
// Operations without a scripted result answer {"status": "healthy"} so
// health probes pass by default.
type MockInvoker struct {
	mu      sync.Mutex
	results map[string]map[string]any
	errs    map[string]error
	calls   []InvokedCall
}

// NewMockInvoker returns an empty invoker.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		results: make(map[string]map[string]any),
		errs:    make(map[string]error),
	}
}

// WithResult scripts a successful response for operation.
func (m *MockInvoker) WithResult(operation string, result map[string]any) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[operation] = result
	return m
}

// WithError scripts a failure for operation.
func (m *MockInvoker) WithError(operation string, err error) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[operation] = err
	return m
}

// Invoke implements registry.Invoker.
func (m *MockInvoker) Invoke(_ context.Context, endpoint string, req *registry.Request) (*registry.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, InvokedCall{Endpoint: endpoint, Operation: req.Operation, Params: req.Params})
	if err, ok := m.errs[req.Operation]; ok {
		return nil, err
	}
	if result, ok := m.results[req.Operation]; ok {
		return &registry.Response{Result: result}, nil
	}
	return &registry.Response{Result: map[string]any{"status": "healthy"}}, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockInvoker) Calls() []InvokedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InvokedCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times operation was invoked.
func (m *MockInvoker) CallCount(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Operation == operation {
			n++
		}
	}
	return n
}
