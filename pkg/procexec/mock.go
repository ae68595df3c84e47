package procexec

import (
	"context"
	"sync"
)

// MockRunner is a Runner for tests. It records every invocation and answers
// with RunFunc, or with a zero-exit empty Result when RunFunc is nil.
type MockRunner struct {
	RunFunc func(ctx context.Context, inv Invocation) (*Result, error)

	mu    sync.Mutex
	calls []Invocation
}

// Run records the invocation and delegates to RunFunc.
func (m *MockRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, inv)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, inv)
	}
	return &Result{}, nil
}

// Calls returns a copy of the recorded invocations in call order.
func (m *MockRunner) Calls() []Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Invocation, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded invocations.
func (m *MockRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
