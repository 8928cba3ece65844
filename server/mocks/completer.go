package mocks

import (
	"context"
	"sync"
)

// Call records one Complete invocation.
type Call struct {
	System string
	User   string
}

// MockCompleter is a scripted language model. Each Complete call pops the
// next step; when the script runs out, CompleteFunc (or an echo of the user
// prompt) answers.
//
// Example usage:
//
//	m := NewMockCompleter(func(ctx context.Context, system, user string) (string, error) {
//	    return "mocked response", nil
//	})
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, system, user string) (string, error)
	Provider     string
	NoKey        bool

	mu     sync.Mutex
	script []Step
	calls  []Call
}

// Step is one scripted answer.
type Step struct {
	Text string
	Err  error
}

// NewMockCompleter creates a completer answering with fn.
func NewMockCompleter(fn func(ctx context.Context, system, user string) (string, error)) *MockCompleter {
	return &MockCompleter{CompleteFunc: fn, Provider: "mock"}
}

// NewScriptedCompleter answers with steps in order.
func NewScriptedCompleter(steps ...Step) *MockCompleter {
	return &MockCompleter{Provider: "mock", script: steps}
}

// Complete implements the completer contract.
func (m *MockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{System: system, User: user})
	var step *Step
	if len(m.script) > 0 {
		step = &m.script[0]
		m.script = m.script[1:]
	}
	fn := m.CompleteFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if step != nil {
		return step.Text, step.Err
	}
	if fn != nil {
		return fn(ctx, system, user)
	}
	return user, nil
}

// HasCredentials reports false when NoKey is set.
func (m *MockCompleter) HasCredentials() bool { return !m.NoKey }

// Name returns the provider name.
func (m *MockCompleter) Name() string { return m.Provider }

// Calls returns a copy of the recorded invocations.
func (m *MockCompleter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of Complete invocations.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
