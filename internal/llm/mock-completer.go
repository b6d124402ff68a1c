package llm

import (
	"context"
	"errors"
	"sync"
)

// MockCompleter replays scripted replies in order and records every request.
// When the script is exhausted it repeats the last entry.
type MockCompleter struct {
	mu       sync.Mutex
	replies  []MockReply
	requests []Request
}

// MockReply is one scripted outcome.
type MockReply struct {
	Text string
	Err  error
}

// NewMockCompleter returns a completer that answers with texts in order.
func NewMockCompleter(texts ...string) *MockCompleter {
	m := &MockCompleter{}
	for _, t := range texts {
		m.replies = append(m.replies, MockReply{Text: t})
	}
	return m
}

// NewFailingCompleter returns a completer that always fails with err.
func NewFailingCompleter(err error) *MockCompleter {
	return &MockCompleter{replies: []MockReply{{Err: err}}}
}

// Then appends a scripted reply.
func (m *MockCompleter) Then(text string, err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, MockReply{Text: text, Err: err})
	return m
}

// Complete returns the next scripted reply.
func (m *MockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(m.replies) == 0 {
		return "", errors.New("mock completer: no scripted reply")
	}
	i := len(m.requests) - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i].Text, m.replies[i].Err
}

// Requests returns a copy of the recorded requests.
func (m *MockCompleter) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of Complete calls.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
