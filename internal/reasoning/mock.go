package reasoning

import (
	"context"
	"sync"
)

// Reply is one scripted mock response.
type Reply struct {
	Text  string
	Usage Usage
	Err   error
}

// Mock is a scripted Client for tests. Replies are consumed in order; the
// last one repeats once the script runs out. Fn, when set, overrides the
// script entirely.
type Mock struct {
	Fn func(ctx context.Context, req Request) (*Result, error)

	mu      sync.Mutex
	replies []Reply
	calls   []Request
}

// Script sets the reply sequence.
func (m *Mock) Script(replies ...Reply) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = replies
	return m
}

// Invoke records the request and plays the next scripted reply.
func (m *Mock) Invoke(ctx context.Context, req Request) (*Result, error) {
	if m.Fn != nil {
		m.mu.Lock()
		m.calls = append(m.calls, req)
		m.mu.Unlock()
		return m.Fn(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.replies) == 0 {
		return &Result{Text: "ok", Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}
	r := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &Result{Text: r.Text, StopReason: "end_turn", Usage: r.Usage}, nil
}

// Calls returns a copy of every request seen so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
