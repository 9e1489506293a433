// Package llmtest provides scripted llm.Model implementations for tests.
package llmtest

import (
	"context"
	"sync"

	"qgen-backend/internal/llm"
)

type HandlerFunc func(call int, req llm.Request) (string, error)

type Model struct {
	mu       sync.Mutex
	handle   HandlerFunc
	requests []llm.Request
}

func New(handle HandlerFunc) *Model {
	return &Model{handle: handle}
}

// Replies answers calls in order and repeats the last reply once the list is exhausted.
func Replies(replies ...string) *Model {
	return New(func(call int, _ llm.Request) (string, error) {
		if call >= len(replies) {
			return replies[len(replies)-1], nil
		}
		return replies[call], nil
	})
}

// Failing returns err on every call.
func Failing(err error) *Model {
	return New(func(int, llm.Request) (string, error) {
		return "", err
	})
}

func (m *Model) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	call := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.handle(call, req)
}

func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
