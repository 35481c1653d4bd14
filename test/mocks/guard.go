package mocks

import (
	"context"
	"sync"
)

// MockGuard is an in-process replacement for the Redis lease guard.
// Work on the same key is serialised with a mutex per key.
type MockGuard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// DoFunc, when set, replaces the locking behaviour entirely.
	DoFunc func(ctx context.Context, key string, fn func(ctx context.Context) error) error
	Keys   []string
}

// NewMockGuard creates a new mock guard.
func NewMockGuard() *MockGuard {
	return &MockGuard{locks: make(map[string]*sync.Mutex)}
}

// Do runs fn while holding the mutex of key.
func (m *MockGuard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.Keys = append(m.Keys, key)
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	if m.DoFunc != nil {
		return m.DoFunc(ctx, key, fn)
	}

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// UsedKeys returns a copy of every key passed to Do.
func (m *MockGuard) UsedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Keys...)
}
