package feed

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockFeed is a Feed driven by the caller; handy for tests and demos.
type MockFeed struct {
	events    chan Event
	errors    chan error
	connected atomic.Bool
	closeOnce sync.Once
}

func NewMockFeed() *MockFeed {
	m := &MockFeed{
		events: make(chan Event, 64),
		errors: make(chan error, 16),
	}
	m.connected.Store(true)
	return m
}

// Run reports the current connection status once and blocks until ctx ends.
func (m *MockFeed) Run(ctx context.Context, onStatus func(connected bool)) {
	onStatus(m.connected.Load())
	<-ctx.Done()
	onStatus(false)
}

func (m *MockFeed) Events() <-chan Event { return m.events }
func (m *MockFeed) Errors() <-chan error { return m.errors }

func (m *MockFeed) Close() {
	m.closeOnce.Do(func() {
		close(m.events)
		close(m.errors)
	})
}

// Helpers for tests
func (m *MockFeed) Send(ev Event)       { m.events <- ev }
func (m *MockFeed) SendError(err error) { m.errors <- err }
func (m *MockFeed) SetConnected(c bool) { m.connected.Store(c) }
