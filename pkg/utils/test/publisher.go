package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
)

// ErrMockPublish is returned by MockPublisher when FailPublish is set.
var ErrMockPublish = errors.New("mock publish failure")

// MockPublisher is a test eventstream publisher that records every relay
// event it receives.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.RelayEvent
	closed bool

	// FailPublish causes PublishRelay to return ErrMockPublish.
	FailPublish bool
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (p *MockPublisher) PublishRelay(_ context.Context, event *eventstream.RelayEvent) error {
	if err := eventstream.Validate(event); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailPublish {
		return ErrMockPublish
	}
	p.events = append(p.events, event)
	return nil
}

func (p *MockPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Events returns a copy of the recorded events.
func (p *MockPublisher) Events() []*eventstream.RelayEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.RelayEvent(nil), p.events...)
}

// Closed reports whether Close was called.
func (p *MockPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
