// Package nop provides the publisher used when relay events are disabled.
package nop

import (
	"context"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
)

// Publisher drops every event. It still validates, so a relay running without
// a broker rejects the same malformed events a Kafka-backed one would.
type Publisher struct{}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) PublishRelay(_ context.Context, event *eventstream.RelayEvent) error {
	return eventstream.Validate(event)
}

func (p *Publisher) Close() error {
	return nil
}
