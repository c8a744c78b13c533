package eventstream

import (
	"context"
	"errors"
)

var (
	// ErrNilRelayEvent indicates a nil relay event payload was provided to a publisher.
	ErrNilRelayEvent = errors.New("nil relay event")

	// ErrUnkeyedRelayEvent indicates an event with neither a request id nor a
	// conversation id, which leaves a keyed backend nothing to partition on.
	ErrUnkeyedRelayEvent = errors.New("relay event has no partition key")
)

// Publisher ships relay events to a backend. The relay calls PublishRelay from
// its worker pool, so implementations must be safe for concurrent use.
type Publisher interface {
	PublishRelay(ctx context.Context, event *RelayEvent) error
	Close() error
}

// Validate checks the parts of an event every publisher depends on.
func Validate(event *RelayEvent) error {
	if event == nil {
		return ErrNilRelayEvent
	}
	if event.Key() == "" {
		return ErrUnkeyedRelayEvent
	}
	return nil
}
