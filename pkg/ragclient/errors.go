package ragclient

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamReused is returned by Stream.Run on a stream that already ran.
	ErrStreamReused = errors.New("chat stream already started")

	// ErrTimeout reports a health probe that took too long.
	ErrTimeout = errors.New("health check timed out")

	// ErrUnreachable reports a health probe that could not connect.
	ErrUnreachable = errors.New("backend unreachable")
)

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	// StatusCode is the relay's HTTP status.
	StatusCode int

	// Message is the relay's error text.
	Message string

	// UpstreamStatus is the backend status the relay reported, if any.
	UpstreamStatus int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}
