// Package eventstream defines the events the relay emits after each request
// and the Publisher interface that ships them to a backend.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeRequestRelayed is emitted once per relayed request, after the
	// response to the client has finished.
	EventTypeRequestRelayed = "ragrelay.request.relayed"
)

// Outcome classifies how a relayed request ended.
type Outcome string

const (
	OutcomeOK                  Outcome = "ok"
	OutcomeMisconfigured       Outcome = "misconfigured"
	OutcomeBadRequest          Outcome = "bad_request"
	OutcomeUpstreamUnreachable Outcome = "upstream_unreachable"
	OutcomeUpstreamRejected    Outcome = "upstream_rejected"
	OutcomeUpstreamTimeout     Outcome = "upstream_timeout"
	OutcomeClientGone          Outcome = "client_gone"
	OutcomeStreamError         Outcome = "stream_error"
)

// RelayEvent is a transport-neutral record of one relayed request. It never
// carries request or response bodies.
type RelayEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	RequestID  string  `json:"request_id"`
	Route      string  `json:"route"`
	Streaming  bool    `json:"streaming"`
	HTTPStatus int     `json:"http_status"`
	Outcome    Outcome `json:"outcome"`

	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`

	// BytesRelayed counts response body bytes written back to the client.
	BytesRelayed int64 `json:"bytes_relayed"`

	// Streaming-only fields, filled from the SSE events seen on the way through.
	SSEEvents      int    `json:"sse_events,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Terminal       string `json:"terminal,omitempty"`
}

// NewRelayEvent returns a RelayEvent with its envelope populated. The caller
// fills in the outcome and measurements with Finish.
func NewRelayEvent(requestID, route string, streaming bool, startedAt time.Time) *RelayEvent {
	return &RelayEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeRequestRelayed,
		EventID:       uuid.NewString(),
		RequestID:     requestID,
		Route:         route,
		Streaming:     streaming,
		StartedAt:     startedAt,
	}
}

// Finish stamps the final status, outcome and timing onto the event.
func (e *RelayEvent) Finish(status int, outcome Outcome, now time.Time) {
	e.HTTPStatus = status
	e.Outcome = outcome
	e.EmittedAt = now
	e.DurationMs = now.Sub(e.StartedAt).Milliseconds()
}

// Key returns the partition key: the conversation id when known so a
// conversation's events stay ordered, otherwise the request id.
func (e *RelayEvent) Key() string {
	if e.ConversationID != "" {
		return e.ConversationID
	}
	return e.RequestID
}
