// Package sse provides the two small SSE (Server-Sent Events) readers used by
// ragrelay:
//
//   - TeeReader, used by the relay, parses full SSE events from the upstream
//     body while forwarding the exact upstream bytes to the downstream client.
//   - LineDecoder, used by the chat client, frames the relayed stream into
//     "data: " payloads.
//
// This package intentionally does NOT provide SSE writer or server
// capabilities.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// DoneSentinel is the data payload that ends a stream regardless of what
// follows it.
const DoneSentinel = "[DONE]"

// Event represents a single parsed SSE event, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n".
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string
}
