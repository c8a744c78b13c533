package sse

import (
	"bufio"
	"io"
	"strings"
)

// TeeReader reads SSE events from a source io.Reader while simultaneously
// writing all raw bytes verbatim to a destination io.Writer.
//
// ┌──────────────────┐
// │ source io.Reader │
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐   ┌───────────────────────┐
// │ TeeReader.Next() │──▶│ destination io.Writer │
// └──────────────────┘   └───────────────────────┘
// │
// ▼
// ┌──────────────────┐
// │      Event       │
// └──────────────────┘
//
// Bytes are copied to the destination as they are read from the source, before
// line splitting, so CRLF line endings, missing trailing newlines and oversized
// lines all reach the destination untouched.
type TeeReader struct {
	src     io.Reader
	tee     io.Reader
	scanner *bufio.Scanner

	// current accumulates fields for the event being built in the current scan.
	current *Event
	hasData bool
}

// NewTeeReader returns a Reader that parses SSE events from the src io.Reader
// and writes all raw bytes through to dest.
// The dest writer typically backs an io.Pipe connected to the downstream HTTP
// response.
func NewTeeReader(src io.Reader, dest io.Writer) *TeeReader {
	tee := io.TeeReader(src, dest)

	scanner := bufio.NewScanner(tee)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TeeReader{
		src:     src,
		tee:     tee,
		scanner: scanner,
		current: &Event{},
	}
}

// Next returns the next parsed SSE event. It blocks until a complete event is
// available (terminated by a blank line in the stream).
// Next returns nil, nil when the source is exhausted.
//
// A write error on the destination is returned as-is, so callers can tell a
// departed downstream client (io.ErrClosedPipe) from an upstream read error.
func (r *TeeReader) Next() (*Event, error) {
	for r.scanner.Scan() {
		raw := r.scanner.Text()

		// A blank line signals the end of the current event.
		if raw == "" {
			if r.hasData {
				currentEvent := r.current
				r.reset()
				return currentEvent, nil
			}

			// Blank line with no accumulated fields: leading blank lines or
			// keep-alive newlines.
			continue
		}

		// Lines starting with ':' are comments.
		if strings.HasPrefix(raw, ":") {
			continue
		}

		r.parseLine(raw)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Source exhausted. If there is an in-progress event (stream ended
	// without a trailing blank line), yield it.
	if r.hasData {
		ev := r.current
		r.reset()
		return ev, nil
	}

	return nil, nil
}

// Drain copies whatever is left in the source to the destination without
// parsing it. Use it after Next fails with bufio.ErrTooLong so the downstream
// still receives every byte.
func (r *TeeReader) Drain() (int64, error) {
	return io.Copy(io.Discard, r.tee)
}

// parseLine processes a single non-empty, non-comment SSE line and
// accumulates the field into the current event.
//
// A line has the form "field:value" where the first space after the colon is
// optional and stripped if present.
func (r *TeeReader) parseLine(line string) {
	var field, value string

	if before, after, ok := strings.Cut(line, ":"); ok {
		field = before
		value = strings.TrimPrefix(after, " ")
	} else {
		// No colon: the entire line is the field name with an empty value.
		field = line
	}

	switch field {
	case "data":
		if r.hasData && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.hasData = true
	case "event":
		r.current.Type = value
		r.hasData = true
	case "id":
		r.current.ID = value
		r.hasData = true
	default:
		// "retry" and unknown fields are ignored.
	}
}

// reset clears the accumulated event state for the next event.
func (r *TeeReader) reset() {
	r.current = &Event{}
	r.hasData = false
}
