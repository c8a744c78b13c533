package rag

import (
	"encoding/json"
	"time"
)

// ErrorResponse is the generic JSON error body returned by the relay.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
}

// UploadResponse is the backend's answer to a document upload.
type UploadResponse struct {
	Filename  string  `json:"filename"`
	SizeBytes int64   `json:"size_bytes"`
	MimeType  *string `json:"mime_type"`
	Status    string  `json:"status"`
}

// Stats is the backend's aggregate retrieval statistics. The relay passes any
// JSON value through without interpreting it.
type Stats = json.RawMessage

// HealthReport describes one upstream health probe made by the relay.
type HealthReport struct {
	UpstreamStatus int       `json:"upstream_status,omitempty"`
	UpstreamOK     bool      `json:"upstream_ok"`
	BodySnippet    string    `json:"body_snippet,omitempty"`
	TimeMs         int64     `json:"time_ms"`
	Timestamp      time.Time `json:"timestamp"`
	Error          string    `json:"error,omitempty"`
	Hint           string    `json:"hint,omitempty"`
}

// PingResponse is the relay's own liveness answer.
type PingResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
	Runtime   string    `json:"runtime"`
}
