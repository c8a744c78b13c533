// Package rag defines the wire types exchanged with the upstream RAG backend:
// chat requests, the streamed chunk union, citations and the small
// non-streaming response bodies.
package rag

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyMessage is returned when a chat request carries no message text.
	ErrEmptyMessage = errors.New("chat message must not be empty")

	// ErrNegativeK is returned when a chat request asks for a negative top-k.
	ErrNegativeK = errors.New("k must be a positive integer")
)

// ChatRequest is the body of a single chat send. It is built fresh for every
// send and never mutated once handed to a stream.
type ChatRequest struct {
	// Message is the user's question.
	Message string `json:"message"`

	// ConversationID continues an existing conversation when set.
	ConversationID string `json:"conversation_id,omitempty"`

	// K is the top-k retrieval size. Zero leaves the choice to the backend.
	K int `json:"k,omitempty"`
}

// Validate reports whether the request can be sent.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if r.K < 0 {
		return ErrNegativeK
	}
	return nil
}
