package rag

import (
	"encoding/json"
	"fmt"
)

// ChunkType is the "type" tag carried by every streamed chunk.
type ChunkType string

const (
	ChunkConversation ChunkType = "conversation"
	ChunkContent      ChunkType = "content"
	ChunkCitations    ChunkType = "citations"
	ChunkDone         ChunkType = "done"
	ChunkError        ChunkType = "error"
)

// Chunk is one typed unit of streamed chat output. The set of implementations
// is closed: ConversationChunk, ContentChunk, CitationsChunk, DoneChunk and
// ErrorChunk.
type Chunk interface {
	Type() ChunkType

	// Terminal reports whether no further chunks follow on the stream.
	Terminal() bool

	isChunk()
}

// ConversationChunk announces which conversation the stream belongs to.
// It arrives at most once per stream, normally first.
type ConversationChunk struct {
	ConversationID string
	IsNew          bool
}

// ContentChunk carries the next text fragment of the assistant message.
type ContentChunk struct {
	Content string
}

// CitationsChunk carries the ordered source references for the message.
type CitationsChunk struct {
	Citations []Citation
}

// DoneChunk marks the end of the stream.
type DoneChunk struct {
	FinishReason string
}

// ErrorChunk is a terminal, structured failure reported by the backend.
type ErrorChunk struct {
	Code    string
	Message string
}

func (ConversationChunk) Type() ChunkType { return ChunkConversation }
func (ContentChunk) Type() ChunkType      { return ChunkContent }
func (CitationsChunk) Type() ChunkType    { return ChunkCitations }
func (DoneChunk) Type() ChunkType         { return ChunkDone }
func (ErrorChunk) Type() ChunkType        { return ChunkError }

func (ConversationChunk) Terminal() bool { return false }
func (ContentChunk) Terminal() bool      { return false }
func (CitationsChunk) Terminal() bool    { return false }
func (DoneChunk) Terminal() bool         { return true }
func (ErrorChunk) Terminal() bool        { return true }

func (ConversationChunk) isChunk() {}
func (ContentChunk) isChunk()      {}
func (CitationsChunk) isChunk()    {}
func (DoneChunk) isChunk()         {}
func (ErrorChunk) isChunk()        {}

// Error lets an ErrorChunk be returned or wrapped as an error.
func (e ErrorChunk) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return e.Code + ": " + e.Message
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	default:
		return "stream error"
	}
}

// Citation references the document chunk that backs part of an answer.
type Citation struct {
	Index        int     `json:"index"`
	DocumentName string  `json:"document_name"`
	ChunkIndex   int     `json:"chunk_index"`
	Score        float64 `json:"score"`
	DocumentID   string  `json:"document_id"`
}

// UnknownChunkTypeError is returned by ParseChunk for a payload whose "type"
// tag is not part of the chunk union.
type UnknownChunkTypeError struct {
	Type string
}

func (e *UnknownChunkTypeError) Error() string {
	if e.Type == "" {
		return "chunk has no type"
	}
	return fmt.Sprintf("unknown chunk type %q", e.Type)
}

// wireChunk is the flat JSON shape of every chunk on the wire.
type wireChunk struct {
	Type           ChunkType  `json:"type"`
	Content        string     `json:"content,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	IsNew          *bool      `json:"is_new,omitempty"`
	Citations      []Citation `json:"citations,omitempty"`
	FinishReason   string     `json:"finish_reason,omitempty"`
	Error          string     `json:"error,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// ParseChunk decodes a single SSE data payload into its chunk variant.
func ParseChunk(data []byte) (Chunk, error) {
	var w wireChunk
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding chunk: %w", err)
	}

	switch w.Type {
	case ChunkConversation:
		isNew := false
		if w.IsNew != nil {
			isNew = *w.IsNew
		}
		return ConversationChunk{ConversationID: w.ConversationID, IsNew: isNew}, nil
	case ChunkContent:
		return ContentChunk{Content: w.Content}, nil
	case ChunkCitations:
		return CitationsChunk{Citations: w.Citations}, nil
	case ChunkDone:
		return DoneChunk{FinishReason: w.FinishReason}, nil
	case ChunkError:
		return ErrorChunk{Code: w.Error, Message: w.Message}, nil
	default:
		return nil, &UnknownChunkTypeError{Type: string(w.Type)}
	}
}

// MarshalChunk encodes a chunk into its wire JSON.
func MarshalChunk(c Chunk) ([]byte, error) {
	var w wireChunk
	switch v := c.(type) {
	case ConversationChunk:
		isNew := v.IsNew
		w = wireChunk{Type: ChunkConversation, ConversationID: v.ConversationID, IsNew: &isNew}
	case ContentChunk:
		w = wireChunk{Type: ChunkContent, Content: v.Content}
	case CitationsChunk:
		w = wireChunk{Type: ChunkCitations, Citations: v.Citations}
	case DoneChunk:
		w = wireChunk{Type: ChunkDone, FinishReason: v.FinishReason}
	case ErrorChunk:
		w = wireChunk{Type: ChunkError, Error: v.Code, Message: v.Message}
	default:
		return nil, fmt.Errorf("cannot marshal chunk of type %T", c)
	}
	return json.Marshal(w)
}
