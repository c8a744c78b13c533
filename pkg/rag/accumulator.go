package rag

import "time"

// Message is a finalized assistant message built from one chat stream.
type Message struct {
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Accumulator folds the chunks of a single stream into the message being
// built. It is a value: Apply returns the next accumulator and leaves the
// receiver untouched, so each send starts from the zero value.
type Accumulator struct {
	ConversationID    string
	IsNewConversation bool
	Content           string
	Citations         []Citation
	Chunks            int

	// Done is set once a done chunk was applied.
	Done bool

	// Err holds the terminal error chunk, if the backend sent one.
	Err *ErrorChunk
}

// Apply returns the accumulator that results from receiving c.
func (a Accumulator) Apply(c Chunk) Accumulator {
	a.Chunks++

	switch v := c.(type) {
	case ConversationChunk:
		a.ConversationID = v.ConversationID
		a.IsNewConversation = v.IsNew
	case ContentChunk:
		a.Content += v.Content
	case CitationsChunk:
		citations := make([]Citation, len(v.Citations))
		copy(citations, v.Citations)
		a.Citations = citations
	case DoneChunk:
		a.Done = true
	case ErrorChunk:
		errChunk := v
		a.Err = &errChunk
	}

	return a
}

// Message finalizes the accumulated content into an assistant message.
func (a Accumulator) Message() Message {
	return Message{
		Role:           "assistant",
		Content:        a.Content,
		Citations:      a.Citations,
		ConversationID: a.ConversationID,
		Timestamp:      time.Now(),
	}
}
