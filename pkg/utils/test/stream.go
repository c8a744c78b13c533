package testutils

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/papercomputeco/ragrelay/pkg/rag"
)

// NewTestStream encodes chunks as the SSE body a RAG backend streams, one
// "data: " frame per chunk.
func NewTestStream(chunks ...rag.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		data, err := rag.MarshalChunk(c)
		if err != nil {
			panic(fmt.Sprintf("marshaling test chunk: %v", err))
		}
		b.WriteString("data: ")
		b.Write(data)
		b.WriteString("\n\n")
	}
	return b.String()
}

// NewTestAnswer is a complete answer stream: a new conversation, the content
// fragments in order, one citation and a done chunk.
func NewTestAnswer(conversationID string, fragments ...string) string {
	chunks := []rag.Chunk{rag.ConversationChunk{ConversationID: conversationID, IsNew: true}}
	for _, f := range fragments {
		chunks = append(chunks, rag.ContentChunk{Content: f})
	}
	chunks = append(chunks,
		rag.CitationsChunk{Citations: []rag.Citation{{
			Index:        1,
			DocumentName: "handbook.pdf",
			ChunkIndex:   2,
			Score:        0.82,
			DocumentID:   "doc-1",
		}}},
		rag.DoneChunk{FinishReason: "stop"},
	)
	return NewTestStream(chunks...)
}

// StreamHandler serves body as an event stream, writing at most split bytes
// per flush.
func StreamHandler(body string, split int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		data := []byte(body)
		for len(data) > 0 {
			n := min(split, len(data))
			_, _ = w.Write(data[:n])
			if flusher != nil {
				flusher.Flush()
			}
			data = data[n:]
		}
	}
}
