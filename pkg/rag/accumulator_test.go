package rag_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ragrelay/pkg/rag"
)

var _ = Describe("Accumulator", func() {
	It("concatenates content fragments in order", func() {
		var acc rag.Accumulator
		acc = acc.Apply(rag.ContentChunk{Content: "Hel"})
		acc = acc.Apply(rag.ContentChunk{Content: "lo!"})
		acc = acc.Apply(rag.DoneChunk{})

		Expect(acc.Content).To(Equal("Hello!"))
		Expect(acc.Done).To(BeTrue())
		Expect(acc.Chunks).To(Equal(3))
	})

	It("leaves the receiver untouched", func() {
		start := rag.Accumulator{}.Apply(rag.ContentChunk{Content: "a"})
		next := start.Apply(rag.ContentChunk{Content: "b"})

		Expect(start.Content).To(Equal("a"))
		Expect(next.Content).To(Equal("ab"))
	})

	It("keeps the most recent citations list", func() {
		first := []rag.Citation{{Index: 1, DocumentName: "old.pdf"}}
		second := []rag.Citation{{Index: 1, DocumentName: "new.pdf"}, {Index: 2, DocumentName: "more.pdf"}}

		acc := rag.Accumulator{}.
			Apply(rag.CitationsChunk{Citations: first}).
			Apply(rag.CitationsChunk{Citations: second})

		Expect(acc.Citations).To(HaveLen(2))
		Expect(acc.Citations[0].DocumentName).To(Equal("new.pdf"))

		second[0].DocumentName = "mutated.pdf"
		Expect(acc.Citations[0].DocumentName).To(Equal("new.pdf"))
	})

	It("records conversation metadata and terminal errors", func() {
		acc := rag.Accumulator{}.
			Apply(rag.ConversationChunk{ConversationID: "conv-9", IsNew: true}).
			Apply(rag.ContentChunk{Content: "partial"}).
			Apply(rag.ErrorChunk{Code: "internal", Message: "backend failed"})

		Expect(acc.ConversationID).To(Equal("conv-9"))
		Expect(acc.IsNewConversation).To(BeTrue())
		Expect(acc.Done).To(BeFalse())
		Expect(acc.Err).NotTo(BeNil())
		Expect(acc.Err.Message).To(Equal("backend failed"))
	})

	It("finalizes into an assistant message", func() {
		acc := rag.Accumulator{}.
			Apply(rag.ConversationChunk{ConversationID: "conv-1"}).
			Apply(rag.ContentChunk{Content: "Answer"}).
			Apply(rag.CitationsChunk{Citations: []rag.Citation{{Index: 1}}})

		msg := acc.Message()
		Expect(msg.Role).To(Equal("assistant"))
		Expect(msg.Content).To(Equal("Answer"))
		Expect(msg.ConversationID).To(Equal("conv-1"))
		Expect(msg.Citations).To(HaveLen(1))
		Expect(msg.Timestamp).NotTo(BeZero())
	})
})
