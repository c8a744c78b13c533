package ragclient_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/ragclient"
)

const cannedStream = "data: {\"type\":\"conversation\",\"conversation_id\":\"conv-1\",\"is_new\":true}\n\n" +
	"data: {\"type\":\"content\",\"content\":\"Héllo \"}\n\n" +
	"data: {\"type\":\"content\",\"content\":\"世界 🌍\"}\r\n\r\n" +
	"data: {\"type\":\"citations\",\"citations\":[{\"index\":1,\"document_name\":\"a.pdf\",\"chunk_index\":0,\"score\":0.9,\"document_id\":\"d1\"}]}\n\n" +
	"data: {\"type\":\"done\",\"finish_reason\":\"stop\"}\n\n"

var cannedChunks = []string{
	"conversation:conv-1:true",
	"content:Héllo ",
	"content:世界 🌍",
	"citations:1",
	"done:stop",
}

var _ = Describe("Stream", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("framing", func() {
		for _, split := range []int{1, 2, 3, 5, 7, 64, len(cannedStream)} {
			It(fmt.Sprintf("delivers the same chunks when the stream arrives in %d-byte pieces", split), func() {
				srv := streamServer(cannedStream, split)
				defer srv.Close()

				rec := &recorder{}
				acc, err := ragclient.NewClient(srv.URL).StreamChat(ctx, rag.ChatRequest{Message: "hi"}, rec.handler())
				Expect(err).NotTo(HaveOccurred())

				Expect(rec.chunks).To(Equal(cannedChunks))
				Expect(rec.completes).To(Equal(1))
				Expect(rec.errs).To(BeEmpty())
				Expect(acc.Content).To(Equal("Héllo 世界 🌍"))
				Expect(acc.ConversationID).To(Equal("conv-1"))
				Expect(acc.Citations).To(HaveLen(1))
				Expect(acc.Done).To(BeTrue())
			})
		}
	})

	It("concatenates content into the final message", func() {
		srv := streamServer(
			"data: {\"type\":\"content\",\"content\":\"Hel\"}\n\n"+
				"data: {\"type\":\"content\",\"content\":\"lo!\"}\n\n"+
				"data: {\"type\":\"done\"}\n\n", 4)
		defer srv.Close()

		rec := &recorder{}
		stream := ragclient.NewClient(srv.URL).NewStream(rag.ChatRequest{Message: "hi"}, rec.handler())
		acc, err := stream.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(acc.Message().Content).To(Equal("Hello!"))
		Expect(acc.Message().Role).To(Equal("assistant"))
		Expect(rec.completes).To(Equal(1))
		Expect(stream.State()).To(Equal(ragclient.StateCompleted))
	})

	It("stops at the [DONE] sentinel even if more bytes follow", func() {
		srv := streamServer(
			"data: {\"type\":\"content\",\"content\":\"a\"}\n\n"+
				"data: [DONE]\n\n"+
				"data: {\"type\":\"content\",\"content\":\"b\"}\n\n"+
				"data: {\"type\":\"done\"}\n\n", 16)
		defer srv.Close()

		rec := &recorder{}
		acc, err := ragclient.NewClient(srv.URL).StreamChat(ctx, rag.ChatRequest{Message: "hi"}, rec.handler())
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.chunks).To(Equal([]string{"content:a"}))
		Expect(rec.completes).To(Equal(1))
		Expect(acc.Content).To(Equal("a"))
	})

	It("skips malformed and unknown frames without reporting an error", func() {
		srv := streamServer(
			": keep-alive\n\n"+
				"event: message\n"+
				"data: {not json\n\n"+
				"data: {\"type\":\"telemetry\",\"x\":1}\n\n"+
				"data:{\"type\":\"content\",\"content\":\"no space\"}\n\n"+
				"data: {\"type\":\"content\",\"content\":\"ok\"}\n\n"+
				"data: {\"type\":\"done\"}\n\n", 9)
		defer srv.Close()

		rec := &recorder{}
		acc, err := ragclient.NewClient(srv.URL).StreamChat(ctx, rag.ChatRequest{Message: "hi"}, rec.handler())
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.chunks).To(Equal([]string{"content:ok", "done:"}))
		Expect(rec.errs).To(BeEmpty())
		Expect(rec.completes).To(Equal(1))
		Expect(acc.Content).To(Equal("ok"))
	})

	It("completes when the connection closes without a terminal marker", func() {
		srv := streamServer("data: {\"type\":\"content\",\"content\":\"partial\"}", 5)
		defer srv.Close()

		rec := &recorder{}
		stream := ragclient.NewClient(srv.URL).NewStream(rag.ChatRequest{Message: "hi"}, rec.handler())
		acc, err := stream.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.chunks).To(Equal([]string{"content:partial"}))
		Expect(rec.completes).To(Equal(1))
		Expect(acc.Done).To(BeFalse())
		Expect(stream.State()).To(Equal(ragclient.StateCompleted))
	})

	It("delivers an error chunk and stops without another callback", func() {
		srv := streamServer(
			"data: {\"type\":\"content\",\"content\":\"x\"}\n\n"+
				"data: {\"type\":\"error\",\"error\":\"rate_limited\",\"message\":\"slow down\"}\n\n"+
				"data: {\"type\":\"content\",\"content\":\"y\"}\n\n", 11)
		defer srv.Close()

		rec := &recorder{}
		stream := ragclient.NewClient(srv.URL).NewStream(rag.ChatRequest{Message: "hi"}, rec.handler())
		acc, err := stream.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.chunks).To(Equal([]string{"content:x", "error:rate_limited: slow down"}))
		Expect(rec.completes).To(BeZero())
		Expect(rec.errs).To(BeEmpty())
		Expect(acc.Err).NotTo(BeNil())
		Expect(acc.Err.Code).To(Equal("rate_limited"))
		Expect(stream.State()).To(Equal(ragclient.StateErrored))
	})

	It("reports a relay rejection through OnError", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"upstream rejected chat request","status":429}`)
		}))
		defer srv.Close()

		rec := &recorder{}
		stream := ragclient.NewClient(srv.URL).NewStream(rag.ChatRequest{Message: "hi"}, rec.handler())
		_, err := stream.Run(ctx)
		Expect(err).To(HaveOccurred())

		var se *ragclient.StatusError
		Expect(errors.As(err, &se)).To(BeTrue())
		Expect(se.StatusCode).To(Equal(http.StatusTooManyRequests))
		Expect(se.UpstreamStatus).To(Equal(http.StatusTooManyRequests))
		Expect(se.Message).To(Equal("upstream rejected chat request"))

		Expect(rec.errs).To(HaveLen(1))
		Expect(rec.completes).To(BeZero())
		Expect(stream.State()).To(Equal(ragclient.StateErrored))
	})

	It("reports a connect failure through OnError", func() {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr := l.Addr().String()
		Expect(l.Close()).To(Succeed())

		rec := &recorder{}
		_, err = ragclient.NewClient("http://"+addr).StreamChat(ctx, rag.ChatRequest{Message: "hi"}, rec.handler())
		Expect(err).To(HaveOccurred())
		Expect(rec.errs).To(HaveLen(1))
		Expect(rec.completes).To(BeZero())
	})

	It("rejects an invalid request before connecting", func() {
		srv := streamServer(cannedStream, 64)
		defer srv.Close()

		rec := &recorder{}
		_, err := ragclient.NewClient(srv.URL).StreamChat(ctx, rag.ChatRequest{Message: "   "}, rec.handler())
		Expect(err).To(MatchError(rag.ErrEmptyMessage))
		Expect(rec.errs).To(HaveLen(1))
	})

	It("runs only once", func() {
		srv := streamServer(cannedStream, 64)
		defer srv.Close()

		stream := ragclient.NewClient(srv.URL).NewStream(rag.ChatRequest{Message: "hi"}, ragclient.Handler{})
		Expect(stream.State()).To(Equal(ragclient.StateIdle))
		_, err := stream.Run(ctx)
		Expect(err).NotTo(HaveOccurred())

		_, err = stream.Run(ctx)
		Expect(err).To(MatchError(ragclient.ErrStreamReused))
		Expect(stream.State()).To(Equal(ragclient.StateCompleted))
	})

	It("sends the request as JSON", func() {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			got = r.Header.Get("Accept") + " " + string(body)
			fmt.Fprint(w, "data: {\"type\":\"done\"}\n\n")
		}))
		defer srv.Close()

		_, err := ragclient.NewClient(srv.URL).Collect(ctx, rag.ChatRequest{Message: "hi", ConversationID: "c1", K: 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(`text/event-stream {"message":"hi","conversation_id":"c1","k":3}`))
	})

	Describe("cancellation", func() {
		It("aborts the connection and suppresses every callback", func() {
			disconnected := make(chan struct{})
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"type\":\"content\",\"content\":\"first\"}\n\n")
				w.(http.Flusher).Flush()

				<-r.Context().Done()
				close(disconnected)
			}))
			defer srv.Close()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			var chunks []string
			completes, errs := 0, 0
			stream := ragclient.NewClient(srv.URL).NewStream(rag.ChatRequest{Message: "hi"}, ragclient.Handler{
				OnChunk: func(c rag.Chunk) {
					chunks = append(chunks, describe(c))
					cancel()
				},
				OnError:    func(error) { errs++ },
				OnComplete: func() { completes++ },
			})

			_, err := stream.Run(runCtx)
			Expect(err).To(MatchError(context.Canceled))

			Expect(chunks).To(Equal([]string{"content:first"}))
			Expect(completes).To(BeZero())
			Expect(errs).To(BeZero())
			Expect(stream.State()).To(Equal(ragclient.StateCancelled))
			Eventually(disconnected).Should(BeClosed())
		})

		It("skips completion when the consumer cancels on the done chunk", func() {
			srv := streamServer("data: {\"type\":\"content\",\"content\":\"Hi\"}\n\n"+
				"data: {\"type\":\"done\",\"finish_reason\":\"stop\"}\n\n", 64)
			defer srv.Close()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			rec := &recorder{}
			handler := rec.handler()
			onChunk := handler.OnChunk
			handler.OnChunk = func(c rag.Chunk) {
				onChunk(c)
				if _, ok := c.(rag.DoneChunk); ok {
					cancel()
				}
			}

			stream := ragclient.NewClient(srv.URL).NewStream(rag.ChatRequest{Message: "hi"}, handler)
			_, err := stream.Run(runCtx)

			Expect(err).To(MatchError(context.Canceled))
			Expect(rec.chunks).To(Equal([]string{"content:Hi", "done:stop"}))
			Expect(rec.completes).To(BeZero())
			Expect(rec.errs).To(BeEmpty())
			Expect(stream.State()).To(Equal(ragclient.StateCancelled))
		})

		It("ends before connecting when the context is already cancelled", func() {
			srv := streamServer(cannedStream, 64)
			defer srv.Close()

			runCtx, cancel := context.WithCancel(ctx)
			cancel()

			rec := &recorder{}
			stream := ragclient.NewClient(srv.URL).NewStream(rag.ChatRequest{Message: "hi"}, rec.handler())
			_, err := stream.Run(runCtx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(rec.chunks).To(BeEmpty())
			Expect(rec.errs).To(BeEmpty())
			Expect(rec.completes).To(BeZero())
			Expect(stream.State()).To(Equal(ragclient.StateCancelled))
		})
	})
})

var _ = Describe("Collect", func() {
	It("returns a backend error chunk as an error", func() {
		srv := streamServer("data: {\"type\":\"error\",\"error\":\"boom\"}\n\n", 64)
		defer srv.Close()

		acc, err := ragclient.NewClient(srv.URL).Collect(context.Background(), rag.ChatRequest{Message: "hi"})
		var chunkErr rag.ErrorChunk
		Expect(errors.As(err, &chunkErr)).To(BeTrue())
		Expect(chunkErr.Code).To(Equal("boom"))
		Expect(acc.Err).NotTo(BeNil())
	})
})
