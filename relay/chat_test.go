package relay

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
	testutils "github.com/papercomputeco/ragrelay/pkg/utils/test"
)

// cannedStream is a realistic upstream answer. The CRLF line, the comment and
// the multi-byte text must all survive the relay untouched.
var cannedStream = []string{
	"data: {\"type\":\"conversation\",\"conversation_id\":\"conv-42\",\"is_new\":true}\n\n",
	": keep-alive\n\n",
	"data: {\"type\":\"content\",\"content\":\"Hel\"}\n\n",
	"data: {\"type\":\"content\",\"content\":\"lo! 世界\"}\r\n\r\n",
	"data: {\"type\":\"citations\",\"citations\":[{\"index\":1,\"document_name\":\"handbook.pdf\",\"chunk_index\":3,\"score\":0.91,\"document_id\":\"d1\"}]}\n\n",
	"data: {\"type\":\"done\",\"finish_reason\":\"stop\"}\n\n",
}

func streamHandler(events []string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Set-Cookie", "upstream=1")
		flusher, ok := w.(http.Flusher)
		Expect(ok).To(BeTrue())

		for _, event := range events {
			fmt.Fprint(w, event)
			flusher.Flush()
		}
	}
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, RouteChat, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

var _ = Describe("Chat relay", func() {
	var (
		r        *Relay
		upstream *fakeUpstream
		pub      *testutils.MockPublisher
	)

	AfterEach(func() {
		if r != nil {
			_ = r.Close()
			r = nil
		}
		if upstream != nil {
			upstream.Close()
			upstream = nil
		}
	})

	Context("when the upstream streams an answer", func() {
		BeforeEach(func() {
			upstream = newFakeUpstream(streamHandler(cannedStream))
			pub = testutils.NewMockPublisher()
			r = newTestRelay(upstream.URL, func(c *Config) { c.Publisher = pub })
		})

		It("relays the stream byte for byte", func() {
			resp, err := r.server.Test(chatRequest(`{"message":"hi"}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(strings.Join(cannedStream, "")))
		})

		It("sets the event stream headers and a request id", func() {
			resp, err := r.server.Test(chatRequest(`{"message":"hi"}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
			Expect(resp.Header.Get("X-Accel-Buffering")).To(Equal("no"))
			Expect(resp.Header.Get("Content-Encoding")).To(BeEmpty())
			Expect(resp.Header.Get("Set-Cookie")).To(BeEmpty())
			Expect(uuid.Validate(resp.Header.Get("X-Request-Id"))).To(Succeed())
		})

		It("does not compress the stream even when the client accepts gzip", func() {
			req := chatRequest(`{"message":"hi"}`)
			req.Header.Set("Accept-Encoding", "gzip")

			resp, err := r.server.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.Header.Get("Content-Encoding")).To(BeEmpty())
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(strings.Join(cannedStream, "")))
		})

		DescribeTable("leaves the stream uncompressed on paths fiber routes to chat",
			func(path string) {
				req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"message":"hi"}`))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Accept-Encoding", "gzip")

				resp, err := r.server.Test(req, -1)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Encoding")).To(BeEmpty())
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal(strings.Join(cannedStream, "")))
			},
			Entry("trailing slash", "/api/chat/"),
			Entry("upper case", "/API/CHAT"),
			Entry("mixed case with trailing slash", "/Api/Chat/"),
		)

		It("forwards the raw body with the injected key and nothing from the client", func() {
			req := chatRequest(`{"message":"what is in the handbook?","k":3}`)
			req.Header.Set("Authorization", "Bearer client-token")
			req.Header.Set("Cookie", "session=abc")

			resp, err := r.server.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			got := upstream.lastRequest()
			Expect(got.Method).To(Equal(http.MethodPost))
			Expect(got.URL).To(Equal("/v1/chat/stream"))
			Expect(string(got.Body)).To(Equal(`{"message":"what is in the handbook?","k":3}`))
			Expect(got.Header.Get("X-Api-Key")).To(Equal(testAPIKey))
			Expect(got.Header.Get("Accept")).To(Equal("text/event-stream"))
			Expect(got.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(got.Header.Get("Authorization")).To(BeEmpty())
			Expect(got.Header.Get("Cookie")).To(BeEmpty())
			Expect(got.URL).NotTo(ContainSubstring(testAPIKey))
		})

		It("publishes one event describing the stream", func() {
			resp, err := r.server.Test(chatRequest(`{"message":"hi"}`), -1)
			Expect(err).NotTo(HaveOccurred())
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			Expect(r.Close()).To(Succeed())
			r = nil

			events := pub.Events()
			Expect(events).To(HaveLen(1))
			event := events[0]
			Expect(event.Route).To(Equal(RouteChat))
			Expect(event.Streaming).To(BeTrue())
			Expect(event.Outcome).To(Equal(eventstream.OutcomeOK))
			Expect(event.HTTPStatus).To(Equal(http.StatusOK))
			Expect(event.ConversationID).To(Equal("conv-42"))
			Expect(event.Terminal).To(Equal("done"))
			Expect(event.SSEEvents).To(Equal(5))
			Expect(event.BytesRelayed).To(Equal(int64(len(strings.Join(cannedStream, "")))))
			Expect(event.RequestID).To(Equal(resp.Header.Get("X-Request-Id")))
			Expect(pub.Closed()).To(BeTrue())
		})
	})

	Context("when the upstream ends with the [DONE] sentinel", func() {
		BeforeEach(func() {
			upstream = newFakeUpstream(streamHandler([]string{
				"data: {\"type\":\"content\",\"content\":\"ok\"}\n\n",
				"data: [DONE]\n\n",
			}))
			pub = testutils.NewMockPublisher()
			r = newTestRelay(upstream.URL, func(c *Config) { c.Publisher = pub })
		})

		It("records the sentinel as the terminal marker", func() {
			resp, err := r.server.Test(chatRequest(`{"message":"hi"}`), -1)
			Expect(err).NotTo(HaveOccurred())
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(string(body)).To(HaveSuffix("data: [DONE]\n\n"))

			Expect(r.Close()).To(Succeed())
			r = nil
			Expect(pub.Events()[0].Terminal).To(Equal("[DONE]"))
		})
	})

	Context("when the upstream rejects the request", func() {
		BeforeEach(func() {
			upstream = newFakeUpstream(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"detail":"invalid key test-secret-key-3f9a for tenant acme"}`)
			})
			r = newTestRelay(upstream.URL)
		})

		It("mirrors the status with a generic body", func() {
			resp, err := r.server.Test(chatRequest(`{"message":"hi"}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(MatchJSON(`{"error":"upstream rejected chat request","status":401}`))
			Expect(string(body)).NotTo(ContainSubstring("tenant"))
			Expect(string(body)).NotTo(ContainSubstring(testAPIKey))
		})
	})

	Context("when the upstream cannot be reached", func() {
		BeforeEach(func() {
			l, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			addr := l.Addr().String()
			Expect(l.Close()).To(Succeed())

			r = newTestRelay("http://" + addr)
		})

		It("answers 502", func() {
			resp, err := r.server.Test(chatRequest(`{"message":"hi"}`), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(MatchJSON(`{"error":"upstream unreachable"}`))
		})
	})

	Context("when the client disconnects mid-stream", func() {
		var (
			upstreamGone chan struct{}
			listener     net.Listener
		)

		BeforeEach(func() {
			upstreamGone = make(chan struct{})
			upstream = newFakeUpstream(func(w http.ResponseWriter, req *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				flusher := w.(http.Flusher)
				fmt.Fprint(w, "data: {\"type\":\"content\",\"content\":\"first\"}\n\n")
				flusher.Flush()

				ticker := time.NewTicker(10 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-req.Context().Done():
						close(upstreamGone)
						return
					case <-ticker.C:
						if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
							close(upstreamGone)
							return
						}
						flusher.Flush()
					}
				}
			})
			pub = testutils.NewMockPublisher()
			r = newTestRelay(upstream.URL, func(c *Config) { c.Publisher = pub })

			var err error
			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			go func() { _ = r.RunWithListener(listener) }()
		})

		It("aborts the upstream request", func() {
			resp, err := http.Post("http://"+listener.Addr().String()+RouteChat, "application/json", strings.NewReader(`{"message":"hi"}`))
			Expect(err).NotTo(HaveOccurred())

			line, err := bufio.NewReader(resp.Body).ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(ContainSubstring("first"))

			Expect(resp.Body.Close()).To(Succeed())

			Eventually(upstreamGone, 5*time.Second).Should(BeClosed())

			Expect(r.Close()).To(Succeed())
			r = nil
			Eventually(pub.Events).Should(HaveLen(1))
			Expect(pub.Events()[0].Outcome).To(Equal(eventstream.OutcomeClientGone))
		})
	})

	Context("when the upstream goes silent", func() {
		var (
			listener     net.Listener
			upstreamGone chan struct{}
		)

		BeforeEach(func() {
			upstreamGone = make(chan struct{})
			upstream = newFakeUpstream(func(w http.ResponseWriter, req *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"type\":\"content\",\"content\":\"first\"}\n\n")
				w.(http.Flusher).Flush()

				<-req.Context().Done()
				close(upstreamGone)
			})
			pub = testutils.NewMockPublisher()
			r = newTestRelay(upstream.URL, func(c *Config) {
				c.Publisher = pub
				c.StreamIdleTimeout = 100 * time.Millisecond
			})

			var err error
			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			go func() { _ = r.RunWithListener(listener) }()
		})

		It("aborts the stream once the idle timeout passes", func() {
			resp, err := http.Post("http://"+listener.Addr().String()+RouteChat, "application/json", strings.NewReader(`{"message":"hi"}`))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring("first"))

			Eventually(upstreamGone, 5*time.Second).Should(BeClosed())

			Expect(r.Close()).To(Succeed())
			r = nil
			Eventually(pub.Events).Should(HaveLen(1))
			Expect(pub.Events()[0].Outcome).To(Equal(eventstream.OutcomeUpstreamTimeout))
		})
	})
})
