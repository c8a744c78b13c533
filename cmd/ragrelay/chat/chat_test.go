package chatcmder_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	chatcmder "github.com/papercomputeco/ragrelay/cmd/ragrelay/chat"
	"github.com/papercomputeco/ragrelay/pkg/dotdir"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	testutils "github.com/papercomputeco/ragrelay/pkg/utils/test"
)

// fakeRelay answers chat requests with a fixed stream and records the
// requests it received.
type fakeRelay struct {
	*httptest.Server

	mu       sync.Mutex
	requests []rag.ChatRequest
}

func newFakeRelay() *fakeRelay {
	f := &fakeRelay{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req rag.ChatRequest
		_ = json.Unmarshal(body, &req)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		testutils.StreamHandler(testutils.NewTestAnswer("conv-42", "VPN access ", "needs a ticket."), 16)(w, r)
	}))
	return f
}

func (f *fakeRelay) received() []rag.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rag.ChatRequest(nil), f.requests...)
}

var _ = Describe("NewChatCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := chatcmder.NewChatCmd()
		Expect(cmd.Use).To(Equal("chat [question]"))
	})

	It("has the relay flag with its default", func() {
		cmd := chatcmder.NewChatCmd()
		flag := cmd.Flags().Lookup("relay")
		Expect(flag).NotTo(BeNil())
		Expect(flag.Shorthand).To(Equal("r"))
		Expect(flag.DefValue).To(Equal("http://localhost:3000"))
	})
})

var _ = Describe("Chat execution", func() {
	var (
		relay     *fakeRelay
		configDir string
	)

	BeforeEach(func() {
		relay = newFakeRelay()
		configDir = GinkgoT().TempDir()
	})

	AfterEach(func() {
		relay.Close()
	})

	run := func(stdin string, args ...string) string {
		cmd := chatcmder.NewChatCmd()
		cmd.Flags().String("config-dir", "", "")
		cmd.Flags().Bool("debug", false, "")

		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetArgs(append([]string{"--config-dir", configDir, "--relay", relay.URL}, args...))
		Expect(cmd.Execute()).To(Succeed())
		return out.String()
	}

	It("answers a one-shot question with its sources", func() {
		out := run("", "how", "do", "I", "get", "VPN?")

		Expect(out).To(ContainSubstring("VPN access needs a ticket."))
		Expect(out).To(ContainSubstring("handbook.pdf"))
		Expect(relay.received()).To(HaveLen(1))
		Expect(relay.received()[0].Message).To(Equal("how do I get VPN?"))
		Expect(relay.received()[0].ConversationID).To(BeEmpty())
	})

	It("saves the conversation and resumes it", func() {
		run("", "first question")

		state, err := dotdir.NewManager().LoadConversation(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.ConversationID).To(Equal("conv-42"))
		Expect(state.Messages).To(HaveLen(2))
		Expect(state.Messages[1].Content).To(Equal("VPN access needs a ticket."))

		out := run("", "second question")
		Expect(out).To(ContainSubstring("Resuming conversation"))
		Expect(relay.received()[1].ConversationID).To(Equal("conv-42"))
	})

	It("starts over with --new", func() {
		run("", "first question")
		run("", "--new", "another question")

		Expect(relay.received()[1].ConversationID).To(BeEmpty())
	})

	It("reads questions from the prompt until /exit", func() {
		out := run("first\n\nsecond\n/exit\nnever sent\n")

		Expect(relay.received()).To(HaveLen(2))
		Expect(out).To(ContainSubstring("you> "))
	})

	It("sends the configured top-k", func() {
		run("", "--top-k", "6", "question")
		Expect(relay.received()[0].K).To(Equal(6))
	})
})
