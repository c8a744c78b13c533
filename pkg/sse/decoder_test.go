package sse

import (
	"errors"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// splitReader hands out its input in fixed pieces, one per Read call.
type splitReader struct {
	pieces []string
	err    error
}

func (s *splitReader) Read(p []byte) (int, error) {
	if len(s.pieces) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(p, s.pieces[0])
	if n < len(s.pieces[0]) {
		s.pieces[0] = s.pieces[0][n:]
	} else {
		s.pieces = s.pieces[1:]
	}
	return n, nil
}

func collectPayloads(d *LineDecoder) ([]string, error) {
	var out []string
	for {
		payload, err := d.Next()
		if err != nil {
			return out, err
		}
		out = append(out, payload)
	}
}

var _ = Describe("LineDecoder", func() {
	It("reports only data lines with the prefix stripped", func() {
		d := NewLineDecoder(strings.NewReader(
			"event: chunk\n" +
				": keep-alive\n" +
				"data: {\"type\":\"content\",\"content\":\"hi\"}\n" +
				"\n" +
				"data: [DONE]\n",
		))

		payloads, err := collectPayloads(d)
		Expect(err).To(Equal(io.EOF))
		Expect(payloads).To(Equal([]string{`{"type":"content","content":"hi"}`, DoneSentinel}))
	})

	It("requires the space after the colon", func() {
		d := NewLineDecoder(strings.NewReader("data:nospace\ndata: spaced\n"))

		payloads, err := collectPayloads(d)
		Expect(err).To(Equal(io.EOF))
		Expect(payloads).To(Equal([]string{"spaced"}))
	})

	It("drops a trailing carriage return", func() {
		d := NewLineDecoder(strings.NewReader("data: one\r\n\r\ndata: two\r\n"))

		payloads, err := collectPayloads(d)
		Expect(err).To(Equal(io.EOF))
		Expect(payloads).To(Equal([]string{"one", "two"}))
	})

	It("returns an unterminated final line before io.EOF", func() {
		d := NewLineDecoder(strings.NewReader("data: first\ndata: last"))

		payload, err := d.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(Equal("first"))

		payload, err = d.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(Equal("last"))

		_, err = d.Next()
		Expect(err).To(Equal(io.EOF))
	})

	It("rejoins lines and multi-byte characters split across reads", func() {
		full := "data: {\"type\":\"content\",\"content\":\"héllo 世界\"}\n\ndata: [DONE]\n\n"
		var pieces []string
		for i := 0; i < len(full); i += 3 {
			end := min(i+3, len(full))
			pieces = append(pieces, full[i:end])
		}
		d := NewLineDecoder(&splitReader{pieces: pieces})

		payloads, err := collectPayloads(d)
		Expect(err).To(Equal(io.EOF))
		Expect(payloads).To(Equal([]string{
			`{"type":"content","content":"héllo 世界"}`,
			DoneSentinel,
		}))
	})

	It("keeps returning a read error after the last line", func() {
		boom := errors.New("connection reset")
		d := NewLineDecoder(&splitReader{pieces: []string{"data: partial"}, err: boom})

		payload, err := d.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(Equal("partial"))

		_, err = d.Next()
		Expect(err).To(MatchError(boom))

		_, err = d.Next()
		Expect(err).To(MatchError(boom))
	})

	It("returns io.EOF for an empty stream", func() {
		d := NewLineDecoder(strings.NewReader(""))

		_, err := d.Next()
		Expect(err).To(Equal(io.EOF))
	})
})
