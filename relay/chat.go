package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/sse"
	"github.com/papercomputeco/ragrelay/pkg/utils"
)

// rejectedBodyLogLimit caps how much of an upstream error body reaches the
// debug log.
const rejectedBodyLogLimit = 512

// handleChat relays a chat request to the upstream streaming endpoint and
// pipes the event stream back unmodified.
func (r *Relay) handleChat(c *fiber.Ctx) error {
	x := r.begin(c, RouteChat, true)

	up, ok := r.requireUpstream(c, x)
	if !ok {
		return nil
	}

	// fasthttp reuses the request buffer once the handler returns, and the
	// upstream request outlives the handler.
	body := bytes.Clone(c.Body())

	// Use context.Background() instead of c.Context() because fasthttp recycles
	// its RequestCtx after the handler returns, but the stream is copied in a
	// separate goroutine that needs the upstream connection to stay open. The
	// pipe goroutine owns cancel.
	ctx, cancel := context.WithCancel(context.Background())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, up.endpoint(upstreamChatPath), bytes.NewReader(body))
	if err != nil {
		cancel()
		x.logger.Error("failed to create upstream request", "error", err)
		return r.reply(c, x, fiber.StatusInternalServerError, eventstream.OutcomeStreamError, rag.ErrorResponse{Error: "internal error"})
	}

	r.headerHandler.SetStreamRequestHeaders(httpReq, up.APIKey)

	x.logger.Debug("forwarding chat request to upstream", "bytes", len(body))

	httpResp, err := r.streamClient.Do(httpReq)
	if err != nil {
		cancel()
		x.logger.Error("upstream request failed", "error", err)
		return r.reply(c, x, fiber.StatusBadGateway, eventstream.OutcomeUpstreamUnreachable, rag.ErrorResponse{Error: "upstream unreachable"})
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4*rejectedBodyLogLimit))
		httpResp.Body.Close()
		cancel()

		x.logger.Debug("upstream rejected chat request",
			"status", httpResp.StatusCode,
			"body", utils.Truncate(string(respBody), rejectedBodyLogLimit),
		)
		return r.reply(c, x, httpResp.StatusCode, eventstream.OutcomeUpstreamRejected, rag.ErrorResponse{
			Error:  "upstream rejected chat request",
			Status: httpResp.StatusCode,
		})
	}

	r.headerHandler.SetStreamResponseHeaders(c)
	c.Status(httpResp.StatusCode)

	// Use io.Pipe + SetBodyStream instead of SetBodyStreamWriter.
	// SetBodyStreamWriter buffers through an internal channel and two
	// bufio.Writers, so a Flush() in the callback does not reach the socket.
	// With io.Pipe, pw.Write blocks until fasthttp's chunked writer consumes
	// the data and flushes it, which gives backpressure and per-chunk delivery.
	pr, pw := io.Pipe()
	go r.pipeStream(httpResp, pw, cancel, x)

	// Unknown size (-1) selects chunked transfer encoding.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// pipeStream copies the upstream event stream into pw, observing events on
// the way through. It releases the upstream body, cancels the upstream
// context and closes the pipe on every exit path.
func (r *Relay) pipeStream(httpResp *http.Response, pw *io.PipeWriter, cancel context.CancelFunc, x *exchange) {
	defer cancel()
	defer httpResp.Body.Close()

	idle := newIdleReader(httpResp.Body, r.config.StreamIdleTimeout, cancel)
	defer idle.Stop()

	counter := &countingWriter{w: pw}
	tr := sse.NewTeeReader(idle, counter)

	var streamErr error
	for {
		ev, err := tr.Next()
		if errors.Is(err, bufio.ErrTooLong) {
			x.logger.Warn("sse line exceeds parse buffer, relaying the rest unparsed")
			_, err = tr.Drain()
			streamErr = err
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if ev == nil {
			break
		}
		observeEvent(x.event, ev)
	}

	outcome := eventstream.OutcomeOK
	switch {
	case streamErr == nil:
	case counter.Failed():
		outcome = eventstream.OutcomeClientGone
		x.logger.Info("client disconnected, upstream stream aborted", "error", streamErr)
	case idle.TimedOut():
		outcome = eventstream.OutcomeUpstreamTimeout
		x.logger.Warn("upstream went silent, stream aborted", "idle_timeout", r.config.StreamIdleTimeout)
	default:
		outcome = eventstream.OutcomeStreamError
		x.logger.Warn("error reading upstream stream", "error", streamErr)
	}

	// Finish before closing the pipe: the response, and so the connection,
	// stays open until the event is queued.
	r.finish(x, httpResp.StatusCode, outcome, counter.Count())

	// An upstream read error aborts the chunked response instead of ending it
	// cleanly, so the client sees a broken stream rather than a short one.
	if outcome == eventstream.OutcomeStreamError || outcome == eventstream.OutcomeUpstreamTimeout {
		pw.CloseWithError(streamErr)
		return
	}
	pw.Close()
}

// observeEvent records what the relay learns from one SSE event. Payloads
// that do not parse are relayed anyway and simply not counted as terminal.
func observeEvent(event *eventstream.RelayEvent, ev *sse.Event) {
	event.SSEEvents++

	if ev.Data == sse.DoneSentinel {
		event.Terminal = sse.DoneSentinel
		return
	}

	chunk, err := rag.ParseChunk([]byte(ev.Data))
	if err != nil {
		return
	}

	switch ch := chunk.(type) {
	case rag.ConversationChunk:
		event.ConversationID = ch.ConversationID
	case rag.DoneChunk, rag.ErrorChunk:
		event.Terminal = string(ch.Type())
	}
}

// countingWriter counts bytes successfully written to w and remembers whether
// a write failed. Writes only fail once the client side of the pipe is gone.
type countingWriter struct {
	w      io.Writer
	n      atomic.Int64
	failed atomic.Bool
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n.Add(int64(n))
	if err != nil {
		cw.failed.Store(true)
	}
	return n, err
}

func (cw *countingWriter) Count() int64 {
	return cw.n.Load()
}

func (cw *countingWriter) Failed() bool {
	return cw.failed.Load()
}

// idleReader cancels the upstream request when a single Read waits longer
// than timeout. The clock only runs while waiting on the upstream, so a slow
// client applying backpressure never trips it.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		cancel()
	})
	ir.timer.Stop()
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	ir.timer.Reset(ir.timeout)
	n, err := ir.r.Read(p)
	ir.timer.Stop()
	return n, err
}

func (ir *idleReader) Stop() {
	ir.timer.Stop()
}

// TimedOut reports whether the stream was aborted for being idle.
func (ir *idleReader) TimedOut() bool {
	return ir.fired.Load()
}
