package ragclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/sse"
	"github.com/papercomputeco/ragrelay/pkg/utils"
)

// State is the lifecycle position of a Stream.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Handler receives the events of one chat stream. Nil callbacks are skipped.
// Callbacks run on the goroutine that called Run, in arrival order.
type Handler struct {
	// OnChunk receives every parsed chunk, including the terminal done and
	// error chunks.
	OnChunk func(rag.Chunk)

	// OnError receives transport failures: connect errors, non-2xx answers,
	// read errors and invalid requests.
	OnError func(error)

	// OnComplete is called once when the answer finished normally.
	OnComplete func()
}

// Stream is a single chat send. It runs at most once.
type Stream struct {
	client  *Client
	req     rag.ChatRequest
	handler Handler
	logger  *slog.Logger

	state   atomic.Int32
	started atomic.Bool
}

// NewStream prepares a chat stream for req. Nothing is sent until Run.
func (c *Client) NewStream(req rag.ChatRequest, handler Handler) *Stream {
	return &Stream{
		client:  c,
		req:     req,
		handler: handler,
		logger:  c.logger.With("route", routeChat),
	}
}

// StreamChat sends req and dispatches its chunks to handler until the answer
// ends.
func (c *Client) StreamChat(ctx context.Context, req rag.ChatRequest, handler Handler) (rag.Accumulator, error) {
	return c.NewStream(req, handler).Run(ctx)
}

// Collect sends req and returns the accumulated answer without callbacks. An
// error chunk from the backend is returned as a rag.ErrorChunk error together
// with the accumulator.
func (c *Client) Collect(ctx context.Context, req rag.ChatRequest) (rag.Accumulator, error) {
	var transportErr error
	acc, err := c.StreamChat(ctx, req, Handler{
		OnError: func(err error) { transportErr = err },
	})
	if err != nil {
		return acc, err
	}
	if transportErr != nil {
		return acc, transportErr
	}
	if acc.Err != nil {
		return acc, *acc.Err
	}
	return acc, nil
}

// State returns the stream's current state. It is safe to call from any
// goroutine.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Run sends the request and reads the answer until exactly one terminal
// transition happens:
//
//   - a done chunk or the [DONE] sentinel completes the stream (OnComplete),
//   - an error chunk is delivered through OnChunk and ends the stream,
//   - the connection closing without a marker completes the stream,
//   - a transport failure is reported through OnError,
//   - cancelling ctx aborts the connection with no further callback.
//
// Run returns the accumulated answer. Its error is non-nil for transport
// failures and cancellation; an error chunk is not a Run error and is found in
// the accumulator.
func (s *Stream) Run(ctx context.Context) (rag.Accumulator, error) {
	var acc rag.Accumulator

	if !s.started.CompareAndSwap(false, true) {
		return acc, ErrStreamReused
	}

	if err := s.req.Validate(); err != nil {
		return acc, s.fail(ctx, fmt.Errorf("invalid chat request: %w", err))
	}

	s.setState(StateConnecting)

	body, err := json.Marshal(s.req)
	if err != nil {
		return acc, s.fail(ctx, fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.endpoint(routeChat), bytes.NewReader(body))
	if err != nil {
		return acc, s.fail(ctx, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("User-Agent", utils.UserAgent())

	s.logger.Debug("sending chat request",
		"relay", s.client.baseURL,
		"conversation_id", s.req.ConversationID,
		"k", s.req.K,
	)

	resp, err := s.client.httpClient.Do(httpReq)
	if err != nil {
		return acc, s.fail(ctx, fmt.Errorf("sending request to relay: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return acc, s.fail(ctx, newStatusError(resp))
	}

	s.setState(StateStreaming)

	dec := sse.NewLineDecoder(resp.Body)
	for {
		payload, err := dec.Next()
		if ctx.Err() != nil {
			return acc, s.fail(ctx, ctx.Err())
		}
		if errors.Is(err, io.EOF) {
			s.completeOnClose()
			return acc, nil
		}
		if err != nil {
			return acc, s.fail(ctx, fmt.Errorf("reading stream: %w", err))
		}

		if payload == sse.DoneSentinel {
			s.complete()
			return acc, nil
		}

		chunk, err := rag.ParseChunk([]byte(payload))
		if err != nil {
			var unknown *rag.UnknownChunkTypeError
			if errors.As(err, &unknown) {
				s.logger.Warn("skipping chunk of unknown type", "bytes", len(payload))
			} else {
				s.logger.Warn("skipping malformed chunk", "bytes", len(payload))
			}
			continue
		}

		acc = acc.Apply(chunk)
		if s.handler.OnChunk != nil {
			s.handler.OnChunk(chunk)
		}

		// The consumer may abandon the stream from inside OnChunk.
		if ctx.Err() != nil {
			return acc, s.fail(ctx, ctx.Err())
		}

		switch chunk.(type) {
		case rag.DoneChunk:
			s.complete()
			return acc, nil
		case rag.ErrorChunk:
			s.setState(StateErrored)
			return acc, nil
		}
	}
}

func (s *Stream) setState(state State) {
	s.state.Store(int32(state))
}

// complete ends the stream on a done chunk or the [DONE] sentinel.
func (s *Stream) complete() {
	s.setState(StateCompleted)
	if s.handler.OnComplete != nil {
		s.handler.OnComplete()
	}
}

// completeOnClose ends the stream when the relay closed the connection
// without sending a terminal marker. The answer so far is kept as final.
func (s *Stream) completeOnClose() {
	s.logger.Debug("stream closed without terminal marker")
	s.complete()
}

// fail ends the stream on a transport failure. A cancelled context wins over
// whatever error the transport reported and suppresses every callback.
func (s *Stream) fail(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		s.setState(StateCancelled)
		return fmt.Errorf("chat stream cancelled: %w", ctx.Err())
	}

	s.setState(StateErrored)
	s.logger.Debug("chat stream failed", "error", err)
	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
	return err
}
