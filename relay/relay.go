// Package relay is a same-origin relay in front of a remote RAG backend.
//
// Clients talk to the relay without credentials; the relay injects the
// backend's API key and forwards each route to its upstream endpoint. Chat
// answers stream back as server-sent events, relayed byte for byte.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/google/uuid"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
	"github.com/papercomputeco/ragrelay/pkg/eventstream/nop"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/relay/header"
	"github.com/papercomputeco/ragrelay/relay/worker"
)

// Inbound routes.
const (
	RouteChat   = "/api/chat"
	RouteStats  = "/api/stats"
	RouteUpload = "/api/upload"
	RouteHealth = "/api/health"
	RoutePing   = "/api/ping"
)

// Upstream endpoints.
const (
	upstreamChatPath   = "/v1/chat/stream"
	upstreamStatsPath  = "/v1/retrieve/stats"
	upstreamUploadPath = "/v1/uploads"
	upstreamHealthPath = "/healthz"
)

const requestIDKey = "request_id"

// errMisconfigured is the body returned when the upstream is not set up. It
// names neither variable on its own and never echoes the key.
var errMisconfigured = rag.ErrorResponse{Error: "server misconfigured: upstream base URL or API key missing"}

// Relay forwards client requests to the RAG backend.
// The relay is stateless per request; only the upstream settings can change
// while it runs.
type Relay struct {
	config        Config
	upstream      atomic.Pointer[Upstream]
	logger        *slog.Logger
	server        *fiber.App
	headerHandler *header.Handler
	workerPool    *worker.Pool
	publisher     eventstream.Publisher

	// httpClient serves the bounded, non-streaming routes.
	httpClient *http.Client

	// streamClient has no overall timeout: a chat answer streams for as long
	// as the backend keeps generating.
	streamClient *http.Client
}

// New creates a new Relay.
func New(config Config, logger *slog.Logger) (*Relay, error) {
	config.applyDefaults()

	if err := config.Upstream.validate(); err != nil {
		return nil, err
	}

	if config.Publisher == nil {
		config.Publisher = nop.NewPublisher()
	}

	wp, err := worker.NewPool(&worker.Config{
		Publisher: config.Publisher,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		BodyLimit:             config.MaxBodyBytes,
		ErrorHandler:          errorHandler,
	})

	r := &Relay{
		config:        config,
		logger:        logger,
		server:        app,
		headerHandler: header.NewHandler(),
		workerPool:    wp,
		publisher:     config.Publisher,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		streamClient: &http.Client{},
	}
	upstream := config.Upstream
	r.upstream.Store(&upstream)

	app.Use(r.assignRequestID)

	// Compression would buffer and re-encode the event stream, so the chat
	// route is left alone.
	app.Use(compress.New(compress.Config{
		Next: isChatPath,
	}))

	app.Post(RouteChat, r.handleChat)
	app.Get(RouteStats, r.handleStats)
	app.Post(RouteUpload, r.handleUpload)
	app.Get(RouteHealth, r.handleHealth)
	app.Get(RoutePing, r.handlePing)

	return r, nil
}

// Run starts the relay server on the configured listening address.
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		"listen", r.config.ListenAddr,
		"upstream", r.currentUpstream().BaseURL,
	)

	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logger.Info("starting relay server",
		"listen", listener.Addr().String(),
		"upstream", r.currentUpstream().BaseURL,
	)

	return r.server.Listener(listener)
}

// Handler exposes the relay as a net/http handler for embedding in another
// server. Responses are buffered by the adapter, so chat answers arrive in one
// piece rather than as a live stream.
func (r *Relay) Handler() http.Handler {
	return adaptor.FiberApp(r.server)
}

// Close gracefully shuts down the relay, drains pending events and closes the
// publisher.
func (r *Relay) Close() error {
	shutdownErr := r.server.Shutdown()
	r.workerPool.Close()
	return errors.Join(shutdownErr, r.publisher.Close())
}

// SetUpstream replaces the upstream settings for requests that start after
// the call. In-flight requests keep the settings they started with.
func (r *Relay) SetUpstream(u Upstream) error {
	if err := u.validate(); err != nil {
		return err
	}
	r.upstream.Store(&u)
	r.logger.Info("upstream updated",
		"upstream", u.BaseURL,
		"configured", u.Configured(),
	)
	return nil
}

// Upstream returns the settings that requests starting now will use.
func (r *Relay) Upstream() Upstream {
	return r.currentUpstream()
}

func (r *Relay) currentUpstream() Upstream {
	return *r.upstream.Load()
}

// isChatPath matches every path fiber routes to the chat handler. Routing is
// case-insensitive and tolerates a trailing slash, and the middleware runs
// before the route is resolved.
func isChatPath(c *fiber.Ctx) bool {
	return strings.EqualFold(strings.TrimRight(c.Path(), "/"), RouteChat)
}

// assignRequestID tags every request and response with a fresh id.
func (r *Relay) assignRequestID(c *fiber.Ctx) error {
	id := uuid.NewString()
	c.Locals(requestIDKey, id)
	c.Set(header.RequestIDHeader, id)
	return c.Next()
}

// errorHandler renders fiber errors (unknown route, body too large) with the
// relay's JSON error body.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}

	return c.Status(code).JSON(rag.ErrorResponse{Error: msg})
}

// exchange carries the bookkeeping for one relayed request.
type exchange struct {
	event  *eventstream.RelayEvent
	logger *slog.Logger
}

func (r *Relay) begin(c *fiber.Ctx, route string, streaming bool) *exchange {
	requestID, _ := c.Locals(requestIDKey).(string)
	return &exchange{
		event:  eventstream.NewRelayEvent(requestID, route, streaming, time.Now()),
		logger: r.logger.With("request_id", requestID, "route", route),
	}
}

// finish writes the request's log line and hands its event to the pool.
func (r *Relay) finish(x *exchange, status int, outcome eventstream.Outcome, bytesRelayed int64) {
	x.event.BytesRelayed = bytesRelayed
	x.event.Finish(status, outcome, time.Now())

	attrs := []any{
		"status", status,
		"outcome", string(outcome),
		"duration_ms", x.event.DurationMs,
		"bytes", bytesRelayed,
	}
	if x.event.Streaming {
		attrs = append(attrs,
			"sse_events", x.event.SSEEvents,
			"terminal", x.event.Terminal,
		)
	}

	switch outcome {
	case eventstream.OutcomeOK, eventstream.OutcomeClientGone:
		x.logger.Info("request relayed", attrs...)
	default:
		x.logger.Warn("request relayed", attrs...)
	}

	r.workerPool.Enqueue(worker.Job{Event: x.event})
}

// reply sends a JSON body and finishes the exchange.
func (r *Relay) reply(c *fiber.Ctx, x *exchange, status int, outcome eventstream.Outcome, body any) error {
	err := c.Status(status).JSON(body)
	r.finish(x, status, outcome, int64(len(c.Response().Body())))
	return err
}

// requireUpstream returns the current upstream, or answers with a
// configuration error and reports false.
func (r *Relay) requireUpstream(c *fiber.Ctx, x *exchange) (Upstream, bool) {
	u := r.currentUpstream()
	if u.Configured() {
		return u, true
	}

	x.logger.Error("upstream not configured",
		"has_base_url", u.BaseURL != "",
		"has_api_key", u.APIKey != "",
	)
	_ = r.reply(c, x, fiber.StatusInternalServerError, eventstream.OutcomeMisconfigured, errMisconfigured)
	return Upstream{}, false
}
