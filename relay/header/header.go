// Package header decides which headers cross the relay.
//
// The relay sits between a client and the upstream RAG backend like so:
//
//	Client <--> Relay <--> Upstream RAG API
//
// Unlike a transparent proxy the relay forwards almost nothing: the upstream
// sees only the headers the relay sets itself plus the injected API key, and
// the client sees only the headers each route needs.
package header

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/ragrelay/pkg/utils"
)

// APIKeyHeader carries the upstream secret. It is only ever set on outbound
// requests.
const APIKeyHeader = "X-Api-Key"

// RequestIDHeader tags each relayed request and its response.
const RequestIDHeader = "X-Request-Id"

// Handler manages headers between relay connections.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// forwardRequest is the set of client request headers (client --> relay -->
// upstream) that are copied onto upload requests. Content-Type carries the
// multipart boundary, so it must reach the upstream unchanged.
var forwardRequest = map[string]struct{}{
	fiber.HeaderContentType: {},
}

// forwardResponse is the set of upstream response headers (client <-- relay
// <-- upstream) copied back on non-streaming passthrough routes.
var forwardResponse = map[string]struct{}{
	fiber.HeaderContentType: {},
}

// SetAPIKey injects the upstream secret and the relay's user agent.
func (h *Handler) SetAPIKey(req *http.Request, apiKey string) {
	req.Header.Set(APIKeyHeader, apiKey)
	req.Header.Set(fiber.HeaderUserAgent, utils.UserAgent())
}

// SetStreamRequestHeaders prepares an outbound chat stream request. None of
// the client's headers are forwarded.
func (h *Handler) SetStreamRequestHeaders(req *http.Request, apiKey string) {
	h.SetAPIKey(req, apiKey)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAccept, "text/event-stream")
}

// SetUploadRequestHeaders copies the allowed client headers onto an outbound
// upload request and injects the API key.
func (h *Handler) SetUploadRequestHeaders(c *fiber.Ctx, req *http.Request, apiKey string) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := http.CanonicalHeaderKey(string(key))
		if _, ok := forwardRequest[k]; ok {
			req.Header.Set(k, string(value))
		}
	})
	h.SetAPIKey(req, apiKey)
}

// SetStreamResponseHeaders marks the client response as an unbuffered event
// stream.
func (h *Handler) SetStreamResponseHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// Ask intermediaries such as nginx not to buffer the stream.
	c.Set("X-Accel-Buffering", "no")
}

// SetClientResponseHeaders copies the allowed upstream response headers to
// the client response.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k := range forwardResponse {
		if v := resp.Header.Get(k); v != "" {
			c.Set(k, v)
		}
	}
}
