// Package ragclient talks to a ragrelay server: it streams chat answers and
// wraps the stats, upload, health and ping routes.
package ragclient

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/ragrelay/pkg/logger"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/utils"
)

const (
	routeChat   = "/api/chat"
	routeStats  = "/api/stats"
	routeUpload = "/api/upload"
	routeHealth = "/api/health"
	routePing   = "/api/ping"
)

const defaultHealthTimeout = 15 * time.Second

// errorBodyLimit caps how much of a failed response is read for its message.
const errorBodyLimit = 4 << 10

// Client is a ragrelay client. It is safe for concurrent use; every stream it
// creates is independent.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	logger        *slog.Logger
	healthTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. The client must not carry an overall
// timeout if it is used for chat streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for skipped frames and request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithHealthTimeout bounds Health calls.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.healthTimeout = d
	}
}

// NewClient returns a Client for the relay at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		logger:        logger.Nop(),
		healthTimeout: defaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = logger.Nop()
	}
	if c.healthTimeout <= 0 {
		c.healthTimeout = defaultHealthTimeout
	}
	return c
}

// BaseURL returns the relay origin the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(route string) string {
	return c.baseURL + route
}

// newStatusError reads the relay's error body from a failed response.
func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return statusErrorFromBody(resp.StatusCode, body)
}

// statusErrorFromBody builds a StatusError from a body that was already read.
func statusErrorFromBody(code int, body []byte) *StatusError {
	se := &StatusError{StatusCode: code}

	var errResp rag.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		se.Message = errResp.Error
		se.UpstreamStatus = errResp.Status
		return se
	}

	se.Message = utils.Snippet(strings.TrimSpace(string(body)), 200)
	if se.Message == "" {
		se.Message = http.StatusText(code)
	}
	return se
}

// decodeJSON decodes a 2xx JSON body into v or returns a StatusError.
func decodeJSON(resp *http.Response, v any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
