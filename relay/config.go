package relay

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
)

const (
	defaultListenAddr     = ":3000"
	defaultRequestTimeout = 5 * time.Minute
	defaultHealthTimeout  = 15 * time.Second
	defaultStreamIdle     = 2 * time.Minute
	defaultMaxBodyBytes   = 50 << 20
)

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":3000")
	ListenAddr string

	// Upstream is the RAG backend the relay forwards to. It can be replaced at
	// runtime with SetUpstream.
	Upstream Upstream

	// RequestTimeout bounds the non-streaming upstream calls (stats, upload).
	// Streaming chat requests have no overall bound.
	RequestTimeout time.Duration

	// StreamIdleTimeout aborts a chat stream when the upstream sends no bytes
	// for this long. A departed client is only noticed on the next write, so
	// without it a silent upstream would hold the stream open forever.
	StreamIdleTimeout time.Duration

	// HealthTimeout bounds the upstream health probe.
	HealthTimeout time.Duration

	// MaxBodyBytes is the largest request body the relay accepts.
	MaxBodyBytes int

	// Publisher receives one event per relayed request. If nil, events are
	// discarded.
	Publisher eventstream.Publisher
}

// Upstream identifies the RAG backend and carries its secret.
type Upstream struct {
	// BaseURL is the backend origin, e.g. "https://rag.example.com".
	BaseURL string

	// APIKey is sent as the x-api-key header. It never appears in URLs, logs or
	// responses.
	APIKey string
}

// Configured reports whether both the base URL and the API key are present.
func (u Upstream) Configured() bool {
	return u.BaseURL != "" && u.APIKey != ""
}

// endpoint joins the base URL and an absolute path.
func (u Upstream) endpoint(path string) string {
	return strings.TrimRight(u.BaseURL, "/") + path
}

// validate rejects base URLs that cannot be dialed. An empty base URL is
// allowed: the relay then answers every route with a configuration error.
func (u Upstream) validate() error {
	if u.BaseURL == "" {
		return nil
	}
	parsed, err := url.Parse(u.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid upstream base URL: scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid upstream base URL: missing host")
	}
	if parsed.User != nil || parsed.RawQuery != "" {
		return fmt.Errorf("invalid upstream base URL: credentials and query strings are not allowed")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = defaultHealthTimeout
	}
	if c.StreamIdleTimeout <= 0 {
		c.StreamIdleTimeout = defaultStreamIdle
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
}
