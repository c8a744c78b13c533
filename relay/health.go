package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/utils"
)

const (
	// healthSnippetRunes is how much of the upstream health body is echoed.
	healthSnippetRunes = 200

	healthReadLimit = 64 << 10
)

// handleHealth probes the upstream health endpoint within HealthTimeout and
// reports what it saw. A probe that times out answers 408 and one that cannot
// connect answers 503, so the two are distinguishable by status alone.
func (r *Relay) handleHealth(c *fiber.Ctx) error {
	x := r.begin(c, RouteHealth, false)

	up, ok := r.requireUpstream(c, x)
	if !ok {
		return nil
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.config.HealthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, up.endpoint(upstreamHealthPath), nil)
	if err != nil {
		x.logger.Error("failed to create upstream request", "error", err)
		return r.reply(c, x, fiber.StatusInternalServerError, eventstream.OutcomeStreamError, rag.ErrorResponse{Error: "internal error"})
	}
	r.headerHandler.SetAPIKey(httpReq, up.APIKey)

	report := rag.HealthReport{}
	httpResp, err := r.httpClient.Do(httpReq)
	if err == nil {
		var body []byte
		body, err = io.ReadAll(io.LimitReader(httpResp.Body, healthReadLimit))
		httpResp.Body.Close()

		report.UpstreamStatus = httpResp.StatusCode
		report.UpstreamOK = httpResp.StatusCode >= 200 && httpResp.StatusCode <= 299
		report.BodySnippet = utils.Snippet(string(body), healthSnippetRunes)
	}

	report.TimeMs = time.Since(started).Milliseconds()
	report.Timestamp = time.Now().UTC()

	switch {
	case err == nil:
		return r.reply(c, x, fiber.StatusOK, eventstream.OutcomeOK, report)

	case errors.Is(err, context.DeadlineExceeded):
		x.logger.Warn("upstream health probe timed out", "timeout", r.config.HealthTimeout)
		report.Error = "Request timeout"
		report.Hint = "the backend did not answer in time; it may be starting up"
		return r.reply(c, x, fiber.StatusRequestTimeout, eventstream.OutcomeUpstreamTimeout, report)

	default:
		x.logger.Warn("upstream health probe failed", "error", err)
		report.Error = "Network error"
		report.Hint = "the backend could not be reached; check the upstream base URL"
		return r.reply(c, x, fiber.StatusServiceUnavailable, eventstream.OutcomeUpstreamUnreachable, report)
	}
}

// handlePing reports that the relay itself is alive. It never contacts the
// upstream and works without configuration.
func (r *Relay) handlePing(c *fiber.Ctx) error {
	x := r.begin(c, RoutePing, false)

	return r.reply(c, x, fiber.StatusOK, eventstream.OutcomeOK, rag.PingResponse{
		OK:        true,
		Timestamp: time.Now().UTC(),
		Runtime:   "go",
	})
}
