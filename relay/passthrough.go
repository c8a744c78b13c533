package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
	"github.com/papercomputeco/ragrelay/pkg/rag"
)

// uploadField is the multipart field that carries the document.
const uploadField = "file"

// handleStats relays the backend's retrieval statistics.
func (r *Relay) handleStats(c *fiber.Ctx) error {
	x := r.begin(c, RouteStats, false)

	up, ok := r.requireUpstream(c, x)
	if !ok {
		return nil
	}

	httpReq, err := http.NewRequestWithContext(c.Context(), http.MethodGet, up.endpoint(upstreamStatsPath), nil)
	if err != nil {
		x.logger.Error("failed to create upstream request", "error", err)
		return r.reply(c, x, fiber.StatusInternalServerError, eventstream.OutcomeStreamError, rag.ErrorResponse{Error: "internal error"})
	}
	r.headerHandler.SetAPIKey(httpReq, up.APIKey)
	httpReq.Header.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)

	status, respBody, outcome, ok := r.roundTrip(c, x, httpReq)
	if !ok {
		return nil
	}
	if outcome != eventstream.OutcomeOK {
		return r.reply(c, x, status, outcome, rag.ErrorResponse{Error: "backend API error", Status: status})
	}

	// Any JSON value is passed through as-is.
	if !json.Valid(respBody) {
		x.logger.Warn("upstream returned invalid stats", "bytes", len(respBody))
		return r.reply(c, x, fiber.StatusBadGateway, eventstream.OutcomeStreamError, rag.ErrorResponse{Error: "invalid response from backend"})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	err = c.Status(status).Send(respBody)
	r.finish(x, status, eventstream.OutcomeOK, int64(len(respBody)))
	return err
}

// handleUpload relays a multipart document upload. The body and its
// Content-Type (including the boundary) reach the upstream byte for byte.
func (r *Relay) handleUpload(c *fiber.Ctx) error {
	x := r.begin(c, RouteUpload, false)

	up, ok := r.requireUpstream(c, x)
	if !ok {
		return nil
	}

	contentType := c.Get(fiber.HeaderContentType)
	if !strings.HasPrefix(strings.ToLower(contentType), fiber.MIMEMultipartForm) {
		return r.reply(c, x, fiber.StatusBadRequest, eventstream.OutcomeBadRequest, rag.ErrorResponse{Error: "No file uploaded"})
	}
	if _, err := c.FormFile(uploadField); err != nil {
		return r.reply(c, x, fiber.StatusBadRequest, eventstream.OutcomeBadRequest, rag.ErrorResponse{Error: "No file uploaded"})
	}

	body := bytes.Clone(c.Body())

	httpReq, err := http.NewRequestWithContext(c.Context(), http.MethodPost, up.endpoint(upstreamUploadPath), bytes.NewReader(body))
	if err != nil {
		x.logger.Error("failed to create upstream request", "error", err)
		return r.reply(c, x, fiber.StatusInternalServerError, eventstream.OutcomeStreamError, rag.ErrorResponse{Error: "internal error"})
	}
	r.headerHandler.SetUploadRequestHeaders(c, httpReq, up.APIKey)

	x.logger.Debug("forwarding upload to upstream", "bytes", len(body))

	status, respBody, outcome, ok := r.roundTrip(c, x, httpReq)
	if !ok {
		return nil
	}
	if outcome != eventstream.OutcomeOK {
		return r.reply(c, x, status, outcome, rag.ErrorResponse{Error: "upload rejected by backend", Status: status})
	}

	err = c.Status(status).Send(respBody)
	r.finish(x, status, eventstream.OutcomeOK, int64(len(respBody)))
	return err
}

// roundTrip performs a bounded upstream call and reads the whole body. On a
// transport failure it answers 502 itself and reports ok=false. A non-2xx
// status is returned with OutcomeUpstreamRejected for the caller to render.
// Allowed upstream headers are copied to the client only for 2xx answers.
func (r *Relay) roundTrip(c *fiber.Ctx, x *exchange, httpReq *http.Request) (int, []byte, eventstream.Outcome, bool) {
	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		x.logger.Error("upstream request failed", "error", err)
		_ = r.reply(c, x, fiber.StatusBadGateway, eventstream.OutcomeUpstreamUnreachable, rag.ErrorResponse{Error: "upstream unreachable"})
		return 0, nil, "", false
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		x.logger.Error("failed to read upstream response", "error", err)
		_ = r.reply(c, x, fiber.StatusBadGateway, eventstream.OutcomeUpstreamUnreachable, rag.ErrorResponse{Error: "upstream unreachable"})
		return 0, nil, "", false
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		x.logger.Warn("upstream returned error", "status", httpResp.StatusCode, "bytes", len(respBody))
		return httpResp.StatusCode, respBody, eventstream.OutcomeUpstreamRejected, true
	}

	r.headerHandler.SetClientResponseHeaders(c, httpResp)
	return httpResp.StatusCode, respBody, eventstream.OutcomeOK, true
}
