package ragclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/papercomputeco/ragrelay/pkg/rag"
	"github.com/papercomputeco/ragrelay/pkg/utils"
)

// uploadField is the multipart field the relay reads the document from.
const uploadField = "file"

// Stats fetches the backend's retrieval statistics.
func (c *Client) Stats(ctx context.Context) (rag.Stats, error) {
	resp, err := c.get(ctx, routeStats)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats rag.Stats
	if err := decodeJSON(resp, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Upload sends a document to the backend for ingestion.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (*rag.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(uploadField, filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(routeUpload), &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("User-Agent", utils.UserAgent())

	c.logger.Debug("uploading document", "filename", filepath.Base(filename), "bytes", buf.Len())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to relay: %w", err)
	}
	defer resp.Body.Close()

	var out rag.UploadResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health asks the relay to probe the backend. A probe that took too long
// returns ErrTimeout and one that could not connect returns ErrUnreachable;
// the relay's report is returned alongside when it sent one.
func (c *Client) Health(ctx context.Context) (*rag.HealthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	resp, err := c.get(ctx, routeHealth)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: relay did not answer within %s", ErrTimeout, c.healthTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusServiceUnavailable:
		sentinel := ErrUnreachable
		if resp.StatusCode == http.StatusRequestTimeout {
			sentinel = ErrTimeout
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		if err != nil {
			return nil, fmt.Errorf("%w: reading health report: %w", sentinel, err)
		}
		var report rag.HealthReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("%w: %w", sentinel, statusErrorFromBody(resp.StatusCode, body))
		}
		return &report, fmt.Errorf("%w: %s", sentinel, report.Error)
	}

	var report rag.HealthReport
	if err := decodeJSON(resp, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Ping checks that the relay itself is up.
func (c *Client) Ping(ctx context.Context) (*rag.PingResponse, error) {
	resp, err := c.get(ctx, routePing)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out rag.PingResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, route string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(route), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", utils.UserAgent())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to relay: %w", err)
	}
	return resp, nil
}
