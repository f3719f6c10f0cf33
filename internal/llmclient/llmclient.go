// Package llmclient implements the outbound webhook call the Bridge
// Dispatcher makes to the configured LLM endpoint: a POST of a
// free-form payload accepting any of `prompt`/`chatInput`/`input` plus
// `sessionId`, returning a raw text body the sanitizer then interprets.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alphabridge/runtime/internal/corelog"
	"github.com/alphabridge/runtime/internal/telemetry"
)

// Request is the payload sent to the webhook. A receiving webhook may
// bind any of three field names, so all three are sent with the same
// value.
type Request struct {
	Prompt    string
	SessionID string
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"prompt":    r.Prompt,
		"chatInput": r.Prompt,
		"input":     r.Prompt,
		"sessionId": r.SessionID,
	})
}

// Client calls a single configured webhook URL.
type Client struct {
	httpClient *http.Client
	url        string
	logger     corelog.Logger
	telemetry  telemetry.Telemetry
}

// New builds a Client targeting url with a 30s request timeout.
func New(url string, logger corelog.Logger, tel telemetry.Telemetry) *Client {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	if tel == nil {
		tel = telemetry.NoOp{}
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		logger:     logger,
		telemetry:  tel,
	}
}

// Generate POSTs req and returns the raw response body text for the
// sanitizer to interpret. A non-2xx status or transport failure is
// wrapped in corelog.ErrTransientNetwork so the Bridge Dispatcher's
// retry loop and Circuit Breaker can classify it correctly.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "llmclient.generate")
	defer span.End()
	span.SetAttribute("llm.session_id", req.SessionID)
	span.SetAttribute("llm.prompt_length", len(req.Prompt))

	body, err := json.Marshal(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("marshaling llm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("building llm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("llm webhook request failed", map[string]interface{}{
			"operation": "llm_request_error",
			"url":       c.url,
			"error":     err.Error(),
		})
		return "", fmt.Errorf("calling llm webhook: %w: %w", corelog.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("reading llm response: %w: %w", corelog.ErrTransientNetwork, err)
	}

	c.logger.Debug("llm webhook response received", map[string]interface{}{
		"operation":   "llm_request",
		"url":         c.url,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("llm webhook returned status %d: %w", resp.StatusCode, corelog.ErrTransientNetwork)
		span.RecordError(err)
		return "", err
	}

	return string(respBody), nil
}
