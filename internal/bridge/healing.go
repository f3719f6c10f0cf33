package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alphabridge/runtime/internal/corelog"
)

// Healer enumerates remote workflows and rewrites the Dispatcher's
// active webhook to the canonical ID-based URL of a brand-matching one,
// failing soft to "not found" when no match or the API call fails.
type Healer struct {
	httpClient   *http.Client
	automationURL string
	brandTokens  []string
	logger       corelog.Logger
}

// NewHealer builds a Healer against the automation provider's workflow
// list API at automationURL, matching workflow names case-insensitively
// against brandTokens.
func NewHealer(automationURL string, brandTokens []string, logger corelog.Logger) *Healer {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &Healer{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		automationURL: automationURL,
		brandTokens:   brandTokens,
		logger:        logger,
	}
}

type remoteWorkflow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Heal enumerates workflows, picks the first active brand match, and
// returns the canonical ID-based webhook URL for it. False is returned
// on no match or API failure, and the Dispatcher proceeds to standard
// sentry recovery.
func (h *Healer) Heal(ctx context.Context) (string, bool) {
	workflows, err := h.listWorkflows(ctx)
	if err != nil {
		h.logger.Warn("healing protocol: workflow enumeration failed", map[string]interface{}{"error": err.Error()})
		return "", false
	}

	for _, wf := range workflows {
		if !wf.Active {
			continue
		}
		if matchesBrand(wf.Name, h.brandTokens) {
			url := fmt.Sprintf("%s/webhook/%s", strings.TrimRight(h.automationURL, "/"), wf.ID)
			h.logger.Info("healing protocol: rewrote active webhook", map[string]interface{}{
				"operation": "heal",
				"workflow":  wf.Name,
				"url":       url,
			})
			return url, true
		}
	}
	return "", false
}

func matchesBrand(name string, tokens []string) bool {
	lower := strings.ToLower(name)
	for _, t := range tokens {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func (h *Healer) listWorkflows(ctx context.Context) ([]remoteWorkflow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(h.automationURL, "/")+"/api/v1/workflows", nil)
	if err != nil {
		return nil, fmt.Errorf("building workflow list request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling workflow list API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workflow list API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data []remoteWorkflow `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding workflow list: %w", err)
	}
	return payload.Data, nil
}
