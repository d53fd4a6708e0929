// Package rulesource keeps the rule registry in sync with the monitoring
// system's provisioned alert rules. Sync is additive only: assignments an
// operator has configured are never overwritten.
package rulesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ExternalRule is one alert rule as known by the monitoring system.
type ExternalRule struct {
	UID    string
	Title  string
	Folder string
	Labels map[string]string
}

// GrafanaClient lists provisioned alert rules over the Grafana HTTP API.
type GrafanaClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewGrafanaClient creates a client for baseURL.
func NewGrafanaClient(baseURL, apiKey string, timeout time.Duration) *GrafanaClient {
	return &GrafanaClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type grafanaRule struct {
	UID       string            `json:"uid"`
	Title     string            `json:"title"`
	FolderUID string            `json:"folderUID"`
	Labels    map[string]string `json:"labels"`
}

// ListRules fetches all provisioned alert rules.
func (c *GrafanaClient) ListRules(ctx context.Context) ([]ExternalRule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/provisioning/alert-rules", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rules request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list alert rules: unexpected status %d", resp.StatusCode)
	}

	var rules []grafanaRule
	if err := json.NewDecoder(resp.Body).Decode(&rules); err != nil {
		return nil, fmt.Errorf("failed to decode alert rules: %w", err)
	}

	out := make([]ExternalRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, ExternalRule{
			UID:    r.UID,
			Title:  r.Title,
			Folder: r.FolderUID,
			Labels: r.Labels,
		})
	}
	return out, nil
}
