// Package client is a thin HTTP client for the ipwatchd admin API, used
// by the ipwatchctl CLI.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sentriq/ipwatch/internal/models"
	"github.com/sentriq/ipwatch/internal/scan"
)

// Client talks to one ipwatchd instance.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client for the daemon at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) doRequest(method, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Block adds an IP to the blocklist.
func (c *Client) Block(ip, reason string) error {
	return c.doRequest(http.MethodPost, "/api/v1/blocklist",
		map[string]string{"ip": ip, "reason": reason}, nil)
}

// Unblock removes an IP from the blocklist.
func (c *Client) Unblock(ip string) error {
	return c.doRequest(http.MethodDelete, "/api/v1/blocklist/"+url.PathEscape(ip), nil, nil)
}

// ListBlocked returns the blocklist.
func (c *Client) ListBlocked() ([]models.BlockedEntry, error) {
	var resp struct {
		Blocked []models.BlockedEntry `json:"blocked"`
	}
	if err := c.doRequest(http.MethodGet, "/api/v1/blocklist", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Blocked, nil
}

// ListFindings returns suspicion findings.
func (c *Client) ListFindings(all bool, limit int) ([]models.SuspicionFinding, error) {
	path := fmt.Sprintf("/api/v1/findings?all=%t", all)
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}
	var resp struct {
		Findings []models.SuspicionFinding `json:"findings"`
	}
	if err := c.doRequest(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Findings, nil
}

// DeactivateFinding clears an active finding.
func (c *Client) DeactivateFinding(ip, reason string) error {
	return c.doRequest(http.MethodPost, "/api/v1/findings/deactivate",
		map[string]string{"ip": ip, "reason": reason}, nil)
}

// RunScan triggers a synchronous scan and returns its stats.
func (c *Client) RunScan() (*scan.Stats, error) {
	var stats scan.Stats
	if err := c.doRequest(http.MethodPost, "/api/v1/scan", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Report fetches the traffic report.
func (c *Client) Report(period string) (json.RawMessage, error) {
	path := "/api/v1/report"
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}
	var raw json.RawMessage
	if err := c.doRequest(http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Check forwards one request through the tracker.
func (c *Client) Check(ip, path, userID, scope string) (string, error) {
	body := map[string]string{"ip": ip, "path": path}
	if userID != "" {
		body["user_id"] = userID
	}
	if scope != "" {
		body["scope"] = scope
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/check", bytes.NewBuffer(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	// 403/429 carry the outcome in the body, so they are not errors here.
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Outcome string `json:"outcome"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%s (status %d)", out.Error, resp.StatusCode)
	}
	return out.Outcome, nil
}
