// Package client calls the clinic-sync internal API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pilab-dev/clinic-sync/api"
	echoapi "github.com/pilab-dev/clinic-sync/api/echo"
	"github.com/pilab-dev/clinic-sync/services"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Description != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Body.Error, e.Body.Description)
	}
	return fmt.Sprintf("server returned %d (%s)", e.StatusCode, e.Body.Error)
}

// Client is a thin typed wrapper over the /internal endpoints.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client. timeout covers the whole request, including a full
// provider round trip for sync calls.
func New(endpoint, apiKey string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("server endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid server endpoint: %w", err)
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Status(ctx context.Context) (*services.ConnectionStatus, error) {
	var status services.ConnectionStatus
	return &status, c.do(ctx, http.MethodGet, "/internal/provider/status", nil, &status)
}

func (c *Client) Connect(ctx context.Context) (*services.ConnectionStatus, error) {
	var status services.ConnectionStatus
	return &status, c.do(ctx, http.MethodPost, "/internal/provider/connect", nil, &status)
}

func (c *Client) Reconnect(ctx context.Context) (*services.ConnectionStatus, error) {
	var status services.ConnectionStatus
	return &status, c.do(ctx, http.MethodPost, "/internal/provider/reconnect", nil, &status)
}

// Sync triggers a clinic sync for userID. An empty email lets the server use
// the stored user email.
func (c *Client) Sync(ctx context.Context, userID, email string) (*services.SyncResult, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	var result services.SyncResult
	path := "/internal/users/" + url.PathEscape(userID) + "/clinics/sync"
	return &result, c.do(ctx, http.MethodPost, path, api.SyncRequest{Email: email}, &result)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(echoapi.APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
		if apiErr.Body.Error == "" {
			apiErr.Body.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
