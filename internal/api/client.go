// Package api provides the HTTP client for the remote inventory API.
//
// The client is deliberately thin: named resource endpoints, standard verbs,
// JSON in and out. Its one real job is classifying failures, because the rest
// of the system branches on whether the remote was reached at all (see
// errors.go).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds every individual remote call. A call exceeding it is
// treated as a network-class failure.
const DefaultTimeout = 45 * time.Second

// Client talks to the remote inventory API with bearer-token authorization.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a remote API client. A zero timeout selects DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET against path and returns the raw JSON response.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post creates a resource and returns the server's representation of it.
func (c *Client) Post(ctx context.Context, path string, body json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put updates the resource at path and returns the server's representation.
func (c *Client) Put(ctx context.Context, path string, body json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// Ping probes the API for reachability. Any response, including an
// application error, proves connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	if err != nil && !IsNetworkError(err) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// No response reached the remote: connection refused, DNS, timeout.
		// Returned unwrapped so callers can classify it.
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Debug("Remote call failed before a response arrived")
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Status: resp.StatusCode,
			Body:   string(respBody),
		}
	}

	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("Remote call completed")

	return respBody, nil
}
