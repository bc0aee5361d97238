// Package agenthttp provides HTTP clients for the peer services Sentra
// talks to: the remote worker agent, a standalone directory, and a remote
// control plane. All clients share one transport with the shared-secret
// header and an optional circuit breaker.
package agenthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cordonlabs/sentra/internal/middleware"
	"github.com/cordonlabs/sentra/internal/resilience"
)

// Client is the shared HTTP plumbing for one peer service.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a client for the peer at baseURL. secret is sent in the
// shared-secret header on every request; empty disables it.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// doJSON performs one request. in is marshalled as the body when non-nil;
// the response body is unmarshalled into out when out is non-nil. Status
// codes >= 400 are errors carrying the body text.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	call := func() error {
		var body io.Reader
		if in != nil {
			data, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.secret != "" {
			req.Header.Set(middleware.HeaderSharedSecret, c.secret)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return &StatusError{Code: resp.StatusCode, Body: string(data)}
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

// StatusError is an HTTP error response from a peer service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer returned %d: %s", e.Code, e.Body)
}
