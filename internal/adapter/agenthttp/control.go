package agenthttp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cordonlabs/sentra/internal/domain/event"
)

// ControlClient implements the halt-checker port against a remote control
// plane exposing GET /api/v1/control/status.
type ControlClient struct {
	client *Client
}

// NewControlClient wraps a shared client as a halt checker.
func NewControlClient(client *Client) *ControlClient {
	return &ControlClient{client: client}
}

// Halted fetches the remote kill-switch state. Callers treat errors as
// "unknown" and proceed; a dead control plane must not stop all work.
func (c *ControlClient) Halted(ctx context.Context) (bool, string, error) {
	var st event.ControlState
	if err := c.client.doJSON(ctx, http.MethodGet, "/api/v1/control/status", nil, &st); err != nil {
		return false, "", fmt.Errorf("control status: %w", err)
	}
	return st.Halted, st.Reason, nil
}
