// Package broadcast defines the port for pushing real-time telemetry to
// connected clients.
package broadcast

import "context"

// Broadcaster sends a typed event to every connected live-log subscriber.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
