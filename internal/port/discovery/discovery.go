// Package discovery defines the port for service registration and lookup.
package discovery

import (
	"context"
	"time"
)

// ServiceInfo describes one registered service instance.
type ServiceInfo struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	TTLSeconds   int       `json:"ttl_seconds"`
	RegisteredAt time.Time `json:"registered_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Registry is the port for the service directory. Resolve must tolerate
// common naming variants (suffix, dash/underscore differences); it returns
// domain.ErrNotFound for unknown or expired names.
type Registry interface {
	Register(ctx context.Context, name, url string, ttl time.Duration) (ServiceInfo, error)
	Resolve(ctx context.Context, name string) (ServiceInfo, error)
	List(ctx context.Context) ([]ServiceInfo, error)
	Deregister(ctx context.Context, name string) error
}
