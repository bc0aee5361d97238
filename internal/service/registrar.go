package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/port/discovery"
)

const registrarRetryBackoff = 5 * time.Second

// Registrar keeps this instance registered in the service directory by
// refreshing its TTL entry. It runs independently of task lifecycles.
type Registrar struct {
	registry discovery.Registry
	name     string
	url      string
	ttl      time.Duration
	log      *slog.Logger
}

// NewRegistrar creates a registrar for this instance. registry is typically
// the HTTP directory client, but the in-process service works too.
func NewRegistrar(cfg config.Directory, name string, registry discovery.Registry, log *slog.Logger) *Registrar {
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registrar{
		registry: registry,
		name:     name,
		url:      cfg.SelfURL,
		ttl:      ttl,
		log:      log.With("component", "registrar", "service", name),
	}
}

// Run registers immediately, then refreshes at 3/4 of the TTL so the entry
// never lapses between heartbeats. Failed attempts retry after a fixed
// backoff. Returns when ctx is cancelled, deregistering best-effort.
func (r *Registrar) Run(ctx context.Context) {
	interval := r.ttl * 3 / 4
	for {
		delay := interval
		if _, err := r.registry.Register(ctx, r.name, r.url, r.ttl); err != nil {
			r.log.Warn("directory registration failed", "error", err, "retry_in", registrarRetryBackoff)
			delay = registrarRetryBackoff
		}

		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.registry.Deregister(dctx, r.name); err != nil {
				r.log.Debug("deregister on shutdown failed", "error", err)
			}
			cancel()
			return
		case <-time.After(delay):
		}
	}
}
