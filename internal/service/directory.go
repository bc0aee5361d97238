package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/domain"
	"github.com/cordonlabs/sentra/internal/port/discovery"
)

// DirectoryService is an in-memory TTL service registry. Entries expire
// unless refreshed by re-registration; a background sweep prunes them.
type DirectoryService struct {
	mu      sync.RWMutex
	entries map[string]discovery.ServiceInfo

	cfg config.Directory
	log *slog.Logger
	now func() time.Time
}

// NewDirectoryService creates an empty registry.
func NewDirectoryService(cfg config.Directory, log *slog.Logger) *DirectoryService {
	if log == nil {
		log = slog.Default()
	}
	return &DirectoryService{
		entries: make(map[string]discovery.ServiceInfo),
		cfg:     cfg,
		log:     log.With("component", "directory"),
		now:     time.Now,
	}
}

// Register adds or refreshes a service entry. A non-positive ttl falls back
// to the configured default.
func (s *DirectoryService) Register(ctx context.Context, name, url string, ttl time.Duration) (discovery.ServiceInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return discovery.ServiceInfo{}, domain.ErrValidation
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	now := s.now()
	info := discovery.ServiceInfo{
		Name:         name,
		URL:          strings.TrimRight(url, "/"),
		TTLSeconds:   int(ttl / time.Second),
		RegisteredAt: now,
		ExpiresAt:    now.Add(ttl),
	}

	s.mu.Lock()
	s.entries[name] = info
	s.mu.Unlock()

	s.log.Info("service registered", "service", name, "url", info.URL, "ttl", ttl)
	return info, nil
}

// Resolve looks up a service by name, tolerating common naming variants:
// the exact name, the name with a "-service" suffix, and dash/underscore
// swaps. Expired entries are treated as absent.
func (s *DirectoryService) Resolve(ctx context.Context, name string) (discovery.ServiceInfo, error) {
	variants := []string{
		name,
		name + "-service",
		strings.ReplaceAll(name, "_", "-"),
		strings.ReplaceAll(name, "-", "_"),
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range variants {
		if info, ok := s.entries[v]; ok && info.ExpiresAt.After(now) {
			return info, nil
		}
	}
	return discovery.ServiceInfo{}, domain.ErrNotFound
}

// List returns a snapshot of all unexpired entries.
func (s *DirectoryService) List(ctx context.Context) ([]discovery.ServiceInfo, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]discovery.ServiceInfo, 0, len(s.entries))
	for _, info := range s.entries {
		if info.ExpiresAt.After(now) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Deregister removes an entry. Removing an unknown name returns
// domain.ErrNotFound.
func (s *DirectoryService) Deregister(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return domain.ErrNotFound
	}
	delete(s.entries, name)
	s.log.Info("service deregistered", "service", name)
	return nil
}

// Run sweeps expired entries until ctx is cancelled.
func (s *DirectoryService) Run(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.sweep(); len(removed) > 0 {
				s.log.Info("expired services removed", "services", removed)
			}
		}
	}
}

func (s *DirectoryService) sweep() []string {
	now := s.now()
	var removed []string

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, info := range s.entries {
		if !info.ExpiresAt.After(now) {
			delete(s.entries, name)
			removed = append(removed, name)
		}
	}
	return removed
}
