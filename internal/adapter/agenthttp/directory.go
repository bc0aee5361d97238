package agenthttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cordonlabs/sentra/internal/domain"
	"github.com/cordonlabs/sentra/internal/port/discovery"
)

// DirectoryClient implements the registry port against a standalone
// directory service. Resolve results are cached briefly to keep hot-path
// lookups off the network.
type DirectoryClient struct {
	client   *Client
	cache    resolveCache
	cacheTTL time.Duration
}

type resolveCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NewDirectoryClient wraps a shared client as a registry. cache may be nil
// to disable resolve caching.
func NewDirectoryClient(client *Client, cache resolveCache, cacheTTL time.Duration) *DirectoryClient {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Second
	}
	return &DirectoryClient{client: client, cache: cache, cacheTTL: cacheTTL}
}

type registerRequest struct {
	ServiceName string `json:"service_name"`
	ServiceURL  string `json:"service_url"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

type resolveResponse struct {
	Service string `json:"service"`
	URL     string `json:"url"`
}

// Register adds or refreshes this service in the remote directory.
func (d *DirectoryClient) Register(ctx context.Context, name, svcURL string, ttl time.Duration) (discovery.ServiceInfo, error) {
	req := registerRequest{ServiceName: name, ServiceURL: svcURL, TTLSeconds: int(ttl / time.Second)}
	var resp struct {
		Service   string  `json:"service"`
		URL       string  `json:"url"`
		ExpiresAt float64 `json:"expires_at"`
	}
	if err := d.client.doJSON(ctx, http.MethodPost, "/register", req, &resp); err != nil {
		return discovery.ServiceInfo{}, fmt.Errorf("directory register %s: %w", name, err)
	}
	return discovery.ServiceInfo{
		Name:       resp.Service,
		URL:        resp.URL,
		TTLSeconds: req.TTLSeconds,
		ExpiresAt:  time.Unix(int64(resp.ExpiresAt), 0),
	}, nil
}

// Resolve looks a service up, consulting the cache first. A 404 from the
// directory maps to domain.ErrNotFound.
func (d *DirectoryClient) Resolve(ctx context.Context, name string) (discovery.ServiceInfo, error) {
	cacheKey := "directory:" + name
	if d.cache != nil {
		if data, ok, err := d.cache.Get(ctx, cacheKey); err == nil && ok {
			return discovery.ServiceInfo{Name: name, URL: string(data)}, nil
		}
	}

	var resp resolveResponse
	path := "/discover?service_name=" + url.QueryEscape(name)
	if err := d.client.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return discovery.ServiceInfo{}, domain.ErrNotFound
		}
		return discovery.ServiceInfo{}, fmt.Errorf("directory resolve %s: %w", name, err)
	}

	if d.cache != nil {
		_ = d.cache.Set(ctx, cacheKey, []byte(resp.URL), d.cacheTTL)
	}
	return discovery.ServiceInfo{Name: resp.Service, URL: resp.URL}, nil
}

// List returns all live entries from the remote directory.
func (d *DirectoryClient) List(ctx context.Context) ([]discovery.ServiceInfo, error) {
	var resp struct {
		Services []discovery.ServiceInfo `json:"services"`
	}
	if err := d.client.doJSON(ctx, http.MethodGet, "/list", nil, &resp); err != nil {
		return nil, fmt.Errorf("directory list: %w", err)
	}
	return resp.Services, nil
}

// Deregister removes this service from the remote directory.
func (d *DirectoryClient) Deregister(ctx context.Context, name string) error {
	req := struct {
		ServiceName string `json:"service_name"`
	}{ServiceName: name}
	if err := d.client.doJSON(ctx, http.MethodPost, "/deregister", req, nil); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return domain.ErrNotFound
		}
		return fmt.Errorf("directory deregister %s: %w", name, err)
	}
	return nil
}
