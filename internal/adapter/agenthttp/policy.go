package agenthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cordonlabs/sentra/internal/middleware"
)

// PolicySource fetches operator policy lines from a remote endpoint. The
// guardian caches the result; a fetch failure degrades to "no policies".
type PolicySource struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewPolicySource creates a PolicySource for the given absolute URL.
func NewPolicySource(url, secret string, timeout time.Duration) *PolicySource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PolicySource{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Policies returns the current policy lines.
func (p *PolicySource) Policies(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build policy request: %w", err)
	}
	if p.secret != "" {
		req.Header.Set(middleware.HeaderSharedSecret, p.secret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch policies: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch policies: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Policies []string `json:"policies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}
	return body.Policies, nil
}
