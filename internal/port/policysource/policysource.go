// Package policysource defines the port for fetching operator policies.
package policysource

import "context"

// Source returns the raw operator policy lines ("Disallow: <phrase>").
// Implementations may be remote; callers cache and must treat a fetch
// failure as "no policies" rather than a hard error.
type Source interface {
	Policies(ctx context.Context) ([]string, error)
}
