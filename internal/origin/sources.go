// Package origin turns artist names into geographic origins by combining
// encyclopedia, registry and geocoding lookups behind a shared cache.
package origin

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sydlexius/musicmap/internal/provider"
)

// BiographySource returns the infobox rows of an encyclopedia article.
type BiographySource interface {
	GetInfobox(ctx context.Context, slug string) ([]provider.InfoboxRow, error)
}

// RegistrySource searches a canonical music registry and fetches full records.
type RegistrySource interface {
	SearchArtist(ctx context.Context, name string, limit int) ([]provider.ArtistSearchResult, error)
	GetArtistArea(ctx context.Context, id string) (*provider.ArtistArea, error)
}

// GeocodingSource resolves free text to a point. It returns nil, nil when
// there is no match.
type GeocodingSource interface {
	Geocode(ctx context.Context, text string) (*provider.GeoPoint, error)
}

// pause blocks for d on clock, returning early if ctx ends.
func pause(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failure kinds reported in logs and metrics.
const (
	outcomeSuccess    = "success"
	outcomeEmpty      = "empty"
	outcomeTimeout    = "timeout"
	outcomeService    = "service_error"
	outcomeUnexpected = "unexpected"
)

// classify maps a source error to an outcome label. Only "empty" outcomes
// are safe to cache as negative results.
func classify(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	var nf *provider.ErrNotFound
	if errors.As(err, &nf) {
		return outcomeEmpty
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return outcomeTimeout
	}
	var pu *provider.ErrProviderUnavailable
	if errors.As(err, &pu) {
		return outcomeService
	}
	return outcomeUnexpected
}
