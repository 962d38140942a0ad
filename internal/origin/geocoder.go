package origin

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/sydlexius/musicmap/internal/cache"
	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/observability"
	"github.com/sydlexius/musicmap/internal/provider"
)

// qualifierRe matches words that already mark a query as music-related.
var qualifierRe = regexp.MustCompile(`(?i)\b(?:band|group|musician|singer)\b`)

// musicQualifier is appended on the retry for place names that collide with
// common words or band names.
const musicQualifier = " music"

// Geocoder turns place names into coordinates.
type Geocoder struct {
	source  GeocodingSource
	store   *cache.Store
	delay   time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewGeocoder creates a Geocoder over source, caching in store.
func NewGeocoder(source GeocodingSource, store *cache.Store, delay time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Geocoder {
	return &Geocoder{
		source:  source,
		store:   store,
		delay:   delay,
		logger:  logger.With(slog.String("component", "geocoder")),
		metrics: metrics,
	}
}

// Geocode returns coordinates for place, or nil when it cannot be placed.
// Errors of every kind degrade to nil.
func (g *Geocoder) Geocode(ctx context.Context, place string) *location.Coordinates {
	text, ok := location.Normalize(place)
	if !ok {
		return nil
	}
	if c, ok := cache.Lookup[*location.Coordinates](g.store, cache.NamespaceGeocode, text); ok {
		return c
	}

	coords, cacheable := g.fetch(ctx, text)
	if cacheable {
		if err := g.store.Put(cache.NamespaceGeocode, text, coords); err != nil {
			g.logger.Warn("caching geocode result", slog.String("error", err.Error()))
		}
	}
	return coords
}

func (g *Geocoder) fetch(ctx context.Context, text string) (*location.Coordinates, bool) {
	if err := pause(ctx, g.store.Clock(), g.delay); err != nil {
		return nil, false
	}

	pt, err := g.query(ctx, text)
	if err != nil {
		return nil, g.degrade(text, err)
	}
	if pt == nil && !qualifierRe.MatchString(text) {
		g.logger.Debug("no result, retrying with music qualifier", slog.String("place", text))
		pt, err = g.query(ctx, text+musicQualifier)
		if err != nil {
			return nil, g.degrade(text, err)
		}
	}
	if pt == nil {
		g.logger.Debug("no geocode result", slog.String("place", text))
		return nil, true
	}
	return &location.Coordinates{Lat: pt.Lat, Lon: pt.Lon}, true
}

func (g *Geocoder) query(ctx context.Context, text string) (*provider.GeoPoint, error) {
	start := time.Now()
	pt, err := g.source.Geocode(ctx, text)
	outcome := classify(err)
	if err == nil && pt == nil {
		outcome = outcomeEmpty
	}
	g.metrics.SourceRequest(string(provider.NameNominatim), outcome, time.Since(start))
	return pt, err
}

// degrade logs a failed geocode by kind and reports whether the failure is
// safe to cache as "no result".
func (g *Geocoder) degrade(text string, err error) bool {
	kind := classify(err)
	switch kind {
	case outcomeEmpty:
		return true
	case outcomeTimeout:
		g.logger.Warn("geocode timed out", slog.String("place", text))
	case outcomeService:
		g.logger.Warn("geocode service error", slog.String("place", text), slog.String("error", err.Error()))
	default:
		g.logger.Error("unexpected geocode error", slog.String("place", text), slog.String("error", err.Error()))
	}
	return false
}
