package origin

import (
	"context"
	"log/slog"

	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/observability"
)

// Candidate is a place string proposed by one source tier.
type Candidate struct {
	Text   string
	Source location.Source
}

// Resolver places a single artist by trying candidates from each source in
// priority order: infobox, registry specific, registry country.
type Resolver struct {
	extractor *Extractor
	registry  *RegistryLookup
	geocoder  *Geocoder
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewResolver wires the three lookups together.
func NewResolver(extractor *Extractor, registry *RegistryLookup, geocoder *Geocoder, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		extractor: extractor,
		registry:  registry,
		geocoder:  geocoder,
		logger:    logger.With(slog.String("component", "resolver")),
		metrics:   metrics,
	}
}

// Candidates gathers every source's candidate for artist, highest priority first.
func (r *Resolver) Candidates(ctx context.Context, artist string) []Candidate {
	var out []Candidate
	r.guard(artist, "infobox", func() {
		if origin, ok := r.extractor.Extract(ctx, artist); ok {
			out = append(out, Candidate{Text: origin, Source: location.SourceWikiInfobox})
		}
	})
	r.guard(artist, "registry", func() {
		if rec := r.registry.Lookup(ctx, artist); rec != nil {
			out = append(out, rec.Candidates()...)
		}
	})
	return out
}

// guard runs one source step. A panic counts as no candidate from that source.
func (r *Resolver) guard(artist, step string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("candidate source panicked",
				slog.String("artist", artist),
				slog.String("step", step),
				slog.Any("panic", p))
		}
	}()
	fn()
}

// Resolve returns the artist's location from the first candidate that
// geocodes. Lower-priority candidates are not tried once one succeeds.
func (r *Resolver) Resolve(ctx context.Context, artist string) location.ResolvedLocation {
	for _, c := range r.Candidates(ctx, artist) {
		text, ok := location.Normalize(c.Text)
		if !ok {
			continue
		}
		coords := r.geocoder.Geocode(ctx, text)
		if coords == nil {
			r.logger.Debug("candidate did not geocode",
				slog.String("artist", artist),
				slog.String("candidate", text),
				slog.String("source", string(c.Source)))
			continue
		}
		r.metrics.Resolution(string(c.Source))
		r.logger.Debug("resolved",
			slog.String("artist", artist),
			slog.String("origin", text),
			slog.String("source", string(c.Source)))
		return location.Resolved(artist, text, *coords, c.Source)
	}

	r.metrics.Resolution(string(location.SourceNone))
	r.logger.Debug("unresolved", slog.String("artist", artist))
	return location.Unresolved(artist)
}
