package origin

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sydlexius/musicmap/internal/cache"
	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/observability"
	"github.com/sydlexius/musicmap/internal/provider"
)

// DefaultSearchLimit is how many registry candidates are considered per artist.
const DefaultSearchLimit = 3

// RegistryRecord is the geographic view of a registry artist entry. Empty
// strings mean the registry has no value.
type RegistryRecord struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Area      string `json:"area,omitempty"`
	BeginArea string `json:"begin_area,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Specific derives the most precise place string the record supports:
// begin area + country, then area + country, then begin area, then area.
func (r RegistryRecord) Specific() (string, bool) {
	switch {
	case r.BeginArea != "" && r.Country != "":
		return r.BeginArea + ", " + r.Country, true
	case r.Area != "" && r.Country != "":
		return r.Area + ", " + r.Country, true
	case r.BeginArea != "":
		return r.BeginArea, true
	case r.Area != "":
		return r.Area, true
	default:
		return "", false
	}
}

// Candidates returns the registry's candidates in priority order: the
// specific string, then the bare country.
func (r RegistryRecord) Candidates() []Candidate {
	var out []Candidate
	if s, ok := r.Specific(); ok {
		out = append(out, Candidate{Text: s, Source: location.SourceRegistrySpecific})
	}
	if r.Country != "" {
		out = append(out, Candidate{Text: r.Country, Source: location.SourceRegistryCountry})
	}
	return out
}

// RegistryLookup finds an artist's registry record in two steps: a name
// search, then a full fetch of the best candidate.
type RegistryLookup struct {
	source  RegistrySource
	store   *cache.Store
	limit   int
	delay   time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRegistryLookup creates a RegistryLookup. A non-positive limit uses DefaultSearchLimit.
func NewRegistryLookup(source RegistrySource, store *cache.Store, limit int, delay time.Duration, logger *slog.Logger, metrics *observability.Metrics) *RegistryLookup {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return &RegistryLookup{
		source:  source,
		store:   store,
		limit:   limit,
		delay:   delay,
		logger:  logger.With(slog.String("component", "registry-lookup")),
		metrics: metrics,
	}
}

// Lookup returns the artist's record, or nil when the search finds nothing
// or fails.
func (l *RegistryLookup) Lookup(ctx context.Context, artist string) *RegistryRecord {
	if artist == "" {
		return nil
	}
	if rec, ok := cache.Lookup[*RegistryRecord](l.store, cache.NamespaceRegistry, artist); ok {
		return rec
	}

	rec, cacheable := l.fetch(ctx, artist)
	if cacheable {
		if err := l.store.Put(cache.NamespaceRegistry, artist, rec); err != nil {
			l.logger.Warn("caching registry result", slog.String("error", err.Error()))
		}
	}
	return rec
}

func (l *RegistryLookup) fetch(ctx context.Context, artist string) (*RegistryRecord, bool) {
	clock := l.store.Clock()
	if err := pause(ctx, clock, l.delay); err != nil {
		return nil, false
	}

	start := time.Now()
	results, err := l.source.SearchArtist(ctx, artist, l.limit)
	outcome := classify(err)
	if err == nil && len(results) == 0 {
		outcome = outcomeEmpty
	}
	l.metrics.SourceRequest(string(provider.NameMusicBrainz), outcome, time.Since(start))

	if err != nil {
		if outcome == outcomeEmpty {
			return nil, true
		}
		l.logger.Warn("registry search failed",
			slog.String("artist", artist),
			slog.String("kind", outcome),
			slog.String("error", err.Error()))
		return nil, false
	}
	if len(results) == 0 {
		l.logger.Debug("no registry match", slog.String("artist", artist))
		return nil, true
	}

	best := BestMatch(artist, results)
	rec := &RegistryRecord{
		ID:        best.ProviderID,
		Name:      best.Name,
		Area:      best.Area,
		BeginArea: best.BeginArea,
		Country:   best.Country,
	}
	if best.ProviderID == "" {
		return rec, true
	}

	if err := pause(ctx, clock, l.delay); err != nil {
		return rec, false
	}
	start = time.Now()
	full, err := l.source.GetArtistArea(ctx, best.ProviderID)
	l.metrics.SourceRequest(string(provider.NameMusicBrainz), classify(err), time.Since(start))
	if err != nil {
		// The search payload already carries the areas; keep it.
		l.logger.Warn("registry fetch failed, using search result",
			slog.String("artist", artist),
			slog.String("id", best.ProviderID),
			slog.String("error", err.Error()))
		return rec, true
	}

	rec.Name = full.Name
	rec.Area = full.Area
	rec.BeginArea = full.BeginArea
	rec.Country = full.Country
	return rec, true
}

// BestMatch picks the highest-scored result whose name equals query
// case-insensitively, or the highest-scored result overall when none does.
// Ties keep the earlier result. results must not be empty.
func BestMatch(query string, results []provider.ArtistSearchResult) provider.ArtistSearchResult {
	best := -1
	for i, r := range results {
		if !strings.EqualFold(r.Name, query) {
			continue
		}
		if best < 0 || r.Score > results[best].Score {
			best = i
		}
	}
	if best >= 0 {
		return results[best]
	}

	best = 0
	for i, r := range results {
		if r.Score > results[best].Score {
			best = i
		}
	}
	return results[best]
}
