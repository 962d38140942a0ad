package origin

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sydlexius/musicmap/internal/cache"
	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/observability"
	"github.com/sydlexius/musicmap/internal/provider"
)

// originLabels are the infobox labels that can carry a place of origin.
var originLabels = map[string]bool{
	"origin":      true,
	"born":        true,
	"birth place": true,
	"hometown":    true,
	"founded":     true,
	"location":    true,
}

var spaceBeforePunctRe = regexp.MustCompile(`\s+([,.;:])`)

// minCandidateLen is the shortest infobox value accepted as a place name.
const minCandidateLen = 3

// Extractor reads a place of origin from an artist's encyclopedia infobox.
type Extractor struct {
	source  BiographySource
	store   *cache.Store
	delay   time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExtractor creates an Extractor over source, caching in store.
func NewExtractor(source BiographySource, store *cache.Store, delay time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Extractor {
	return &Extractor{
		source:  source,
		store:   store,
		delay:   delay,
		logger:  logger.With(slog.String("component", "origin-extractor")),
		metrics: metrics,
	}
}

// Extract returns the artist's place of origin according to the infobox.
// Every failure degrades to ("", false).
func (e *Extractor) Extract(ctx context.Context, artist string) (string, bool) {
	if artist == "" {
		return "", false
	}
	if v, ok := cache.Lookup[*string](e.store, cache.NamespaceInfobox, artist); ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}

	origin, cacheable := e.fetch(ctx, artist)
	if cacheable {
		var value *string
		if origin != "" {
			value = &origin
		}
		if err := e.store.Put(cache.NamespaceInfobox, artist, value); err != nil {
			e.logger.Warn("caching infobox result", slog.String("error", err.Error()))
		}
	}
	return origin, origin != ""
}

// fetch performs the outbound lookup. cacheable is false for transient
// failures so they are retried on the next call.
func (e *Extractor) fetch(ctx context.Context, artist string) (origin string, cacheable bool) {
	if err := pause(ctx, e.store.Clock(), e.delay); err != nil {
		return "", false
	}

	start := time.Now()
	rows, err := e.source.GetInfobox(ctx, slug(artist))
	outcome := classify(err)
	if err == nil && len(rows) == 0 {
		outcome = outcomeEmpty
	}
	e.metrics.SourceRequest(string(provider.NameWikipedia), outcome, time.Since(start))

	if err != nil {
		if outcome == outcomeEmpty {
			e.logger.Debug("no infobox", slog.String("artist", artist))
			return "", true
		}
		e.logger.Warn("infobox lookup failed",
			slog.String("artist", artist),
			slog.String("kind", outcome),
			slog.String("error", err.Error()))
		return "", false
	}

	origin, ok := OriginFromRows(rows)
	if !ok {
		e.logger.Debug("no origin label in infobox", slog.String("artist", artist))
		return "", true
	}
	e.logger.Debug("infobox origin", slog.String("artist", artist), slog.String("origin", origin))
	return origin, true
}

// OriginFromRows scans rows in table order and returns the first usable
// value under an origin-type label.
func OriginFromRows(rows []provider.InfoboxRow) (string, bool) {
	for _, row := range rows {
		if !originLabels[strings.ToLower(strings.TrimSpace(row.Label))] {
			continue
		}
		if c, ok := cleanCell(row.Value); ok {
			return c, true
		}
	}
	return "", false
}

// cleanCell strips footnotes, cuts at the first line break or opening
// parenthesis, and normalizes what is left.
func cleanCell(value string) (string, bool) {
	s := location.StripFootnotes(value)
	if i := strings.IndexAny(s, "\n("); i >= 0 {
		s = s[:i]
	}
	s = spaceBeforePunctRe.ReplaceAllString(s, "$1")
	s, ok := location.Normalize(s)
	if !ok || utf8.RuneCountInString(s) < minCandidateLen {
		return "", false
	}
	return s, true
}

// slug maps an artist name to its article path segment.
func slug(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}
