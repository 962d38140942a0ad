package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sydlexius/musicmap/internal/version"
)

// AccessTier classifies a source's access model.
type AccessTier string

// Access tier constants.
const (
	TierFree    AccessTier = "free"     // No key, usage policy applies
	TierFreeKey AccessTier = "free_key" // Free account/sign-up required
)

// RateLimitInfo documents the known rate limits for a source.
type RateLimitInfo struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	RequestsPerDay    int     `json:"requests_per_day,omitempty"` // 0 = unknown/unlimited
}

// ProviderCapability describes a source's access model and documented rate limits.
type ProviderCapability struct {
	Tier      AccessTier     `json:"tier"`
	HelpURL   string         `json:"help_url,omitempty"`
	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`
}

// ProviderCapabilities returns the known capability metadata for each source.
func ProviderCapabilities() map[ProviderName]ProviderCapability {
	return map[ProviderName]ProviderCapability{
		NameMusicBrainz: {
			Tier:      TierFree,
			HelpURL:   "https://musicbrainz.org/doc/MusicBrainz_API/Rate_Limiting",
			RateLimit: &RateLimitInfo{RequestsPerSecond: 1},
		},
		NameWikipedia: {
			Tier:      TierFree,
			HelpURL:   "https://foundation.wikimedia.org/wiki/Policy:User-Agent_policy",
			RateLimit: &RateLimitInfo{RequestsPerSecond: 5},
		},
		NameNominatim: {
			Tier:      TierFree,
			HelpURL:   "https://operations.osmfoundation.org/policies/nominatim/",
			RateLimit: &RateLimitInfo{RequestsPerSecond: 1},
		},
	}
}

// ProviderName uniquely identifies an external source.
type ProviderName string

// Known source names.
const (
	NameMusicBrainz ProviderName = "musicbrainz"
	NameWikipedia   ProviderName = "wikipedia"
	NameNominatim   ProviderName = "nominatim"
)

// AllProviderNames returns all known source names in lookup order.
func AllProviderNames() []ProviderName {
	return []ProviderName{NameWikipedia, NameMusicBrainz, NameNominatim}
}

// DisplayName returns a human-readable name for the source.
func (n ProviderName) DisplayName() string {
	switch n {
	case NameMusicBrainz:
		return "MusicBrainz"
	case NameWikipedia:
		return "Wikipedia"
	case NameNominatim:
		return "Nominatim"
	default:
		return string(n)
	}
}

// ArtistSearchResult is a single search hit from the music registry.
type ArtistSearchResult struct {
	ProviderID     string `json:"provider_id"`
	Name           string `json:"name"`
	SortName       string `json:"sort_name,omitempty"`
	Type           string `json:"type,omitempty"`
	Disambiguation string `json:"disambiguation,omitempty"`
	Country        string `json:"country,omitempty"`
	Area           string `json:"area,omitempty"`
	BeginArea      string `json:"begin_area,omitempty"`
	Score          int    `json:"score"`
}

// ArtistArea is the geographic part of a full registry record.
type ArtistArea struct {
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
	Area       string `json:"area,omitempty"`
	BeginArea  string `json:"begin_area,omitempty"`
	Country    string `json:"country,omitempty"`
}

// InfoboxRow is one label/value row of an encyclopedia infobox, in page order.
type InfoboxRow struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// GeoPoint is a geocoding hit.
type GeoPoint struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name,omitempty"`
}

// Provider is implemented by every source adapter.
type Provider interface {
	// Name returns the unique source identifier.
	Name() ProviderName
}

// TestableProvider is an optional interface for sources that support a
// connectivity check.
type TestableProvider interface {
	Provider
	TestConnection(ctx context.Context) error
}

// UserAgent builds the identifying User-Agent header. Both MusicBrainz and
// Nominatim reject anonymous clients, so a contact address is embedded.
func UserAgent(contact string) string {
	return fmt.Sprintf("MusicMap/%s ( %s )", version.Version, contact)
}

// ErrProviderUnavailable indicates a transient failure (rate-limited, timeout, server error).
type ErrProviderUnavailable struct {
	Provider   ProviderName
	Cause      error
	RetryAfter time.Duration
}

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Cause)
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Cause }

// ErrNotFound indicates the source has no data for the requested resource.
type ErrNotFound struct {
	Provider ProviderName
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("provider %s: %s not found", e.Provider, e.ID)
}
