package location

import (
	"encoding/json"
	"slices"
)

// Source identifies which candidate tier produced a resolved origin.
type Source string

// Candidate tiers in priority order, plus the unresolved marker.
const (
	SourceWikiInfobox      Source = "WikiInfobox"
	SourceRegistrySpecific Source = "RegistrySpecific"
	SourceRegistryCountry  Source = "RegistryCountry"
	SourceNone             Source = "None"
)

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SideMetadata is caller-supplied presentation data carried alongside a
// location result. The resolver never produces it, only merges it.
type SideMetadata struct {
	Genres      []string `json:"genres"`
	ProfileURL  string   `json:"profile_url,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	ExternalURI string   `json:"uri,omitempty"`
}

// NewSideMetadata builds side-metadata with genres deduplicated in first-seen order.
func NewSideMetadata(genres []string, profileURL, imageURL, uri string) SideMetadata {
	return SideMetadata{
		Genres:      uniqueGenres(genres),
		ProfileURL:  profileURL,
		ImageURL:    imageURL,
		ExternalURI: uri,
	}
}

func uniqueGenres(genres []string) []string {
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		if g == "" || slices.Contains(out, g) {
			continue
		}
		out = append(out, g)
	}
	return out
}

// ArtistRequest is one entry of a batch: the resolution key plus its side-metadata.
type ArtistRequest struct {
	Name string       `json:"name"`
	Meta SideMetadata `json:"meta"`
}

// ResolvedLocation is the outcome of resolving one artist.
// Coordinates is non-nil if and only if Source is not SourceNone.
type ResolvedLocation struct {
	ArtistName  string
	Origin      *string
	Coordinates *Coordinates
	Source      Source
	SideMetadata
}

// Unresolved returns the result for an artist no source could place.
func Unresolved(name string) ResolvedLocation {
	return ResolvedLocation{ArtistName: name, Source: SourceNone}
}

// Resolved returns a result for a successfully geocoded candidate.
func Resolved(name, origin string, coords Coordinates, source Source) ResolvedLocation {
	return ResolvedLocation{
		ArtistName:  name,
		Origin:      &origin,
		Coordinates: &coords,
		Source:      source,
	}
}

// HasCoordinates reports whether the result carries a usable position.
func (r ResolvedLocation) HasCoordinates() bool {
	return r.Coordinates != nil
}

// Valid reports whether the coordinates/source/origin invariant holds.
func (r ResolvedLocation) Valid() bool {
	if r.Source == SourceNone {
		return r.Coordinates == nil && r.Origin == nil
	}
	return r.Coordinates != nil && r.Origin != nil
}

// WithMeta returns a copy of r carrying the given side-metadata.
func (r ResolvedLocation) WithMeta(meta SideMetadata) ResolvedLocation {
	r.SideMetadata = meta
	r.Genres = uniqueGenres(meta.Genres)
	return r
}

// wireLocation is the flat JSON shape served to clients and stored in the cache.
type wireLocation struct {
	Name        string   `json:"name"`
	Origin      *string  `json:"origin"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Source      Source   `json:"location_source"`
	Genres      []string `json:"genres"`
	ProfileURL  string   `json:"profile_url,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	ExternalURI string   `json:"uri,omitempty"`
}

// MarshalJSON flattens coordinates into lat/lon fields.
func (r ResolvedLocation) MarshalJSON() ([]byte, error) {
	w := wireLocation{
		Name:        r.ArtistName,
		Origin:      r.Origin,
		Source:      r.Source,
		Genres:      r.Genres,
		ProfileURL:  r.ProfileURL,
		ImageURL:    r.ImageURL,
		ExternalURI: r.ExternalURI,
	}
	if w.Genres == nil {
		w.Genres = []string{}
	}
	if w.Source == "" {
		w.Source = SourceNone
	}
	if r.Coordinates != nil {
		lat, lon := r.Coordinates.Lat, r.Coordinates.Lon
		w.Lat, w.Lon = &lat, &lon
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the flat lat/lon shape. A result is only considered
// positioned when both lat and lon are present.
func (r *ResolvedLocation) UnmarshalJSON(data []byte) error {
	var w wireLocation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = ResolvedLocation{
		ArtistName: w.Name,
		Origin:     w.Origin,
		Source:     w.Source,
		SideMetadata: SideMetadata{
			Genres:      w.Genres,
			ProfileURL:  w.ProfileURL,
			ImageURL:    w.ImageURL,
			ExternalURI: w.ExternalURI,
		},
	}
	if r.Source == "" {
		r.Source = SourceNone
	}
	if w.Lat != nil && w.Lon != nil {
		r.Coordinates = &Coordinates{Lat: *w.Lat, Lon: *w.Lon}
	}
	return nil
}
