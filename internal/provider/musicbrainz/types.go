package musicbrainz

// MusicBrainz API response types. Only the fields the resolver reads are decoded.

// SearchResponse is the top-level response from the artist search endpoint.
type SearchResponse struct {
	Created string     `json:"created"`
	Count   int        `json:"count"`
	Offset  int        `json:"offset"`
	Artists []MBArtist `json:"artists"`
}

// MBArtist represents a MusicBrainz artist entity.
type MBArtist struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SortName       string     `json:"sort-name"`
	Type           string     `json:"type"`
	Disambiguation string     `json:"disambiguation"`
	Country        string     `json:"country"`
	Score          int        `json:"score"`
	Area           *MBArea    `json:"area,omitempty"`
	BeginArea      *MBArea    `json:"begin-area,omitempty"`
	LifeSpan       MBLifeSpan `json:"life-span"`
}

// MBArea is a geographic entity (country, subdivision or city).
type MBArea struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SortName string `json:"sort-name"`
	Type     string `json:"type"`
}

// MBLifeSpan represents the begin/end dates of an artist.
type MBLifeSpan struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
	Ended bool   `json:"ended"`
}

func (a *MBArea) name() string {
	if a == nil {
		return ""
	}
	return a.Name
}
