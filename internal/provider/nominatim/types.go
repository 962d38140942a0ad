package nominatim

// Place is one entry of a Nominatim search response. Coordinates arrive as
// decimal strings.
type Place struct {
	PlaceID     int64  `json:"place_id"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Class       string `json:"class"`
	Type        string `json:"type"`
}
