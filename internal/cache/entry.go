package cache

import (
	"crypto/md5" //nolint:gosec // key digest, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Namespace is one independent key space of the store.
type Namespace string

// The four namespaces kept by the resolver. The values double as the
// on-disk file stems of the JSON backend.
const (
	NamespaceArtist   Namespace = "artist_location"
	NamespaceRegistry Namespace = "musicbrainz"
	NamespaceInfobox  Namespace = "wikipedia"
	NamespaceGeocode  Namespace = "geocode"
)

// Default freshness windows.
const (
	DefaultTTL = 30 * 24 * time.Hour
	InfoboxTTL = 7 * 24 * time.Hour
)

// Namespaces returns every namespace in a stable order.
func Namespaces() []Namespace {
	return []Namespace{NamespaceArtist, NamespaceRegistry, NamespaceInfobox, NamespaceGeocode}
}

// DefaultTTLs returns the freshness window for each namespace.
func DefaultTTLs() map[Namespace]time.Duration {
	return map[Namespace]time.Duration{
		NamespaceArtist:   DefaultTTL,
		NamespaceRegistry: DefaultTTL,
		NamespaceInfobox:  InfoboxTTL,
		NamespaceGeocode:  DefaultTTL,
	}
}

// Entry is a stored value with the time it was written. Data may be the JSON
// literal null, which records a negative result.
type Entry struct {
	Data      json.RawMessage
	Timestamp time.Time
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) < ttl
}

// IsNull reports whether the entry records "no data".
func (e Entry) IsNull() bool {
	return len(e.Data) == 0 || string(e.Data) == "null"
}

type wireEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// MarshalJSON writes {"data": ..., "timestamp": RFC 3339}.
func (e Entry) MarshalJSON() ([]byte, error) {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(wireEntry{Data: data, Timestamp: e.Timestamp.Format(time.RFC3339Nano)})
}

// UnmarshalJSON accepts RFC 3339 timestamps as well as naive ISO-8601 local
// times, which is what older cache files contain.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var w wireEntry
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return err
	}
	e.Data = w.Data
	e.Timestamp = ts
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	// Fractional seconds are accepted after the seconds field even though
	// the layout does not name them.
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized cache timestamp %q", s)
}

// DeriveKey maps a logical key to its storage key. Strings are used verbatim.
// Anything else is serialized to JSON (map keys come out sorted) and digested
// with MD5; values JSON cannot represent fall back to their printed form.
func DeriveKey(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	b, err := json.Marshal(key)
	if err != nil {
		return fmt.Sprint(key)
	}
	sum := md5.Sum(b) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}
