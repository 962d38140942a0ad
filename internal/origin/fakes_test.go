package origin

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sydlexius/musicmap/internal/cache"
	"github.com/sydlexius/musicmap/internal/provider"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) (*cache.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	return cache.NewStore(nil, testLogger(), cache.WithClock(clock)), clock
}

// fakeBiography serves infobox rows keyed by slug.
type fakeBiography struct {
	mu    sync.Mutex
	pages map[string][]provider.InfoboxRow
	errs  map[string]error
	calls map[string]int
}

func newFakeBiography() *fakeBiography {
	return &fakeBiography{
		pages: map[string][]provider.InfoboxRow{},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeBiography) GetInfobox(_ context.Context, slug string) ([]provider.InfoboxRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[slug]++
	if err := f.errs[slug]; err != nil {
		return nil, err
	}
	rows, ok := f.pages[slug]
	if !ok {
		return nil, &provider.ErrNotFound{Provider: provider.NameWikipedia, ID: slug}
	}
	return rows, nil
}

func (f *fakeBiography) count(slug string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[slug]
}

// fakeRegistry serves search results keyed by query and full records keyed by id.
type fakeRegistry struct {
	mu          sync.Mutex
	results     map[string][]provider.ArtistSearchResult
	searchErr   map[string]error
	full        map[string]*provider.ArtistArea
	searchCalls map[string]int
	fullCalls   map[string]int
	afterSearch func()
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		results:     map[string][]provider.ArtistSearchResult{},
		searchErr:   map[string]error{},
		full:        map[string]*provider.ArtistArea{},
		searchCalls: map[string]int{},
		fullCalls:   map[string]int{},
	}
}

func (f *fakeRegistry) SearchArtist(_ context.Context, name string, _ int) ([]provider.ArtistSearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls[name]++
	if f.afterSearch != nil {
		f.afterSearch()
	}
	if err := f.searchErr[name]; err != nil {
		return nil, err
	}
	return f.results[name], nil
}

func (f *fakeRegistry) GetArtistArea(_ context.Context, id string) (*provider.ArtistArea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fullCalls[id]++
	a, ok := f.full[id]
	if !ok {
		return nil, &provider.ErrProviderUnavailable{Provider: provider.NameMusicBrainz, Cause: context.DeadlineExceeded}
	}
	return a, nil
}

// add registers an artist whose search hit and full record carry the given areas.
func (f *fakeRegistry) add(name, beginArea, area, country string) {
	id := "mbid-" + name
	f.results[name] = []provider.ArtistSearchResult{{ProviderID: id, Name: name, Score: 100}}
	f.full[id] = &provider.ArtistArea{ProviderID: id, Name: name, BeginArea: beginArea, Area: area, Country: country}
}

// fakeGeocoder serves points keyed by exact query text.
type fakeGeocoder struct {
	mu     sync.Mutex
	points map[string]*provider.GeoPoint
	errs   map[string]error
	calls  map[string]int
}

func newFakeGeocoder() *fakeGeocoder {
	return &fakeGeocoder{
		points: map[string]*provider.GeoPoint{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeGeocoder) Geocode(_ context.Context, text string) (*provider.GeoPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[text]++
	if err := f.errs[text]; err != nil {
		return nil, err
	}
	return f.points[text], nil
}

func (f *fakeGeocoder) set(text string, lat, lon float64) {
	f.points[text] = &provider.GeoPoint{Lat: lat, Lon: lon}
}

func (f *fakeGeocoder) count(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

type fixture struct {
	store    *cache.Store
	clock    *clockwork.FakeClock
	bio      *fakeBiography
	registry *fakeRegistry
	geo      *fakeGeocoder
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, clock := newTestStore(t)
	f := &fixture{
		store:    store,
		clock:    clock,
		bio:      newFakeBiography(),
		registry: newFakeRegistry(),
		geo:      newFakeGeocoder(),
	}
	logger := testLogger()
	f.resolver = NewResolver(
		NewExtractor(f.bio, store, 0, logger, nil),
		NewRegistryLookup(f.registry, store, DefaultSearchLimit, 0, logger, nil),
		NewGeocoder(f.geo, store, 0, logger, nil),
		logger, nil,
	)
	return f
}
