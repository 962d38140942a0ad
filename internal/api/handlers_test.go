package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sydlexius/musicmap/internal/backup"
	"github.com/sydlexius/musicmap/internal/cache"
	"github.com/sydlexius/musicmap/internal/database"
	"github.com/sydlexius/musicmap/internal/history"
	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/maintenance"
	"github.com/sydlexius/musicmap/internal/observability"
	"github.com/sydlexius/musicmap/internal/origin"
	"github.com/sydlexius/musicmap/internal/provider"
	"github.com/sydlexius/musicmap/internal/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubBatch struct {
	mu    sync.Mutex
	calls [][]location.ArtistRequest
}

func (s *stubBatch) ResolveBatch(_ context.Context, artists []location.ArtistRequest) origin.BatchResult {
	s.mu.Lock()
	s.calls = append(s.calls, artists)
	s.mu.Unlock()

	locs := make([]location.ResolvedLocation, 0, len(artists))
	for _, a := range artists {
		loc := location.Unresolved(a.Name)
		if a.Name == "Mac DeMarco" {
			loc = location.Resolved(a.Name, "Edmonton, Alberta, Canada",
				location.Coordinates{Lat: 53.5461, Lon: -113.4938}, location.SourceWikiInfobox)
		}
		locs = append(locs, loc.WithMeta(a.Meta))
	}
	return origin.BatchResult{RunID: "run-1", Locations: locs}
}

type stubSource struct {
	name provider.ProviderName
	err  error
}

func (s *stubSource) Name() provider.ProviderName { return s.name }

func (s *stubSource) TestConnection(context.Context) error { return s.err }

type testEnv struct {
	router   *Router
	handler  http.Handler
	batch    *stubBatch
	history  *history.Service
	webhooks *webhook.Service
	registry *provider.Registry
}

func setupTestEnv(t *testing.T, resolver BatchResolver) *testEnv {
	t.Helper()
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if _, err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		batch:    &stubBatch{},
		history:  history.NewService(db),
		webhooks: webhook.NewService(db),
		registry: provider.NewRegistry(),
	}
	if resolver == nil {
		resolver = env.batch
	}

	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg)

	env.router = NewRouter(RouterDeps{
		Resolver:         resolver,
		ProviderRegistry: env.registry,
		HistoryService:   env.history,
		WebhookService:   env.webhooks,
		Maintenance:      maintenance.NewService(db, database.MemoryPath, nil, env.history, testLogger()),
		Backup:           backup.NewService(db, t.TempDir(), backup.Policy{Keep: 2}, testLogger()),
		Gatherer:         reg,
		Logger:           testLogger(),
		BasePath:         "/mm",
		MaxBatch:         3,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.handler = env.router.Handler(ctx)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.RemoteAddr = "203.0.113.50:4000"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHandleHealth(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/mm/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]string](t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}

func TestHandleResolveLocations(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/mm/api/v1/locations", `{"artists":[
		{"name":"Mac DeMarco","meta":{"genres":["indie","indie","jangle pop"],"profile_url":"https://example.com/mac"}},
		{"name":"Nobody Knows"}
	]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		RunID     string           `json:"run_id"`
		Locations []map[string]any `json:"locations"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.RunID != "run-1" || len(body.Locations) != 2 {
		t.Fatalf("body = %+v", body)
	}
	mac := body.Locations[0]
	if mac["name"] != "Mac DeMarco" || mac["location_source"] != string(location.SourceWikiInfobox) {
		t.Errorf("first location = %v", mac)
	}
	if mac["lat"] != 53.5461 || mac["lon"] != -113.4938 {
		t.Errorf("coordinates = %v,%v", mac["lat"], mac["lon"])
	}
	genres, _ := mac["genres"].([]any)
	if len(genres) != 2 {
		t.Errorf("genres = %v, want duplicates collapsed", mac["genres"])
	}
	if mac["profile_url"] != "https://example.com/mac" {
		t.Errorf("profile_url = %v", mac["profile_url"])
	}

	nobody := body.Locations[1]
	if nobody["lat"] != nil || nobody["origin"] != nil || nobody["location_source"] != "None" {
		t.Errorf("unresolved location = %v", nobody)
	}
}

func TestHandleResolveLocations_BadRequests(t *testing.T) {
	env := setupTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"artists":`, http.StatusBadRequest},
		{"wrong shape", `{"artists":"Mac DeMarco"}`, http.StatusBadRequest},
		{"too many", `{"artists":[{"name":"a"},{"name":"b"},{"name":"c"},{"name":"d"}]}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/mm/api/v1/locations", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
	if len(env.batch.calls) != 0 {
		t.Errorf("resolver called %d times for rejected requests", len(env.batch.calls))
	}
}

func TestHandleResolveLocations_EmptyBatch(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/mm/api/v1/locations", `{"artists":[]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if locs, _ := body["locations"].([]any); len(locs) != 0 {
		t.Errorf("locations = %v", body["locations"])
	}
}

func TestHandleResolveLocations_MethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t, nil)
	if w := env.do(t, http.MethodGet, "/mm/api/v1/locations", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

type namedResolver struct{}

func (namedResolver) Resolve(_ context.Context, artist string) location.ResolvedLocation {
	if artist == "BTS" {
		return location.Resolved(artist, "Seoul, South Korea",
			location.Coordinates{Lat: 37.5665, Lon: 126.978}, location.SourceRegistrySpecific)
	}
	return location.Unresolved(artist)
}

func TestHandleResolveLocations_RecordsRun(t *testing.T) {
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if _, err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hist := history.NewService(db)
	store := cache.NewStore(cache.NewSQLiteBackend(db), testLogger())
	orch := origin.NewOrchestrator(namedResolver{}, store, testLogger(), origin.WithRecorder(hist))

	router := NewRouter(RouterDeps{
		Resolver:         orch,
		ProviderRegistry: provider.NewRegistry(),
		HistoryService:   hist,
		WebhookService:   webhook.NewService(db),
		Gatherer:         prometheus.NewRegistry(),
		Logger:           testLogger(),
	})
	h := router.Handler(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/locations",
		strings.NewReader(`{"artists":[{"name":"BTS"},{"name":"Nobody"},{"name":"BTS"}]}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	res := decode[origin.BatchResult](t, w)
	if len(res.Locations) != 2 {
		t.Fatalf("got %d locations, want duplicates collapsed to 2", len(res.Locations))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+res.RunID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("run lookup status = %d", w.Code)
	}
	run := decode[history.Run](t, w)
	if run.Total != 2 || run.Resolved != 1 || run.Unresolved != 1 || run.Workers != 1 {
		t.Errorf("run = %+v", run)
	}
}

func TestHandleListRuns(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"older", "newer"} {
		start := base.Add(time.Duration(i) * time.Hour)
		if err := env.history.Record(ctx, history.Run{ID: id, StartedAt: start, FinishedAt: start.Add(time.Second)}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/mm/api/v1/runs?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	runs := decode[[]history.Run](t, w)
	if len(runs) != 1 || runs[0].ID != "newer" {
		t.Errorf("runs = %+v", runs)
	}

	if w := env.do(t, http.MethodGet, "/mm/api/v1/runs?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/mm/api/v1/runs/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d", w.Code)
	}
}

func TestHandleListProviders(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.registry.Register(&stubSource{name: provider.NameNominatim})

	w := env.do(t, http.MethodGet, "/mm/api/v1/providers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Providers []providerStatus `json:"providers"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Providers) != 3 {
		t.Fatalf("got %d providers", len(body.Providers))
	}
	for _, p := range body.Providers {
		if p.Registered != (p.Name == provider.NameNominatim) {
			t.Errorf("%s registered = %v", p.Name, p.Registered)
		}
		if p.Capability == nil || p.Capability.RateLimit == nil {
			t.Errorf("%s has no rate limit capability", p.Name)
		}
	}
}

func TestHandleCheckProviders(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.registry.Register(&stubSource{name: provider.NameWikipedia})
	env.registry.Register(&stubSource{name: provider.NameNominatim, err: errors.New("connection refused")})

	w := env.do(t, http.MethodPost, "/mm/api/v1/providers/check", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Healthy bool                   `json:"healthy"`
		Results []provider.CheckResult `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Healthy {
		t.Error("healthy = true with a failing source")
	}
	if len(body.Results) != 2 || body.Results[1].Error != "connection refused" {
		t.Errorf("results = %+v", body.Results)
	}
}

func TestHandleMetrics(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/mm/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("musicmap_batch_workers")) {
		t.Error("metrics output is missing musicmap collectors")
	}
}

func TestWebhookCRUD(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/mm/api/v1/webhooks",
		`{"name":"ops","url":"https://hooks.example.com/x","type":"discord","events":["batch.completed"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	created := decode[webhook.Webhook](t, w)
	if created.ID == "" || !created.Enabled {
		t.Errorf("created = %+v, want an ID and enabled by default", created)
	}

	w = env.do(t, http.MethodPut, "/mm/api/v1/webhooks/"+created.ID, `{"enabled":false,"events":["location.resolved"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	updated := decode[webhook.Webhook](t, w)
	if updated.Enabled || updated.Name != "ops" || len(updated.Events) != 1 || updated.Events[0] != "location.resolved" {
		t.Errorf("updated = %+v", updated)
	}

	w = env.do(t, http.MethodGet, "/mm/api/v1/webhooks", "")
	if list := decode[[]webhook.Webhook](t, w); len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	if w := env.do(t, http.MethodDelete, "/mm/api/v1/webhooks/"+created.ID, ""); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/mm/api/v1/webhooks/"+created.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", w.Code)
	}
}

func TestWebhookErrors(t *testing.T) {
	env := setupTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid url", http.MethodPost, "/mm/api/v1/webhooks", `{"name":"x","url":"ftp://example.com"}`, http.StatusBadRequest},
		{"unknown event", http.MethodPost, "/mm/api/v1/webhooks", `{"name":"x","url":"https://example.com","events":["scan.done"]}`, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/mm/api/v1/webhooks", `nope`, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/mm/api/v1/webhooks/nope", `{"name":"y"}`, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/mm/api/v1/webhooks/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestHandleMaintenance(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	old := time.Now().Add(-365 * 24 * time.Hour)
	if err := env.history.Record(ctx, history.Run{ID: "ancient", StartedAt: old, FinishedAt: old}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	w := env.do(t, http.MethodPost, "/mm/api/v1/maintenance/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d: %s", w.Code, w.Body.String())
	}
	rep := decode[maintenance.Report](t, w)
	if rep.PrunedRuns != 1 || !rep.Optimized {
		t.Errorf("report = %+v", rep)
	}

	w = env.do(t, http.MethodGet, "/mm/api/v1/maintenance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st := decode[maintenance.Status](t, w)
	if st.LastReport == nil || st.LastReport.PrunedRuns != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestHandleBackups(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/mm/api/v1/backups", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list = %d %q", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/mm/api/v1/backups", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	info := decode[backup.Info](t, w)
	if !backup.ValidFilename(info.Filename) || info.Size == 0 {
		t.Errorf("info = %+v", info)
	}

	w = env.do(t, http.MethodGet, "/mm/api/v1/backups", "")
	if list := decode[[]backup.Info](t, w); len(list) != 1 || list[0].Filename != info.Filename {
		t.Errorf("list = %+v", list)
	}

	if w := env.do(t, http.MethodDelete, "/mm/api/v1/backups/"+info.Filename, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/mm/api/v1/backups/"+info.Filename, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/mm/api/v1/backups/config.yaml", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad name status = %d, want 400", w.Code)
	}
}
