package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sydlexius/musicmap/internal/database"
	"github.com/sydlexius/musicmap/internal/event"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *Service {
	t.Helper()
	svc, _ := setupTestDBWithClock(t)
	return svc
}

func setupTestDBWithClock(t *testing.T) (*Service, *clockwork.FakeClock) {
	t.Helper()
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := database.Migrate(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	clock := clockwork.NewFakeClockAt(epoch)
	return NewService(db, WithClock(clock)), clock
}

func mustCreate(t *testing.T, svc *Service, w *Webhook) *Webhook {
	t.Helper()
	if err := svc.Create(context.Background(), w); err != nil {
		t.Fatalf("Create(%q): %v", w.Name, err)
	}
	return w
}

func TestCreateAndGet(t *testing.T) {
	svc := setupTestDB(t)
	ctx := context.Background()

	w := mustCreate(t, svc, &Webhook{
		Name:    "map updates",
		URL:     "https://example.com/hook",
		Events:  []string{string(event.BatchCompleted), string(event.LocationResolved)},
		Enabled: true,
	})
	if w.ID == "" {
		t.Error("expected ID to be set")
	}
	if w.Type != TypeGeneric {
		t.Errorf("Type = %q, want generic default", w.Type)
	}

	got, err := svc.GetByID(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "map updates" || !got.Enabled || len(got.Events) != 2 {
		t.Errorf("got = %+v", got)
	}
	if !got.CreatedAt.Equal(epoch) || !got.UpdatedAt.Equal(epoch) {
		t.Errorf("timestamps = %v / %v, want %v", got.CreatedAt, got.UpdatedAt, epoch)
	}
	if !got.LastDeliveryAt.IsZero() || got.ConsecutiveFailures != 0 {
		t.Errorf("fresh webhook has delivery state: %+v", got)
	}

	if _, err := svc.GetByID(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	svc := setupTestDB(t)

	tests := []struct {
		name string
		w    Webhook
	}{
		{"missing name", Webhook{URL: "https://example.com"}},
		{"missing url", Webhook{Name: "test"}},
		{"relative url", Webhook{Name: "test", URL: "/hook"}},
		{"ftp url", Webhook{Name: "test", URL: "ftp://example.com/hook"}},
		{"unknown type", Webhook{Name: "test", URL: "https://example.com", Type: "teams"}},
		{"unknown event", Webhook{Name: "test", URL: "https://example.com", Events: []string{"scan.completed"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.w
			if err := svc.Create(context.Background(), &w); !errors.Is(err, ErrInvalid) {
				t.Errorf("Create error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestListOrderAndEventFilter(t *testing.T) {
	svc := setupTestDB(t)
	ctx := context.Background()

	empty, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %#v, want non-nil empty slice", empty)
	}

	mustCreate(t, svc, &Webhook{Name: "charlie", URL: "https://example.com/c", Events: []string{string(event.BatchCompleted)}, Enabled: true})
	mustCreate(t, svc, &Webhook{Name: "alpha", URL: "https://example.com/a", Events: []string{string(event.CacheFlushFailed)}, Enabled: true})
	mustCreate(t, svc, &Webhook{Name: "bravo", URL: "https://example.com/b", Events: []string{string(event.BatchCompleted)}, Enabled: false})

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].Name != "alpha" || list[2].Name != "charlie" {
		t.Errorf("list order = %v", names(list))
	}

	matched, err := svc.ListByEvent(ctx, event.BatchCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 1 || matched[0].Name != "charlie" {
		t.Errorf("matched = %v, want [charlie] (disabled excluded)", names(matched))
	}
}

func names(ws []Webhook) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Name)
	}
	return out
}

func TestUpdateAndDelete(t *testing.T) {
	svc, clock := setupTestDBWithClock(t)
	ctx := context.Background()

	w := mustCreate(t, svc, &Webhook{Name: "original", URL: "https://example.com/1", Enabled: true})
	clock.Advance(time.Hour)

	w.Name = "updated"
	w.Enabled = false
	w.Events = []string{string(event.LocationResolved)}
	if err := svc.Update(ctx, w); err != nil {
		t.Fatal(err)
	}
	got, err := svc.GetByID(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "updated" || got.Enabled || len(got.Events) != 1 {
		t.Errorf("got = %+v", got)
	}
	if !got.UpdatedAt.Equal(epoch.Add(time.Hour)) || !got.CreatedAt.Equal(epoch) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}

	if err := svc.Delete(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetByID(ctx, w.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after deletion", err)
	}

	missing := &Webhook{ID: "missing", Name: "x", URL: "https://example.com"}
	if err := svc.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update err = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete err = %v, want ErrNotFound", err)
	}
}

func TestRecordDelivery(t *testing.T) {
	svc, clock := setupTestDBWithClock(t)
	ctx := context.Background()
	w := mustCreate(t, svc, &Webhook{Name: "hook", URL: "https://example.com", Enabled: true})

	clock.Advance(time.Minute)
	if _, err := svc.RecordDelivery(ctx, w.ID, errors.New("unexpected status 502")); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.GetByID(ctx, w.ID)
	if got.ConsecutiveFailures != 1 || got.LastError != "unexpected status 502" {
		t.Errorf("after failure: %+v", got)
	}
	if !got.LastDeliveryAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("last delivery = %v", got.LastDeliveryAt)
	}

	if _, err := svc.RecordDelivery(ctx, w.ID, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.GetByID(ctx, w.ID)
	if got.ConsecutiveFailures != 0 || got.LastError != "" || !got.Enabled {
		t.Errorf("after success: %+v", got)
	}

	if _, err := svc.RecordDelivery(ctx, "missing", errors.New("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordDelivery_DisablesAfterStreak(t *testing.T) {
	svc := setupTestDB(t)
	ctx := context.Background()
	w := mustCreate(t, svc, &Webhook{Name: "flaky", URL: "https://example.com", Enabled: true})

	for i := 1; i <= MaxConsecutiveFailures; i++ {
		disabled, err := svc.RecordDelivery(ctx, w.ID, errors.New("timeout"))
		if err != nil {
			t.Fatal(err)
		}
		if disabled != (i == MaxConsecutiveFailures) {
			t.Fatalf("failure %d: disabled = %v", i, disabled)
		}
	}
	got, _ := svc.GetByID(ctx, w.ID)
	if got.Enabled {
		t.Fatal("expected webhook to be disabled")
	}

	// Re-enabling clears the streak.
	got.Enabled = true
	if err := svc.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.GetByID(ctx, w.ID)
	if !got.Enabled || got.ConsecutiveFailures != 0 {
		t.Errorf("after re-enable: %+v", got)
	}
}
