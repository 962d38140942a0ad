package backup

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sydlexius/musicmap/internal/database"
	"github.com/sydlexius/musicmap/internal/history"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "musicmap.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return db
}

func newTestService(t *testing.T, policy Policy) (*Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	dir := filepath.Join(t.TempDir(), "backups")
	return NewService(setupTestDB(t), dir, policy, testLogger(), WithClock(clock)), clock
}

func TestBackup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	run := history.Run{ID: "run-1", StartedAt: epoch, FinishedAt: epoch.Add(time.Second), Total: 3, Resolved: 2}
	if err := history.NewService(db).Record(ctx, run); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "backups")
	svc := NewService(db, dir, Policy{Keep: 7}, testLogger(), WithClock(clockwork.NewFakeClockAt(epoch)))
	info, err := svc.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if info.Filename != "musicmap-20240601-120000.db" {
		t.Errorf("filename = %q", info.Filename)
	}
	if info.Size == 0 || !info.CreatedAt.Equal(epoch) {
		t.Errorf("info = %+v", info)
	}

	snap, err := database.Open(filepath.Join(dir, info.Filename))
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer snap.Close() //nolint:errcheck
	got, err := history.NewService(snap).Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("run missing from snapshot: %v", err)
	}
	if got.Resolved != 2 {
		t.Errorf("resolved = %d, want 2", got.Resolved)
	}
}

func TestBackup_SameSecondRejected(t *testing.T) {
	svc, _ := newTestService(t, Policy{Keep: 7})
	if _, err := svc.Backup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Backup(context.Background()); err == nil {
		t.Fatal("expected an error for a second snapshot in the same second")
	}
}

func TestList_NewestFirst(t *testing.T) {
	svc, clock := newTestService(t, Policy{Keep: 7})
	for range 3 {
		if _, err := svc.Backup(context.Background()); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Hour)
	}
	if err := os.WriteFile(filepath.Join(svc.Dir(), "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	list, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d backups, want 3", len(list))
	}
	if !list[0].CreatedAt.Equal(epoch.Add(2*time.Hour)) || !list[2].CreatedAt.Equal(epoch) {
		t.Errorf("order = %v, %v, %v", list[0].CreatedAt, list[1].CreatedAt, list[2].CreatedAt)
	}
}

func TestList_MissingDir(t *testing.T) {
	svc := NewService(setupTestDB(t), filepath.Join(t.TempDir(), "absent"), Policy{}, testLogger())
	list, err := svc.List()
	if err != nil || list != nil {
		t.Fatalf("List = %v, %v; want nil, nil", list, err)
	}
}

func TestPrune_ByCount(t *testing.T) {
	svc, clock := newTestService(t, Policy{Keep: 2})
	for range 4 {
		if _, err := svc.Backup(context.Background()); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Minute)
	}

	removed, err := svc.Prune()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"musicmap-20240601-120100.db", "musicmap-20240601-120000.db"}
	if len(removed) != 2 || removed[0] != want[0] || removed[1] != want[1] {
		t.Errorf("removed = %v, want %v", removed, want)
	}
	list, _ := svc.List()
	if len(list) != 2 {
		t.Errorf("%d backups left, want 2", len(list))
	}
}

func TestPrune_ByAge(t *testing.T) {
	svc, clock := newTestService(t, Policy{Keep: 10, MaxAge: 48 * time.Hour})
	if _, err := svc.Backup(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(72 * time.Hour)
	if _, err := svc.Backup(context.Background()); err != nil {
		t.Fatal(err)
	}

	removed, err := svc.Prune()
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "musicmap-20240601-120000.db" {
		t.Errorf("removed = %v", removed)
	}
}

func TestDelete(t *testing.T) {
	svc, _ := newTestService(t, Policy{Keep: 7})
	info, err := svc.Backup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(info.Filename); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete("../musicmap.db"); err == nil {
		t.Error("expected traversal to be rejected")
	}
}

func TestValidFilename(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"musicmap-20240601-120000.db", true},
		{"musicmap-2024-06-01.db", false},
		{"other-20240601-120000.db", false},
		{"../musicmap-20240601-120000.db", false},
		{`dir\musicmap-20240601-120000.db`, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidFilename(tt.name); got != tt.want {
			t.Errorf("ValidFilename(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStartScheduler(t *testing.T) {
	svc, clock := newTestService(t, Policy{Keep: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartScheduler(ctx, time.Hour)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("scheduler never waited on its ticker: %v", err)
	}
	clock.Advance(time.Hour)

	deadline := time.Now().Add(5 * time.Second)
	for {
		list, err := svc.List()
		if err != nil {
			t.Fatal(err)
		}
		if len(list) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduled backup never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
