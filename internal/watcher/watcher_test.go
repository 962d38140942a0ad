package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

// startWatcher runs svc until the test ends.
func startWatcher(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestService_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "logging:\n  level: info\n")

	reloaded := make(chan struct{}, 10)
	svc := NewService(path, func(context.Context) error {
		reloaded <- struct{}{}
		return nil
	}, testLogger())
	svc.SetDebounce(20 * time.Millisecond)
	svc.SetPollInterval(20 * time.Millisecond)
	startWatcher(t, svc)

	// Let the probe finish and the watch be installed.
	time.Sleep(300 * time.Millisecond)
	writeFile(t, path, "logging:\n  level: debug\n")
	waitFor(t, reloaded, "reload after write")
}

func TestService_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "a: 1\n")

	var calls atomic.Int32
	svc := NewService(path, func(context.Context) error {
		calls.Add(1)
		return nil
	}, testLogger())
	svc.SetDebounce(10 * time.Millisecond)
	svc.SetPollInterval(20 * time.Millisecond)
	startWatcher(t, svc)

	time.Sleep(300 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "other.yaml"), "b: 2\n")
	time.Sleep(200 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("reload called %d times for an unrelated file", n)
	}
}

func TestService_DebounceCoalesces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "v: 0\n")

	var calls atomic.Int32
	svc := NewService(path, func(context.Context) error {
		calls.Add(1)
		return nil
	}, testLogger())
	svc.SetDebounce(300 * time.Millisecond)
	svc.SetPollInterval(20 * time.Millisecond)
	startWatcher(t, svc)

	time.Sleep(300 * time.Millisecond)
	for i := range 5 {
		writeFile(t, path, "v: "+string(rune('1'+i))+"\n")
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(800 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("reload called %d times, want 1", n)
	}
}

func TestService_PollOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "short\n")

	reloaded := make(chan struct{}, 10)
	svc := NewService(path, func(context.Context) error {
		reloaded <- struct{}{}
		return nil
	}, testLogger())
	svc.SetPollOnly(true)
	svc.SetPollInterval(10 * time.Millisecond)
	svc.SetDebounce(10 * time.Millisecond)
	startWatcher(t, svc)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, "a considerably longer body\n")
	waitFor(t, reloaded, "reload in poll mode")
}

func TestService_ReloadErrorKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "x\n")

	var calls atomic.Int32
	reloaded := make(chan struct{}, 10)
	svc := NewService(path, func(context.Context) error {
		defer func() { reloaded <- struct{}{} }()
		if calls.Add(1) == 1 {
			return errors.New("invalid yaml")
		}
		return nil
	}, testLogger())
	svc.SetPollOnly(true)
	svc.SetPollInterval(10 * time.Millisecond)
	svc.SetDebounce(10 * time.Millisecond)
	startWatcher(t, svc)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, "broken: [\n")
	waitFor(t, reloaded, "first reload")
	writeFile(t, path, "fixed: true, longer body\n")
	waitFor(t, reloaded, "second reload")

	if n := calls.Load(); n != 2 {
		t.Errorf("reload called %d times, want 2", n)
	}
}
