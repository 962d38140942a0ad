package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc re-reads the watched file and applies whatever it can.
type ReloadFunc func(ctx context.Context) error

// Service watches a single configuration file and calls a reload function
// after it changes. Bursts of writes are coalesced by a debounce timer.
// When fsnotify does not work for the file's directory the service falls
// back to polling the file's size and modification time.
type Service struct {
	path         string
	reload       ReloadFunc
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration
	probeTimeout time.Duration
	pollOnly     bool

	fingerprint fileState
}

type fileState struct {
	size     int64
	modNanos int64
	exists   bool
}

// NewService creates a watcher for the file at path.
func NewService(path string, reload ReloadFunc, logger *slog.Logger) *Service {
	return &Service{
		path:         filepath.Clean(path),
		reload:       reload,
		logger:       logger.With(slog.String("component", "config-watcher"), slog.String("path", path)),
		debounce:     500 * time.Millisecond,
		pollInterval: 30 * time.Second,
		probeTimeout: 2 * time.Second,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// SetPollInterval overrides how often the file is checked in poll mode.
func (s *Service) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// SetPollOnly skips fsnotify entirely.
func (s *Service) SetPollOnly(v bool) {
	s.pollOnly = v
}

// Start blocks until ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	dir := filepath.Dir(s.path)

	var w *fsnotify.Watcher
	if !s.pollOnly && ProbeFSNotify(dir, s.probeTimeout) {
		var err error
		w, err = fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				w.Close() //nolint:errcheck
				w = nil
			}
		}
		if err != nil {
			s.logger.Warn("fsnotify unavailable, polling instead", slog.String("error", err.Error()))
		}
	}

	// Nil channels never receive, so exactly one of the two sources is live.
	var (
		eventCh <-chan fsnotify.Event
		errCh   <-chan error
		pollCh  <-chan time.Time
	)
	if w != nil {
		defer w.Close() //nolint:errcheck
		eventCh, errCh = w.Events, w.Errors
		s.logger.Info("watching config file")
	} else {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		pollCh = ticker.C
		s.logger.Info("polling config file", slog.Duration("interval", s.pollInterval))
	}
	s.fingerprint = stat(s.path)

	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	pending := false
	schedule := func() {
		if !debounceTimer.Stop() {
			select {
			case <-debounceTimer.C:
			default:
			}
		}
		debounceTimer.Reset(s.debounce)
		pending = true
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("config watcher stopping")
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			// Editors often replace the file via rename, so Create counts too.
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				schedule()
			}

		case err, ok := <-errCh:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", slog.String("error", err.Error()))

		case <-pollCh:
			if cur := stat(s.path); cur != s.fingerprint {
				s.fingerprint = cur
				schedule()
			}

		case <-debounceTimer.C:
			if !pending {
				continue
			}
			pending = false
			if err := s.reload(ctx); err != nil {
				s.logger.Warn("config reload failed, keeping current settings", slog.String("error", err.Error()))
				continue
			}
			s.logger.Info("config reloaded")
		}
	}
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{size: info.Size(), modNanos: info.ModTime().UnixNano(), exists: true}
}
