package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sydlexius/musicmap/internal/observability"
)

// Backend persists whole namespaces. Load returns an empty map when nothing
// has been stored yet.
type Backend interface {
	Load(ctx context.Context, ns Namespace) (map[string]Entry, error)
	Persist(ctx context.Context, ns Namespace, entries map[string]Entry) error
}

type space struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]Entry
	dirty   bool
}

// Store is the in-process cache shared by every worker of a run. It is
// authoritative while the process runs; the backend is synced explicitly
// through Load and Flush.
type Store struct {
	backend Backend
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
	spaces  map[Namespace]*space
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps and freshness checks.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithMetrics records cache lookups and flushes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithTTL overrides the freshness window of one namespace.
func WithTTL(ns Namespace, ttl time.Duration) Option {
	return func(s *Store) {
		if sp, ok := s.spaces[ns]; ok && ttl > 0 {
			sp.ttl = ttl
		}
	}
}

// NewStore creates an empty store over backend. A nil backend keeps
// everything in memory.
func NewStore(backend Backend, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		clock:   clockwork.NewRealClock(),
		logger:  logger.With(slog.String("component", "cache")),
		spaces:  make(map[Namespace]*space),
	}
	for ns, ttl := range DefaultTTLs() {
		s.spaces[ns] = &space{ttl: ttl, entries: make(map[string]Entry)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) space(ns Namespace) (*space, error) {
	sp, ok := s.spaces[ns]
	if !ok {
		return nil, fmt.Errorf("unknown cache namespace %q", ns)
	}
	return sp, nil
}

// Clock returns the clock the store timestamps entries with.
func (s *Store) Clock() clockwork.Clock {
	return s.clock
}

// TTL returns the freshness window of ns, or zero for an unknown namespace.
func (s *Store) TTL(ns Namespace) time.Duration {
	sp, err := s.space(ns)
	if err != nil {
		return 0
	}
	return sp.ttl
}

// Get returns the raw entry stored under key, fresh or not.
func (s *Store) Get(ns Namespace, key any) (Entry, bool) {
	sp, err := s.space(ns)
	if err != nil {
		return Entry{}, false
	}
	k := DeriveKey(key)
	sp.mu.RLock()
	e, ok := sp.entries[k]
	sp.mu.RUnlock()
	return e, ok
}

// Fresh reports whether e is still inside the freshness window of ns.
func (s *Store) Fresh(ns Namespace, e Entry) bool {
	return e.Fresh(s.clock.Now(), s.TTL(ns))
}

// Put stores value under key with the current time. A nil value records a
// negative result.
func (s *Store) Put(ns Namespace, key any, value any) error {
	sp, err := s.space(ns)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s cache value: %w", ns, err)
	}
	k := DeriveKey(key)
	e := Entry{Data: data, Timestamp: s.clock.Now()}

	sp.mu.Lock()
	sp.entries[k] = e
	sp.dirty = true
	sp.mu.Unlock()
	return nil
}

// Len returns the number of entries held for ns.
func (s *Store) Len(ns Namespace) int {
	sp, err := s.space(ns)
	if err != nil {
		return 0
	}
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return len(sp.entries)
}

// Lookup returns the decoded value under key when a fresh entry exists. A
// fresh negative entry is a hit that decodes to the zero value of T.
func Lookup[T any](s *Store, ns Namespace, key any) (T, bool) {
	var zero T
	e, ok := s.Get(ns, key)
	if !ok {
		s.metrics.CacheLookup(string(ns), "miss")
		return zero, false
	}
	if !s.Fresh(ns, e) {
		s.metrics.CacheLookup(string(ns), "stale")
		return zero, false
	}
	var v T
	if !e.IsNull() {
		if err := json.Unmarshal(e.Data, &v); err != nil {
			s.logger.Warn("discarding undecodable cache entry",
				slog.String("namespace", string(ns)),
				slog.String("error", err.Error()))
			s.metrics.CacheLookup(string(ns), "miss")
			return zero, false
		}
	}
	s.metrics.CacheLookup(string(ns), "hit")
	return v, true
}

// Load replaces the in-memory contents of ns with the backend's copy,
// dropping entries that are already stale.
func (s *Store) Load(ctx context.Context, ns Namespace) error {
	sp, err := s.space(ns)
	if err != nil {
		return err
	}
	if s.backend == nil {
		return nil
	}
	loaded, err := s.backend.Load(ctx, ns)
	if err != nil {
		return fmt.Errorf("loading %s cache: %w", ns, err)
	}
	if loaded == nil {
		loaded = make(map[string]Entry)
	}

	now := s.clock.Now()
	dropped := 0
	for k, e := range loaded {
		if !e.Fresh(now, sp.ttl) {
			delete(loaded, k)
			dropped++
		}
	}

	sp.mu.Lock()
	sp.entries = loaded
	// Stale rows still sit in the backend until the next flush purges them.
	sp.dirty = dropped > 0
	sp.mu.Unlock()

	s.logger.Debug("cache namespace loaded",
		slog.String("namespace", string(ns)),
		slog.Int("entries", len(loaded)),
		slog.Int("expired", dropped))
	return nil
}

// LoadAll loads every namespace. A failing namespace does not stop the rest.
func (s *Store) LoadAll(ctx context.Context) error {
	var errs []error
	for _, ns := range Namespaces() {
		if err := s.Load(ctx, ns); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush writes ns to the backend if it changed since the last load or flush.
func (s *Store) Flush(ctx context.Context, ns Namespace) error {
	sp, err := s.space(ns)
	if err != nil {
		return err
	}
	if s.backend == nil {
		return nil
	}

	sp.mu.Lock()
	if !sp.dirty {
		sp.mu.Unlock()
		return nil
	}
	snapshot := maps.Clone(sp.entries)
	sp.dirty = false
	sp.mu.Unlock()

	err = s.backend.Persist(ctx, ns, snapshot)
	s.metrics.CacheFlush(string(ns), err)
	if err != nil {
		sp.mu.Lock()
		sp.dirty = true
		sp.mu.Unlock()
		return fmt.Errorf("flushing %s cache: %w", ns, err)
	}
	s.logger.Debug("cache namespace flushed",
		slog.String("namespace", string(ns)),
		slog.Int("entries", len(snapshot)))
	return nil
}

// FlushAll flushes every namespace. A failing namespace does not stop the rest.
func (s *Store) FlushAll(ctx context.Context) error {
	var errs []error
	for _, ns := range Namespaces() {
		if err := s.Flush(ctx, ns); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Expire drops every stale entry from memory and returns how many were
// removed. Affected namespaces are marked dirty so the next flush purges
// them from the backend too.
func (s *Store) Expire() int {
	now := s.clock.Now()
	total := 0
	for _, ns := range Namespaces() {
		sp := s.spaces[ns]
		sp.mu.Lock()
		n := 0
		for k, e := range sp.entries {
			if !e.Fresh(now, sp.ttl) {
				delete(sp.entries, k)
				n++
			}
		}
		if n > 0 {
			sp.dirty = true
		}
		sp.mu.Unlock()
		total += n
	}
	return total
}
