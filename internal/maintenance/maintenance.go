package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sydlexius/musicmap/internal/database"
)

// DefaultRunRetention is how long batch run summaries are kept.
const DefaultRunRetention = 90 * 24 * time.Hour

// CacheExpirer evicts stale cache entries and persists the result.
type CacheExpirer interface {
	Expire() int
	FlushAll(ctx context.Context) error
}

// RunPruner deletes run summaries older than a cutoff.
type RunPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Status holds database maintenance status information.
type Status struct {
	DBFileSize  int64     `json:"db_file_size"`
	WALFileSize int64     `json:"wal_file_size"`
	PageCount   int64     `json:"page_count"`
	PageSize    int64     `json:"page_size"`
	LastRunAt   time.Time `json:"last_run_at,omitzero"`
	LastReport  *Report   `json:"last_report,omitempty"`
}

// Report summarizes one maintenance pass.
type Report struct {
	ExpiredEntries int   `json:"expired_entries"`
	PrunedRuns     int64 `json:"pruned_runs"`
	Optimized      bool  `json:"optimized"`
}

// Service keeps the database and cache tidy: it expires stale cache entries,
// prunes old run history and optimizes SQLite.
type Service struct {
	db        *sql.DB
	dbPath    string
	cache     CacheExpirer
	runs      RunPruner
	retention time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger

	mu         sync.Mutex
	lastRunAt  time.Time
	lastReport *Report
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for scheduling and retention cutoffs.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRunRetention overrides DefaultRunRetention.
func WithRunRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewService creates a maintenance service. cache and runs may be nil.
func NewService(db *sql.DB, dbPath string, cache CacheExpirer, runs RunPruner, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:        db,
		dbPath:    dbPath,
		cache:     cache,
		runs:      runs,
		retention: DefaultRunRetention,
		clock:     clockwork.NewRealClock(),
		logger:    logger.With(slog.String("component", "maintenance")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if s.dbPath != database.MemoryPath {
		if info, err := os.Stat(s.dbPath); err == nil {
			st.DBFileSize = info.Size()
		}
		if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
			st.WALFileSize = info.Size()
		}
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	s.mu.Lock()
	st.LastRunAt = s.lastRunAt
	st.LastReport = s.lastReport
	s.mu.Unlock()
	return st, nil
}

// RunOnce performs a full maintenance pass. Each step runs even if an
// earlier one failed; the first error is returned.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	var (
		rep      Report
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.cache != nil {
		rep.ExpiredEntries = s.cache.Expire()
		if rep.ExpiredEntries > 0 {
			keep(s.cache.FlushAll(ctx))
		}
	}

	if s.runs != nil {
		cutoff := s.clock.Now().Add(-s.retention)
		n, err := s.runs.Prune(ctx, cutoff)
		keep(err)
		rep.PrunedRuns = n
	}

	err := s.Optimize(ctx)
	keep(err)
	rep.Optimized = err == nil

	s.mu.Lock()
	s.lastRunAt = s.clock.Now()
	s.lastReport = &rep
	s.mu.Unlock()

	s.logger.Info("maintenance complete",
		slog.Int("expired_entries", rep.ExpiredEntries),
		slog.Int64("pruned_runs", rep.PrunedRuns),
		slog.Bool("optimized", rep.Optimized))
	return rep, firstErr
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	return nil
}

// StartScheduler runs RunOnce on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started",
		slog.String("interval", interval.String()))

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.Chan():
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled maintenance failed", slog.String("error", err.Error()))
			}
		}
	}
}
