package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	filePrefix = "musicmap-"
	fileSuffix = ".db"
	timeLayout = "20060102-150405"
)

// filenameRe matches snapshot names: musicmap-YYYYMMDD-HHMMSS.db
var filenameRe = regexp.MustCompile(`^musicmap-\d{8}-\d{6}\.db$`)

// Info describes one snapshot file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Policy bounds how many snapshots are kept. Keep is a count; MaxAge, when
// positive, also removes anything older.
type Policy struct {
	Keep   int
	MaxAge time.Duration
}

// Service writes and prunes snapshots of the database, cache tables included.
type Service struct {
	db     *sql.DB
	dir    string
	policy Policy
	clock  clockwork.Clock
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for file names, age pruning and scheduling.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService creates a backup service writing into dir.
func NewService(db *sql.DB, dir string, policy Policy, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:     db,
		dir:    dir,
		policy: policy,
		clock:  clockwork.NewRealClock(),
		logger: logger.With(slog.String("component", "backup")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the snapshot directory.
func (s *Service) Dir() string { return s.dir }

// Backup writes a consistent snapshot with VACUUM INTO.
func (s *Service) Backup(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	name := filePrefix + now.Format(timeLayout) + fileSuffix
	dest := filepath.Join(s.dir, name)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("backup %s already exists", name)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}
	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}

	s.logger.Info("backup complete", slog.String("filename", name), slog.Int64("size", fi.Size()))
	return &Info{Filename: name, Size: fi.Size(), CreatedAt: now}, nil
}

// List returns the snapshots in dir, newest first. A missing directory is
// an empty list.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !filenameRe.MatchString(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), filePrefix), fileSuffix)
		created, err := time.Parse(timeLayout, stamp)
		if err != nil {
			created = fi.ModTime().UTC()
		}
		out = append(out, Info{Filename: e.Name(), Size: fi.Size(), CreatedAt: created})
	}
	slices.SortFunc(out, func(a, b Info) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Delete removes one snapshot by name.
func (s *Service) Delete(filename string) error {
	if !ValidFilename(filename) {
		return fmt.Errorf("invalid backup filename %q", filename)
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil {
		return fmt.Errorf("removing backup: %w", err)
	}
	s.logger.Info("backup deleted", slog.String("filename", filename))
	return nil
}

// Prune applies the retention policy and returns the names it removed.
func (s *Service) Prune() ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	if s.policy.MaxAge > 0 {
		cutoff = s.clock.Now().UTC().Add(-s.policy.MaxAge)
	}

	var removed []string
	for i, b := range all {
		overCount := s.policy.Keep > 0 && i >= s.policy.Keep
		tooOld := !cutoff.IsZero() && b.CreatedAt.Before(cutoff)
		if !overCount && !tooOld {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, b.Filename)); err != nil {
			s.logger.Warn("removing old backup",
				slog.String("filename", b.Filename),
				slog.String("error", err.Error()))
			continue
		}
		removed = append(removed, b.Filename)
	}
	if len(removed) > 0 {
		s.logger.Info("pruned backups", slog.Int("count", len(removed)))
	}
	return removed, nil
}

// StartScheduler backs up and prunes on a fixed interval until ctx ends.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("backup scheduler started",
		slog.String("interval", interval.String()),
		slog.Int("keep", s.policy.Keep))

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.Chan():
			if _, err := s.Backup(ctx); err != nil {
				s.logger.Error("scheduled backup failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := s.Prune(); err != nil {
				s.logger.Error("backup prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ValidFilename reports whether filename is a snapshot name with no path
// components.
func ValidFilename(filename string) bool {
	if strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return false
	}
	return filenameRe.MatchString(filename)
}
