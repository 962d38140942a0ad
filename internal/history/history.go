package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run summarizes one resolve batch.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Cached     int       `json:"cached"`
	Dispatched int       `json:"dispatched"`
	Resolved   int       `json:"resolved"`
	Unresolved int       `json:"unresolved"`
	Failed     int       `json:"failed"`
	Workers    int       `json:"workers"`
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Service persists run summaries.
type Service struct {
	db *sql.DB
}

// NewService creates a run history service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record stores a finished run.
func (s *Service) Record(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolution_runs
			(id, started_at, finished_at, total, cached, dispatched, resolved, unresolved, failed, workers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
		r.Total, r.Cached, r.Dispatched, r.Resolved, r.Unresolved, r.Failed, r.Workers)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Get returns one run by ID.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, total, cached, dispatched, resolved, unresolved, failed, workers
		FROM resolution_runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// List returns the most recent runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, cached, dispatched, resolved, unresolved, failed, workers
		FROM resolution_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Prune deletes runs that started before cutoff and returns how many were removed.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resolution_runs WHERE started_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var started, finished string
	err := s.Scan(&r.ID, &started, &finished, &r.Total, &r.Cached, &r.Dispatched,
		&r.Resolved, &r.Unresolved, &r.Failed, &r.Workers)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	r.FinishedAt, _ = time.Parse(timeLayout, finished)
	return &r, nil
}
