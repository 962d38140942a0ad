package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sydlexius/musicmap/internal/event"
)

// MaxConsecutiveFailures disables a webhook once this many deliveries in a
// row have exhausted their retries.
const MaxConsecutiveFailures = 10

const columns = `id, name, url, type, events, enabled, created_at, updated_at,
	last_delivery_at, last_error, consecutive_failures`

// Service stores webhook endpoints and their delivery health.
type Service struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService creates a webhook service.
func NewService(db *sql.DB, opts ...Option) *Service {
	s := &Service{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}

// Create validates and inserts a new webhook.
func (s *Service) Create(ctx context.Context, w *Webhook) error {
	if err := w.validate(); err != nil {
		return err
	}
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}

	now := s.now()
	w.ID = uuid.NewString()
	w.CreatedAt = parseTime(now)
	w.UpdatedAt = w.CreatedAt
	w.LastDeliveryAt, w.LastError, w.ConsecutiveFailures = time.Time{}, "", 0

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, name, url, type, events, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.Name, w.URL, w.Type, string(events), w.Enabled, now, now); err != nil {
		return fmt.Errorf("inserting webhook: %w", err)
	}
	return nil
}

// GetByID returns a webhook by ID, or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*Webhook, error) {
	w, err := scanWebhook(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM webhooks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// List returns all webhooks ordered by name.
func (s *Service) List(ctx context.Context) ([]Webhook, error) {
	return s.query(ctx, `SELECT `+columns+` FROM webhooks ORDER BY name`)
}

// ListByEvent returns the enabled webhooks subscribed to t.
func (s *Service) ListByEvent(ctx context.Context, t event.Type) ([]Webhook, error) {
	enabled, err := s.query(ctx, `SELECT `+columns+` FROM webhooks WHERE enabled = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var matched []Webhook
	for _, w := range enabled {
		if w.Subscribed(t) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

// Update validates and modifies the editable fields of an existing webhook.
// Re-enabling a webhook clears its failure streak.
func (s *Service) Update(ctx context.Context, w *Webhook) error {
	if err := w.validate(); err != nil {
		return err
	}
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhooks SET name = ?, url = ?, type = ?, events = ?, enabled = ?, updated_at = ?,
			consecutive_failures = CASE WHEN ? AND enabled = 0 THEN 0 ELSE consecutive_failures END
		WHERE id = ?
	`, w.Name, w.URL, w.Type, string(events), w.Enabled, now, w.Enabled, w.ID)
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	w.UpdatedAt = parseTime(now)
	return nil
}

// Delete removes a webhook by ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDelivery stores the outcome of one delivery. A nil deliveryErr
// resets the failure streak; reaching MaxConsecutiveFailures disables the
// webhook. It reports whether this call disabled it.
func (s *Service) RecordDelivery(ctx context.Context, id string, deliveryErr error) (disabled bool, err error) {
	now := s.now()
	if deliveryErr == nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE webhooks SET last_delivery_at = ?, last_error = '', consecutive_failures = 0
			WHERE id = ?
		`, now, id)
		if err != nil {
			return false, fmt.Errorf("recording delivery: %w", err)
		}
		return false, nil
	}

	var failures int
	err = s.db.QueryRowContext(ctx, `
		UPDATE webhooks SET last_delivery_at = ?, last_error = ?,
			consecutive_failures = consecutive_failures + 1,
			enabled = CASE WHEN consecutive_failures + 1 >= ? THEN 0 ELSE enabled END
		WHERE id = ?
		RETURNING consecutive_failures
	`, now, deliveryErr.Error(), MaxConsecutiveFailures, id).Scan(&failures)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("recording delivery failure: %w", err)
	}
	return failures == MaxConsecutiveFailures, nil
}

func (s *Service) query(ctx context.Context, q string, args ...any) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWebhook(s scanner) (*Webhook, error) {
	var (
		w                              Webhook
		events, created, updated, last string
		enabled                        int
	)
	if err := s.Scan(&w.ID, &w.Name, &w.URL, &w.Type, &events, &enabled, &created, &updated,
		&last, &w.LastError, &w.ConsecutiveFailures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning webhook: %w", err)
	}

	w.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(events), &w.Events); err != nil {
		w.Events = []string{}
	}
	w.CreatedAt = parseTime(created)
	w.UpdatedAt = parseTime(updated)
	w.LastDeliveryAt = parseTime(last)
	return &w, nil
}

// parseTime returns the zero time for empty or malformed values.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
