package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteBackend stores namespaces in the cache_entries table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a backend over a migrated database.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Load reads every row of ns.
func (b *SQLiteBackend) Load(ctx context.Context, ns Namespace) (map[string]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT key, data, created_at FROM cache_entries WHERE namespace = ?
	`, string(ns))
	if err != nil {
		return nil, fmt.Errorf("querying cache entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := make(map[string]Entry)
	for rows.Next() {
		var key, data, createdAt string
		if err := rows.Scan(&key, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			// An unreadable timestamp can never be fresh; skip the row.
			continue
		}
		entries[key] = Entry{Data: []byte(data), Timestamp: ts}
	}
	return entries, rows.Err()
}

// Persist replaces ns with entries in a single transaction.
func (b *SQLiteBackend) Persist(ctx context.Context, ns Namespace, entries map[string]Entry) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, string(ns)); err != nil {
		return fmt.Errorf("clearing namespace: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_entries (namespace, key, data, created_at) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for key, e := range entries {
		data := string(e.Data)
		if e.IsNull() {
			data = "null"
		}
		if _, err := stmt.ExecContext(ctx, string(ns), key, data, e.Timestamp.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("inserting cache entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing namespace: %w", err)
	}
	return nil
}
